package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

// thresholdFile is the on-disk YAML layout:
//
//	thresholds:
//	  - severity: EMERGENCY
//	    min_level: 100
//	    cooldown: 60s
//	    alert_type: EMERGENCY
//	    message: "EMERGENCY: water level at {location} is {level}cm."
type thresholdFile struct {
	Thresholds []thresholdEntry `yaml:"thresholds"`
}

type thresholdEntry struct {
	Severity  string  `yaml:"severity"`
	MinLevel  float64 `yaml:"min_level"`
	Cooldown  string  `yaml:"cooldown"`
	AlertType string  `yaml:"alert_type"`
	Message   string  `yaml:"message"`
}

// LoadThresholds reads and validates a threshold table from a YAML file.
func LoadThresholds(path string) (domain.ThresholdTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds: %w", err)
	}
	return ParseThresholds(data)
}

// ParseThresholds decodes a YAML threshold table. Entries omitting alert_type
// or message inherit them from the default table for the same severity.
func ParseThresholds(data []byte) (domain.ThresholdTable, error) {
	var f thresholdFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}

	defaults := map[domain.Severity]domain.Threshold{}
	for _, th := range domain.DefaultThresholds() {
		defaults[th.Severity] = th
	}

	table := make(domain.ThresholdTable, 0, len(f.Thresholds))
	for i, e := range f.Thresholds {
		sev, err := domain.ParseSeverity(e.Severity)
		if err != nil {
			return nil, fmt.Errorf("threshold %d: %w", i, err)
		}
		cooldown, err := time.ParseDuration(e.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("threshold %s: invalid cooldown %q", sev, e.Cooldown)
		}

		th := domain.Threshold{
			Severity:  sev,
			MinLevel:  e.MinLevel,
			Cooldown:  cooldown,
			AlertType: e.AlertType,
			Template:  e.Message,
		}
		if th.AlertType == "" {
			th.AlertType = defaults[sev].AlertType
		}
		if th.Template == "" {
			th.Template = defaults[sev].Template
		}
		table = append(table, th)
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
