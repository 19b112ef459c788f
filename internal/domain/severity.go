package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Severity is an ordered alert tier. The zero value means "no alert".
type Severity int

const (
	SeverityNone Severity = iota
	SeverityCaution
	SeverityWarning
	SeverityDanger
	SeverityEmergency
)

var severityNames = map[Severity]string{
	SeverityNone:      "NONE",
	SeverityCaution:   "CAUTION",
	SeverityWarning:   "WARNING",
	SeverityDanger:    "DANGER",
	SeverityEmergency: "EMERGENCY",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "Severity(" + strconv.Itoa(int(s)) + ")"
}

// ParseSeverity converts a tier name (case-insensitive) into a Severity.
func ParseSeverity(name string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range severityNames {
		if n == upper {
			return s, nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", name)
}

// MarshalText encodes the tier by name so JSON payloads stay readable.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a tier name.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Threshold binds a severity tier to its lower bound and cooldown window.
type Threshold struct {
	Severity  Severity
	MinLevel  float64 // centimetres, inclusive
	Cooldown  time.Duration
	AlertType string
	Template  string // {location} and {level} are substituted
}

// Classification is the classifier output for a single level.
type Classification struct {
	Severity  Severity
	AlertType string
	Template  string
}

// Alerting reports whether the classification should continue down the pipeline.
func (c Classification) Alerting() bool {
	return c.Severity != SeverityNone
}

// Message renders the tier template for a location and smoothed level.
func (c Classification) Message(locationID string, level float64) string {
	r := strings.NewReplacer(
		"{location}", locationID,
		"{level}", strconv.FormatFloat(level, 'f', -1, 64),
	)
	return r.Replace(c.Template)
}

// ThresholdTable is ordered from the highest threshold to the lowest.
type ThresholdTable []Threshold

// DefaultThresholds returns the stock water-level table.
func DefaultThresholds() ThresholdTable {
	return ThresholdTable{
		{
			Severity:  SeverityEmergency,
			MinLevel:  100,
			Cooldown:  60 * time.Second,
			AlertType: "EMERGENCY",
			Template:  "EMERGENCY: water level at {location} is {level}cm. Move to higher ground immediately.",
		},
		{
			Severity:  SeverityDanger,
			MinLevel:  60,
			Cooldown:  300 * time.Second,
			AlertType: "DANGER",
			Template:  "DANGER: water level at {location} is {level}cm. Prepare to evacuate.",
		},
		{
			Severity:  SeverityWarning,
			MinLevel:  40,
			Cooldown:  300 * time.Second,
			AlertType: "WARNING",
			Template:  "WARNING: water level at {location} is {level}cm. Flooding is possible.",
		},
		{
			Severity:  SeverityCaution,
			MinLevel:  20,
			Cooldown:  300 * time.Second,
			AlertType: "ALERT",
			Template:  "ALERT: water level at {location} is {level}cm. Stay tuned for updates.",
		},
	}
}

// Validate enforces strict ordering: severities and thresholds both strictly
// decrease down the table, and every tier has a positive cooldown.
func (t ThresholdTable) Validate() error {
	if len(t) == 0 {
		return errors.New("threshold table is empty")
	}
	for i, th := range t {
		if th.Severity == SeverityNone {
			return fmt.Errorf("threshold %d: severity NONE cannot carry a threshold", i)
		}
		if th.Cooldown <= 0 {
			return fmt.Errorf("threshold %s: cooldown must be positive", th.Severity)
		}
		if th.Template == "" {
			return fmt.Errorf("threshold %s: message template is required", th.Severity)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if th.Severity >= prev.Severity {
			return fmt.Errorf("threshold %s: severities must be listed highest first", th.Severity)
		}
		if th.MinLevel >= prev.MinLevel {
			return fmt.Errorf("threshold %s: level %.2f must be below %s level %.2f",
				th.Severity, th.MinLevel, prev.Severity, prev.MinLevel)
		}
	}
	return nil
}

// Classify maps a smoothed level to its tier. The highest threshold met wins;
// a level below every threshold yields SeverityNone.
func (t ThresholdTable) Classify(level float64) Classification {
	for _, th := range t {
		if level >= th.MinLevel {
			return Classification{
				Severity:  th.Severity,
				AlertType: th.AlertType,
				Template:  th.Template,
			}
		}
	}
	return Classification{Severity: SeverityNone}
}

// Cooldown returns the re-alert window for a tier, or zero when the tier is
// not in the table.
func (t ThresholdTable) Cooldown(s Severity) time.Duration {
	for _, th := range t {
		if th.Severity == s {
			return th.Cooldown
		}
	}
	return 0
}
