// Command thresholds checks a severity threshold table before it is deployed.
// It loads the table exactly as the service would, verifies that every tier
// boundary classifies as expected, and prints the tier and rendered message
// for a set of sample levels.
//
// Usage:
//
//	go run ./cmd/thresholds -file deploy/thresholds.yaml -levels 0,19.5,20,45,99.9,100
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/flood-alert-service/internal/config"
	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	file := flag.String("file", "", "threshold YAML file (default table when empty)")
	levels := flag.String("levels", "0,19,20,39,40,59,60,99,100,150", "comma-separated sample levels in cm")
	location := flag.String("location", "sample-location", "location id used to render messages")
	flag.Parse()

	os.Exit(run(*file, *levels, *location))
}

func run(file, levelList, location string) int {
	fmt.Println("=== Threshold Table Check ===")
	fmt.Println()

	table := domain.DefaultThresholds()
	if file != "" {
		loaded, err := config.LoadThresholds(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			return 1
		}
		table = loaded
	}

	samples, err := parseLevels(levelList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	printTable(table)

	phases := []*phase{
		checkBoundaries(table),
		checkMessages(table, location),
	}

	fmt.Println()
	fmt.Println("Sample classification:")
	for _, level := range samples {
		c := table.Classify(level)
		if !c.Alerting() {
			fmt.Printf("  %8s cm  %-10s\n", strconv.FormatFloat(level, 'f', -1, 64), c.Severity)
			continue
		}
		fmt.Printf("  %8s cm  %-10s %s\n", strconv.FormatFloat(level, 'f', -1, 64), c.Severity, c.Message(location, level))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nThreshold table OK.")
		return 0
	}
	fmt.Println("\nThreshold table FAILED.")
	return 1
}

func parseLevels(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func printTable(table domain.ThresholdTable) {
	fmt.Printf("  %-10s %10s %10s  %s\n", "SEVERITY", "MIN (cm)", "COOLDOWN", "ALERT TYPE")
	for _, th := range table {
		fmt.Printf("  %-10s %10s %10s  %s\n",
			th.Severity, strconv.FormatFloat(th.MinLevel, 'f', -1, 64), th.Cooldown, th.AlertType)
	}
}

// checkBoundaries verifies that each tier's lower bound classifies into the
// tier and that a value just below it does not.
func checkBoundaries(table domain.ThresholdTable) *phase {
	p := &phase{name: "Tier boundaries"}
	for _, th := range table {
		if got := table.Classify(th.MinLevel).Severity; got != th.Severity {
			p.errorf("%v cm classified as %s, want %s", th.MinLevel, got, th.Severity)
		}
		below := th.MinLevel - 0.5
		if got := table.Classify(below).Severity; got >= th.Severity {
			p.errorf("%v cm classified as %s, want below %s", below, got, th.Severity)
		}
	}
	lowest := table[len(table)-1]
	if got := table.Classify(lowest.MinLevel - 1).Severity; got != domain.SeverityNone {
		p.errorf("%v cm should not alert, got %s", lowest.MinLevel-1, got)
	}
	return p
}

// checkMessages verifies that every template renders the location and level.
func checkMessages(table domain.ThresholdTable, location string) *phase {
	p := &phase{name: "Message templates"}
	for _, th := range table {
		msg := table.Classify(th.MinLevel).Message(location, th.MinLevel)
		if !strings.Contains(msg, location) {
			p.errorf("%s template does not mention the location: %q", th.Severity, msg)
		}
		if strings.Contains(msg, "{") {
			p.errorf("%s template has an unknown placeholder: %q", th.Severity, msg)
		}
	}
	return p
}
