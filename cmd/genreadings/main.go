// Command genreadings generates a synthetic flood hydrograph for one or more
// locations: water levels rise from a base level to a peak and recede again.
// The series is written as a JSON fixture and, when brokers are given,
// published to the readings topic so the whole alert pipeline can be
// exercised locally.
//
// Usage:
//
//	go run ./cmd/genreadings \
//	  -locations river-01,river-02 -peak 120 -steps 60 \
//	  -out data/mock/readings.json \
//	  -brokers localhost:9092 -topic water-level-readings
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-alert-service/internal/domain"
)

var baseDate = time.Date(2026, time.October, 17, 6, 0, 0, 0, time.UTC)

type series struct {
	base     float64
	peak     float64
	steps    int
	interval time.Duration
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	locations := flag.String("locations", "river-01", "comma-separated location ids")
	base := flag.Float64("base", 5, "water level before and after the flood, in cm")
	peak := flag.Float64("peak", 120, "peak water level in cm")
	steps := flag.Int("steps", 60, "readings per location")
	interval := flag.Duration("interval", 10*time.Second, "time between readings")
	out := flag.String("out", "", "output path for the JSON fixture")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers; publishing is skipped when empty")
	topic := flag.String("topic", "water-level-readings", "readings topic")
	flag.Parse()

	if *out == "" && *brokers == "" {
		flag.Usage()
		return fmt.Errorf("nothing to do: set -out and/or -brokers")
	}
	if *steps < 2 {
		return fmt.Errorf("-steps must be at least 2")
	}

	// Fixed clock for reproducible observation times.
	clock := clockwork.NewFakeClockAt(baseDate)
	domain.SetClock(clock)
	defer domain.SetClock(nil)

	s := series{base: *base, peak: *peak, steps: *steps, interval: *interval}
	var readings []domain.Reading
	for _, loc := range strings.Split(*locations, ",") {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		rs, err := generate(loc, s, domain.Now())
		if err != nil {
			return fmt.Errorf("location %s: %w", loc, err)
		}
		readings = append(readings, rs...)
		log.Printf("%s: %d readings", loc, len(rs))
	}

	if *out != "" {
		if err := writeJSON(*out, readings); err != nil {
			return fmt.Errorf("writing fixture: %w", err)
		}
		log.Printf("wrote fixture: %s", *out)
	}

	if *brokers != "" {
		if err := publish(strings.Split(*brokers, ","), *topic, readings); err != nil {
			return fmt.Errorf("publishing readings: %w", err)
		}
		log.Printf("published %d readings to %s", len(readings), *topic)
	}

	printStats(readings)
	return nil
}

// generate produces a triangular hydrograph with a little deterministic
// ripple so smoothing has something to do.
func generate(location string, s series, start time.Time) ([]domain.Reading, error) {
	out := make([]domain.Reading, 0, s.steps)
	mid := float64(s.steps-1) / 2
	for i := range s.steps {
		frac := 1 - math.Abs(float64(i)-mid)/mid
		level := s.base + (s.peak-s.base)*frac + 1.5*math.Sin(float64(i))
		r := domain.Reading{
			LocationID: location,
			Value:      math.Round(level*10) / 10,
			ObservedAt: start.Add(time.Duration(i) * s.interval),
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func publish(brokers []string, topic string, readings []domain.Reading) error {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	defer w.Close()

	msgs := make([]kafkago.Message, len(readings))
	for i, r := range readings {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		msgs[i] = kafkago.Message{Key: []byte(r.LocationID), Value: data, Time: r.ObservedAt}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return w.WriteMessages(ctx, msgs...)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

// printStats reports how many raw readings fall into each tier of the
// default table.
func printStats(readings []domain.Reading) {
	table := domain.DefaultThresholds()
	counts := map[domain.Severity]int{}
	for _, r := range readings {
		counts[table.Classify(r.Value).Severity]++
	}
	log.Printf("--- raw readings by tier ---")
	for s := domain.SeverityEmergency; s >= domain.SeverityNone; s-- {
		log.Printf("  %-10s %d", s, counts[s])
	}
}
