package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
)

// ErrInvalidReading is returned when a reading fails validation. Invalid
// readings never enter the alert pipeline.
var ErrInvalidReading = errors.New("invalid reading")

// locationIDRe bounds location identifiers to a charset that is safe to embed
// in time-series queries.
var locationIDRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// RawEvent represents an unprocessed message from the readings topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Reading is a single water-level sample reported by a sensor node.
type Reading struct {
	LocationID string    `json:"location_id"`
	Value      float64   `json:"value"` // centimetres
	ObservedAt time.Time `json:"observed_at"`
}

// rawReading is the wire shape published by sensor gateways. Value is a
// pointer so a missing field can be told apart from a zero level.
type rawReading struct {
	LocationID string     `json:"location_id"`
	Value      *float64   `json:"value"`
	ObservedAt *time.Time `json:"observed_at"`
}

// ParseRawEvent decodes a readings-topic message into a validated Reading.
// Messages without an observation time fall back to the broker timestamp, then
// to the package clock.
func ParseRawEvent(raw RawEvent) (Reading, error) {
	r, err := DecodeReading(raw.Value)
	if err != nil {
		return Reading{}, err
	}
	if r.ObservedAt.IsZero() && !raw.Timestamp.IsZero() {
		r.ObservedAt = raw.Timestamp.UTC()
	}
	return r.Stamp(), nil
}

// DecodeReading parses and validates the JSON form of a reading.
func DecodeReading(data []byte) (Reading, error) {
	var rec rawReading
	if err := json.Unmarshal(data, &rec); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	if rec.Value == nil {
		return Reading{}, fmt.Errorf("%w: value is required", ErrInvalidReading)
	}

	r := Reading{LocationID: rec.LocationID, Value: *rec.Value}
	if rec.ObservedAt != nil {
		r.ObservedAt = rec.ObservedAt.UTC()
	}
	if err := r.Validate(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// Validate checks identifiers and the numeric value.
func (r Reading) Validate() error {
	if r.LocationID == "" {
		return fmt.Errorf("%w: location_id is required", ErrInvalidReading)
	}
	if !locationIDRe.MatchString(r.LocationID) {
		return fmt.Errorf("%w: malformed location_id %q", ErrInvalidReading, r.LocationID)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: value must be a finite number", ErrInvalidReading)
	}
	return nil
}

// Stamp fills a missing observation time from the package clock.
func (r Reading) Stamp() Reading {
	if r.ObservedAt.IsZero() {
		r.ObservedAt = clock.Now().UTC()
	}
	return r
}
