package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClaimContention is returned by a store when every claim attempt lost a
// serialization race to another claimant.
var ErrClaimContention = errors.New("claim contention: retries exhausted")

// DeliveryStatus is the persisted state of a pending delivery row.
type DeliveryStatus int16

const (
	StatusPending DeliveryStatus = 0
	StatusSent    DeliveryStatus = 1
	StatusClaimed DeliveryStatus = 2
	StatusFailed  DeliveryStatus = 3
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSent:
		return "SENT"
	case StatusClaimed:
		return "CLAIMED"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("DeliveryStatus(%d)", int16(s))
	}
}

// Alert is an approved alert ready to be fanned out to subscribers.
type Alert struct {
	LocationID string
	Severity   Severity
	AlertType  string
	Level      float64 // smoothed, centimetres
	RawValue   float64
	Message    string
}

// Delivery is a claimed pending-delivery row together with the contact
// address of its subscriber. Deliverable is false when the subscriber was
// deactivated after the alert was enqueued.
type Delivery struct {
	ID           int64          `json:"id"`
	SubscriberID int64          `json:"subscriber_id"`
	Severity     Severity       `json:"severity"`
	WaterLevel   float64        `json:"water_level"`
	Message      string         `json:"message"`
	Status       DeliveryStatus `json:"delivery_status"`
	AttemptCount int            `json:"attempt_count"`
	Phone        string         `json:"phone,omitempty"`
	Deliverable  bool           `json:"deliverable"`
	ClaimedAt    time.Time      `json:"claimed_at"`
}

// Outcome is what a dispatcher reports after attempting a delivery.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeRetry  Outcome = "retry"
	OutcomeFailed Outcome = "failed"
)

// ParseOutcome validates an outcome name.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeSent, OutcomeRetry, OutcomeFailed:
		return o, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

// Ack is an acknowledgement of a claimed delivery.
// Claimant must match the claim currently held on the row.
type Ack struct {
	Claimant string
	Outcome  Outcome
	Error    string
}

// AckResult reports what an acknowledgement did to the row.
type AckResult string

const (
	AckSent     AckResult = "SENT"
	AckSkipped  AckResult = "SKIPPED"
	AckReleased AckResult = "RELEASED"
	AckFailed   AckResult = "FAILED"
)

// AlertEvent is published for downstream consumers once an alert has been
// enqueued.
type AlertEvent struct {
	LocationID string    `json:"location_id"`
	Severity   Severity  `json:"severity"`
	AlertType  string    `json:"alert_type"`
	WaterLevel float64   `json:"water_level"`
	RawValue   float64   `json:"raw_value"`
	Message    string    `json:"message"`
	Recipients int       `json:"recipients"`
	IssuedAt   time.Time `json:"issued_at"`
}
