// Package domain models water-level telemetry and the alert deliveries it
// produces.
//
// # Readings
//
// Sensor gateways publish one JSON object per sample:
//
//	{"location_id": "river-03", "value": 47.2, "observed_at": "2026-10-17T10:04:00Z"}
//
// Values are centimetres above the local datum. observed_at is optional; the
// broker timestamp (or the receive time on HTTP) is used when it is missing.
// Location identifiers are restricted to [A-Za-z0-9_.-] so they can be embedded
// in time-series queries without escaping surprises.
//
// # Severity tiers
//
// A smoothed level is classified against a strictly ordered threshold table,
// highest first, with an inclusive lower bound:
//
//	>= 100 cm  EMERGENCY  cooldown 60s
//	>=  60 cm  DANGER     cooldown 300s
//	>=  40 cm  WARNING    cooldown 300s
//	>=  20 cm  CAUTION    cooldown 300s  (alert type "ALERT")
//	 <  20 cm  NONE       no alert
//
// There is no hysteresis: exactly 100 is EMERGENCY.
//
// # Delivery lifecycle
//
// Each approved alert becomes one row per active subscriber:
//
//	PENDING --claim--> CLAIMED --ack sent--> SENT
//	                      |------ack retry--> PENDING (attempt_count+1)
//	                      |------ack failed / budget spent--> FAILED
//	                      `------claim expired (sweep)--> PENDING or FAILED
//
// Only the claim transaction moves a row out of PENDING, and acknowledgements
// only touch rows that are currently CLAIMED.
package domain
