package quote

import (
	"encoding/json"
	"fmt"
)

// LeadTimeKind tags the LeadTime variant.
type LeadTimeKind string

const (
	LeadTimeInstant       LeadTimeKind = "instant"
	LeadTimeNotApplicable LeadTimeKind = "na"
	LeadTimeDays          LeadTimeKind = "days"
)

// LeadTime is instant, not applicable, or a number of days.
// Value is only meaningful for LeadTimeDays.
type LeadTime struct {
	Kind  LeadTimeKind
	Value int
}

// Instant returns the instant lead time.
func Instant() LeadTime { return LeadTime{Kind: LeadTimeInstant} }

// NotApplicable returns the n/a lead time.
func NotApplicable() LeadTime { return LeadTime{Kind: LeadTimeNotApplicable} }

// Days returns a lead time of n days.
func Days(n int) LeadTime { return LeadTime{Kind: LeadTimeDays, Value: n} }

type leadTimeWire struct {
	Kind  LeadTimeKind `json:"kind"`
	Value *int         `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (lt LeadTime) MarshalJSON() ([]byte, error) {
	wire := leadTimeWire{Kind: lt.Kind}
	if wire.Kind == "" {
		wire.Kind = LeadTimeNotApplicable
	}
	if wire.Kind == LeadTimeDays {
		v := lt.Value
		wire.Value = &v
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (lt *LeadTime) UnmarshalJSON(data []byte) error {
	var wire leadTimeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch wire.Kind {
	case LeadTimeInstant, LeadTimeNotApplicable:
		*lt = LeadTime{Kind: wire.Kind}
	case LeadTimeDays:
		if wire.Value == nil || *wire.Value < 0 {
			return fmt.Errorf("lead time days requires a non-negative value")
		}
		*lt = Days(*wire.Value)
	default:
		return fmt.Errorf("unknown lead time kind %q", wire.Kind)
	}
	return nil
}

// String renders the lead time the way the quote table shows it.
func (lt LeadTime) String() string {
	switch lt.Kind {
	case LeadTimeInstant:
		return "Instant"
	case LeadTimeDays:
		return fmt.Sprintf("%d days", lt.Value)
	default:
		return "N/A"
	}
}
