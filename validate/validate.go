// Package validate checks event payloads against their feed type's schema.
//
// The rule set is closed: each feed type names the payload fields it
// requires and the constraints on them, and events for a feed of an unknown
// type are rejected outright.
package validate

import (
	"fmt"

	"github.com/hupe1980/feedpulse/model"
)

// Error describes a payload that failed validation.
type Error struct {
	FeedType model.FeedType
	Field    string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validate: %s payload field %q %s", e.FeedType, e.Field, e.Reason)
}

func fieldErr(t model.FeedType, field, reason string) error {
	return &Error{FeedType: t, Field: field, Reason: reason}
}

// number extracts a payload field as a float64. JSON decoding yields all
// numbers as float64, so that is the only numeric shape accepted.
func number(payload map[string]any, field string) (float64, bool) {
	v, ok := payload[field].(float64)
	return v, ok
}

func str(payload map[string]any, field string) (string, bool) {
	v, ok := payload[field].(string)
	return v, ok
}

// Payload validates an event payload against the schema of its feed's type.
func Payload(t model.FeedType, payload map[string]any) error {
	if payload == nil {
		return fieldErr(t, "", "payload must not be empty")
	}

	switch t {
	case model.FeedTypeTraffic:
		speed, ok := number(payload, "speed")
		if !ok {
			return fieldErr(t, "speed", "must be a number")
		}

		if speed < 0 {
			return fieldErr(t, "speed", "must not be negative")
		}

		if loc, ok := str(payload, "location"); !ok || loc == "" {
			return fieldErr(t, "location", "must be a non-empty string")
		}
	case model.FeedTypeWeather:
		if _, ok := number(payload, "temp"); !ok {
			return fieldErr(t, "temp", "must be a number")
		}

		if cond, ok := str(payload, "condition"); !ok || cond == "" {
			return fieldErr(t, "condition", "must be a non-empty string")
		}
	case model.FeedTypePublicSafety:
		if event, ok := str(payload, "event"); !ok || event == "" {
			return fieldErr(t, "event", "must be a non-empty string")
		}

		if unit, ok := str(payload, "unit"); !ok || unit == "" {
			return fieldErr(t, "unit", "must be a non-empty string")
		}
	case model.FeedTypeInfrastructure:
		if status, ok := str(payload, "status"); !ok || status == "" {
			return fieldErr(t, "status", "must be a non-empty string")
		}

		affected, ok := number(payload, "affected")
		if !ok {
			return fieldErr(t, "affected", "must be a number")
		}

		if affected < 0 {
			return fieldErr(t, "affected", "must not be negative")
		}
	default:
		return fieldErr(t, "", "unknown feed type")
	}

	return nil
}
