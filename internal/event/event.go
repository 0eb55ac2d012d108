// Package event defines the submitted event record and its input validation.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DateLayout is the wire format for event dates.
	DateLayout = "2006-01-02"
	// ClockLayout is the wire format for event wall-clock times.
	ClockLayout = "15:04"
)

// Record is a user-submitted event. It is created once per submission and
// immutable after it is persisted.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Time      string    `json:"time"` // HH:MM
	CreatedAt time.Time `json:"created_at"`
}

// ValidationError names the input field a caller must fix.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Input is the inbound submission shape.
type Input struct {
	EventName string `json:"eventName"`
	EventDate string `json:"eventDate"`
	EventTime string `json:"eventTime"`
}

// NewRecord validates in and mints a Record with a fresh unique identifier.
// Identifiers are opaque; callers must not parse them.
func NewRecord(in Input, now time.Time) (Record, error) {
	name := strings.TrimSpace(in.EventName)
	if name == "" {
		return Record{}, &ValidationError{Field: "eventName", Reason: "required"}
	}
	date := strings.TrimSpace(in.EventDate)
	if date == "" {
		return Record{}, &ValidationError{Field: "eventDate", Reason: "required"}
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return Record{}, &ValidationError{Field: "eventDate", Reason: fmt.Sprintf("not a %s date: %q", DateLayout, date)}
	}
	clock := strings.TrimSpace(in.EventTime)
	if clock == "" {
		return Record{}, &ValidationError{Field: "eventTime", Reason: "required"}
	}
	if _, err := time.Parse(ClockLayout, clock); err != nil {
		return Record{}, &ValidationError{Field: "eventTime", Reason: fmt.Sprintf("not a HH:MM time: %q", clock)}
	}

	return Record{
		ID:        uuid.NewString(),
		Name:      name,
		Date:      date,
		Time:      clock,
		CreatedAt: now.UTC(),
	}, nil
}
