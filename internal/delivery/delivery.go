// Package delivery defines the downstream reminder deliverer capability and
// its webhook client implementation.
package delivery

import "context"

// Payload carries the event facts the deliverer needs.
type Payload struct {
	EventName    string `json:"eventName"`
	ReminderType string `json:"reminderType"`
	EventDate    string `json:"eventDate,omitempty"`
	EventTime    string `json:"eventTime,omitempty"`
}

// Deliverer invokes the downstream reminder delivery target once.
//
// Implementations must honor ctx and bound their own network timeouts.
// Retrying is the caller's concern (the dispatch pipeline).
type Deliverer interface {
	Deliver(ctx context.Context, p Payload) error
}

// Func adapts a function to the Deliverer interface.
type Func func(ctx context.Context, p Payload) error

func (f Func) Deliver(ctx context.Context, p Payload) error { return f(ctx, p) }
