// Package local implements the single-call trigger backend on top of the
// in-process schedule service. A registered trigger becomes a one-shot timer
// whose job hands the payload to the dispatch pipeline, so fired reminders
// get the same retry and rate-limit treatment as immediate ones.
package local

import (
	"context"
	"fmt"
	"time"

	"remindd/internal/delivery"
	"remindd/internal/reminder"
	"remindd/internal/schedule"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// Sink receives the payload of a fired trigger.
type Sink interface {
	Enqueue(ctx context.Context, p delivery.Payload) error
}

type Backend struct {
	svc  *schedule.Service
	sink Sink
	log  logx.Logger
}

func New(svc *schedule.Service, sink Sink, log logx.Logger) *Backend {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Backend{svc: svc, sink: sink, log: log}
}

// Register arms a one-shot timer for def. Registering an existing name
// replaces the previous timer (create-or-replace semantics).
func (b *Backend) Register(ctx context.Context, def trigger.Def) error {
	_ = ctx // registration is local; nothing blocks

	// The expression is authoritative for the fire minute: decode it rather
	// than trusting def.At blindly, so a renderer/backend mismatch surfaces
	// here instead of as a silently wrong timer.
	expr, err := reminder.ParseOnce(def.Expression)
	if err != nil {
		return fmt.Errorf("register %s: %w", def.Name, err)
	}
	at := expr.FireTime()
	if want := def.At.UTC().Truncate(time.Minute); !at.Equal(want) {
		return fmt.Errorf("register %s: expression fires at %s, definition says %s", def.Name, at, want)
	}
	if !def.Enabled {
		// A disabled definition replaces (removes) any armed trigger.
		b.svc.Remove(def.Name)
		return nil
	}

	payload := def.Payload
	name := def.Name
	if err := b.svc.AddOnce(name, at, 0, func(jctx context.Context) error {
		return b.sink.Enqueue(jctx, payload)
	}); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	b.log.Debug("trigger armed", logx.String("name", name), logx.Time("at", at))
	return nil
}

func (b *Backend) Remove(ctx context.Context, name string) error {
	_ = ctx
	b.svc.Remove(name)
	return nil
}
