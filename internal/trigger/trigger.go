// Package trigger defines the one-shot trigger registration capability.
//
// Two backend shapes exist: a single-call in-process schedule service
// (trigger/local) and a remote rule+target scheduler needing two calls
// (trigger/rulesvc). Both are create-or-replace by name, so re-registering
// the same trigger is idempotent.
package trigger

import (
	"context"
	"time"

	"remindd/internal/delivery"
)

// Def is a one-shot trigger definition.
//
// Name is deterministic per (event, offset) and unique for the lifetime of an
// event identifier. Expression is the rendered one-shot UTC expression; At is
// the same instant in time.Time form (backends use whichever representation
// suits them). Triggers fire at the exact minute: there is no flexible
// time window.
type Def struct {
	Name       string
	Expression string
	At         time.Time
	Enabled    bool
	Payload    delivery.Payload
}

// Registrar registers one-shot triggers with a scheduler backend.
//
// Register is create-or-replace: registering an existing name replaces the
// previous definition rather than erroring or duplicating. Remove is
// best-effort cleanup; removing an unknown name is not an error.
type Registrar interface {
	Register(ctx context.Context, def Def) error
	Remove(ctx context.Context, name string) error
}
