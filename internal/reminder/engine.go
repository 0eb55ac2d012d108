package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"remindd/internal/delivery"
	"remindd/internal/event"
	"remindd/internal/eventbus"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// Dispatcher accepts payloads for asynchronous delivery.
type Dispatcher interface {
	Enqueue(ctx context.Context, p delivery.Payload) error
}

// SchedulingError reports a single offset that could not be registered.
// One failing offset never aborts the others.
type SchedulingError struct {
	Offset string
	Err    error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule %s: %v", e.Offset, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// Skip records an offset that was evaluated and intentionally not registered.
type Skip struct {
	Offset string `json:"offset"`
	Reason string `json:"reason"`
}

// Failure records an offset whose registration or dispatch was attempted
// and failed.
type Failure struct {
	Offset string `json:"offset"`
	Error  string `json:"error"`
}

// Report summarizes one scheduling pass over all offsets of an event.
//
// Registered lists every offset whose reminder is now in flight: for timed
// offsets a trigger was armed at the backend, for Immediate the payload was
// accepted by the dispatch pipeline (no trigger ever exists for Immediate).
type Report struct {
	EventID    string    `json:"eventId"`
	Registered []string  `json:"registered"`
	Skipped    []Skip    `json:"skipped"`
	Failed     []Failure `json:"failed"`
}

// Engine evaluates the reminder offsets for an event and registers the
// eligible ones with the trigger backend. The Immediate offset is never
// registered as a trigger: it goes straight to the dispatcher.
type Engine struct {
	reg  trigger.Registrar
	disp Dispatcher
	bus  eventbus.Bus
	log  logx.Logger
	now  func() time.Time
}

func NewEngine(reg trigger.Registrar, disp Dispatcher, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{reg: reg, disp: disp, bus: bus, log: log, now: time.Now}
}

// TriggerName returns the registrar-facing name for one offset of one event:
// the event identifier joined to the offset name. Names are stable, so
// re-scheduling an event replaces its triggers instead of stacking
// duplicates, and event identifiers are unique, so names never collide.
func TriggerName(eventID, offset string) string {
	return eventID + "-" + offset
}

// Schedule evaluates every offset for rec and registers the schedulable
// ones. Offsets are processed concurrently; the returned Report always
// accounts for all of them. The returned error is non-nil only when rec
// itself is unusable (malformed date or time), in which case nothing was
// registered.
func (e *Engine) Schedule(ctx context.Context, rec event.Record) (Report, error) {
	eventAt, err := ResolveInstant(rec.Date, rec.Time, 0)
	if err != nil {
		return Report{EventID: rec.ID}, err
	}
	now := e.now().UTC()

	rep := Report{EventID: rec.ID}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, spec := range Offsets() {
		spec := spec
		g.Go(func() error {
			candidate := eventAt.Add(spec.Offset)

			if spec.Immediate() {
				e.dispatchNow(gctx, rec, spec, &mu, &rep)
				return nil
			}

			if ok, reason := Schedulable(candidate, now, eventAt); !ok {
				e.log.Debug("reminder skipped",
					logx.String("event_id", rec.ID),
					logx.String("offset", spec.Name),
					logx.String("reason", reason))
				e.publish(eventbus.TypeReminderSkipped, rec.ID, spec.Name, reason)
				mu.Lock()
				rep.Skipped = append(rep.Skipped, Skip{Offset: spec.Name, Reason: reason})
				mu.Unlock()
				return nil
			}

			def := trigger.Def{
				Name:       TriggerName(rec.ID, spec.Name),
				Expression: RenderOnce(candidate).String(),
				At:         candidate,
				Enabled:    true,
				Payload: delivery.Payload{
					EventName:    rec.Name,
					ReminderType: spec.Name,
					EventDate:    rec.Date,
					EventTime:    rec.Time,
				},
			}
			if err := e.reg.Register(gctx, def); err != nil {
				serr := &SchedulingError{Offset: spec.Name, Err: err}
				e.log.Error("reminder registration failed",
					logx.String("event_id", rec.ID),
					logx.String("offset", spec.Name),
					logx.Err(err))
				e.publish(eventbus.TypeReminderFailed, rec.ID, spec.Name, err.Error())
				mu.Lock()
				rep.Failed = append(rep.Failed, Failure{Offset: spec.Name, Error: serr.Error()})
				mu.Unlock()
				return nil
			}

			e.log.Info("reminder registered",
				logx.String("event_id", rec.ID),
				logx.String("offset", spec.Name),
				logx.Time("at", candidate))
			e.publish(eventbus.TypeReminderRegistered, rec.ID, spec.Name, candidate.Format(time.RFC3339))
			mu.Lock()
			rep.Registered = append(rep.Registered, spec.Name)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // workers report through rep, never through errors

	sortReport(&rep)
	return rep, nil
}

// Unschedule removes every trigger that Schedule may have registered for
// the event. Missing triggers are not an error.
func (e *Engine) Unschedule(ctx context.Context, eventID string) error {
	var first error
	for _, spec := range Offsets() {
		if spec.Immediate() {
			continue
		}
		if err := e.reg.Remove(ctx, TriggerName(eventID, spec.Name)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (e *Engine) dispatchNow(ctx context.Context, rec event.Record, spec OffsetSpec, mu *sync.Mutex, rep *Report) {
	p := delivery.Payload{
		EventName:    rec.Name,
		ReminderType: spec.Name,
		EventDate:    rec.Date,
		EventTime:    rec.Time,
	}
	if err := e.disp.Enqueue(ctx, p); err != nil {
		e.log.Error("immediate dispatch failed",
			logx.String("event_id", rec.ID),
			logx.Err(err))
		e.publish(eventbus.TypeReminderFailed, rec.ID, spec.Name, err.Error())
		mu.Lock()
		rep.Failed = append(rep.Failed, Failure{Offset: spec.Name, Error: err.Error()})
		mu.Unlock()
		return
	}
	mu.Lock()
	rep.Registered = append(rep.Registered, spec.Name)
	mu.Unlock()
}

func (e *Engine) publish(typ, eventID, offset, detail string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Type: typ,
		Data: map[string]string{
			"event_id": eventID,
			"offset":   offset,
			"detail":   detail,
		},
	})
}

// sortReport orders the slices by the canonical offset order so reports
// are deterministic despite concurrent evaluation.
func sortReport(rep *Report) {
	rank := make(map[string]int, 4)
	for i, spec := range Offsets() {
		rank[spec.Name] = i
	}
	sort.Slice(rep.Registered, func(i, j int) bool { return rank[rep.Registered[i]] < rank[rep.Registered[j]] })
	sort.Slice(rep.Skipped, func(i, j int) bool { return rank[rep.Skipped[i].Offset] < rank[rep.Skipped[j].Offset] })
	sort.Slice(rep.Failed, func(i, j int) bool { return rank[rep.Failed[i].Offset] < rank[rep.Failed[j].Offset] })
}
