// Package dispatch implements the asynchronous delivery pipeline:
// queue + worker pool + rate limit + retry with backoff.
//
// Reminder payloads are handed to Enqueue and delivered out-of-band, so
// submissions never wait on the downstream endpoint.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/delivery"
	"remindd/internal/eventbus"
	rtsup "remindd/internal/runtime/supervisor"
	logx "remindd/pkg/logx"
)

var (
	ErrDisabled  = errors.New("dispatch disabled")
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatch stopped")
)

// Config controls the pipeline. Zero values get sane defaults in Apply.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	CallTimeout   time.Duration
}

// Service is the pipeline. It is safe for concurrent use; Start and Stop
// are idempotent.
type Service struct {
	mu sync.Mutex

	log       logx.Logger
	deliverer delivery.Deliverer
	bus       eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	enqueueWG sync.WaitGroup

	queue    chan delivery.Payload
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping
}

func New(cfg Config, d delivery.Deliverer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{deliverer: d, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply updates tunables live. Worker/queue sizing takes effect on the
// next Start; rate and retry settings apply immediately.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan delivery.Payload, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "dispatch"))),
		// Delivery failures must never take down the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("dispatch worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		s.enqueueWG.Wait()
		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Enqueue accepts a payload for asynchronous delivery. It never blocks:
// a full queue returns ErrQueueFull.
func (s *Service) Enqueue(ctx context.Context, p delivery.Payload) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.enqueueWG.Add(1)
	s.mu.Unlock()
	defer s.enqueueWG.Done()

	select {
	case q <- p:
		s.publish(eventbus.TypeDispatchQueued, p, "")
		return nil
	default:
		s.publish(eventbus.TypeDispatchFailed, p, ErrQueueFull.Error())
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan delivery.Payload) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-q:
			if !ok {
				return
			}
			s.deliverWithRetry(ctx, p)
		}
	}
}

func (s *Service) deliverWithRetry(runCtx context.Context, p delivery.Payload) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	d := s.deliverer
	log := s.log
	s.mu.Unlock()

	if d == nil {
		return
	}

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(runCtx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(runCtx, cfg.CallTimeout)
		err := d.Deliver(callCtx, p)
		cancel()
		if err == nil {
			s.publish(eventbus.TypeDispatchSent, p, "")
			return
		}
		lastErr = err
		log.Debug("delivery failed",
			logx.Err(err),
			logx.String("event", p.EventName),
			logx.String("type", p.ReminderType),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	log.Error("delivery exhausted retries",
		logx.Err(lastErr),
		logx.String("event", p.EventName),
		logx.String("type", p.ReminderType))
	s.publish(eventbus.TypeDispatchFailed, p, lastErr.Error())
}

func (s *Service) publish(typ string, p delivery.Payload, errText string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: PipelineEvent{
		EventName:    p.EventName,
		ReminderType: p.ReminderType,
		At:           time.Now(),
		Error:        errText,
	}})
}

// PipelineEvent is emitted on the event bus for dispatch lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type PipelineEvent struct {
	EventName    string    `json:"event_name"`
	ReminderType string    `json:"reminder_type"`
	At           time.Time `json:"at"`
	Error        string    `json:"error,omitempty"`
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3. The shared source keeps concurrent workers from
	// computing identical delays.
	f := 0.7 + rand.Float64()*0.6
	return time.Duration(float64(d) * f)
}
