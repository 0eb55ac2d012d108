package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

// Config controls the schedule service.
type Config struct {
	// DefaultTimeout bounds a single job run when the caller passes 0.
	// 0 disables the global default.
	DefaultTimeout time.Duration
}

// Job is a unit of work fired by a timer or cron entry.
type Job func(ctx context.Context) error

type cronDef struct {
	id      string
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

// EntryInfo is a diagnostics view of a registered entry.
type EntryInfo struct {
	Name string
	Spec string // cron spec, or "once" with At set
	At   time.Time
	Next time.Time
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   []cronDef

	// runCtx is the base context for job runs; set on Start.
	runCtx    context.Context
	runCancel context.CancelFunc
	jobWG     sync.WaitGroup

	// One-time timers. Timers are runtime state; onceAt/onceJob are the
	// persistent definitions, so Stop/Start can rebuild them. Versions let a
	// stale timer callback detect that its name was replaced meanwhile.
	tmu         sync.Mutex
	timers      map[string]*time.Timer
	onceAt      map[string]time.Time
	onceTimeout map[string]time.Duration
	onceJob     map[string]Job
	onceVer     map[string]uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		bus: bus,
		// Descriptor allows "@hourly" style sweep schedules.
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers:      map[string]*time.Timer{},
		onceAt:      map[string]time.Time{},
		onceTimeout: map[string]time.Duration{},
		onceJob:     map[string]Job{},
		onceVer:     map[string]uint64{},
	}
}

// Start starts cron triggering and restores one-time timers.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)

	// One-shot expressions are UTC; the cron runner follows.
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()

	s.rebuildOnceTimersLocked()
	s.log.Info("schedule service started", logx.Int("cron", len(s.defs)), logx.Int("once", s.onceCount()))
}

// Stop stops cron triggering and all runtime one-time timers, then waits for
// in-flight jobs (bounded by ctx). Persisted once definitions remain so they
// resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.jobWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	s.log.Info("schedule service stopped", logx.Duration("took", time.Since(start)))
}

// AddCron registers a recurring job under name, replacing any previous entry
// with the same name.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	// Upsert by name to prevent duplicates across reloads or repeated registrations.
	_ = s.removeCronLocked(name)
	id := fmt.Sprintf("cron:%d", time.Now().UnixNano())
	d := cronDef{
		id:      id,
		name:    name,
		spec:    spec,
		timeout: s.resolveTimeout(timeout),
		job:     job,
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
			s.log.Error("cron register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
			return id, err
		}
		s.log.Debug("cron registered", logx.String("name", name), logx.String("spec", spec))
	}
	// Not started yet: keep the definition and register on Start().
	return id, nil
}

// AddOnce registers a one-shot job to fire at the given instant, replacing any
// previous entry with the same name. An instant already in the past fires
// immediately.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	resolved := s.resolveTimeout(timeout)

	s.tmu.Lock()
	// upsert: stop an existing timer with the same name
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
	}
	// bump version so stale callbacks from replaced timers are ignored
	ver := s.onceVer[name] + 1
	s.onceVer[name] = ver

	s.onceAt[name] = at
	s.onceTimeout[name] = resolved
	s.onceJob[name] = job

	s.armOnceLocked(name, at, ver)
	s.tmu.Unlock()

	s.log.Debug("once registered", logx.String("name", name), logx.Time("at", at))
	return nil
}

// Remove unschedules all entries with the given name. It returns true if
// something was removed. Safe to call when the service is not started.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false

	s.mu.Lock()
	removed = s.removeCronLocked(name) || removed
	s.mu.Unlock()

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
		removed = true
	}
	if _, ok := s.onceAt[name]; ok {
		delete(s.onceAt, name)
		delete(s.onceTimeout, name)
		delete(s.onceJob, name)
		delete(s.onceVer, name)
		removed = true
	}
	s.tmu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Has reports whether an entry (cron or once) exists under name.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	for _, d := range s.defs {
		if d.name == name {
			s.mu.Unlock()
			return true
		}
	}
	s.mu.Unlock()

	s.tmu.Lock()
	_, ok := s.onceAt[name]
	s.tmu.Unlock()
	return ok
}

// Entries returns a diagnostics snapshot of all registered entries.
func (s *Service) Entries() []EntryInfo {
	out := make([]EntryInfo, 0, 8)

	s.mu.Lock()
	for _, d := range s.defs {
		info := EntryInfo{Name: d.name, Spec: d.spec}
		if s.c != nil && d.entryID != 0 {
			info.Next = s.c.Entry(d.entryID).Next
		}
		out = append(out, info)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, at := range s.onceAt {
		out = append(out, EntryInfo{Name: name, Spec: "once", At: at, Next: at})
	}
	s.tmu.Unlock()
	return out
}

// ---- internals ----

func (s *Service) addCronLocked(d *cronDef) error {
	name, timeout, job := d.name, d.timeout, d.job
	eid, err := s.c.AddFunc(d.spec, func() {
		s.runJob(name, timeout, job)
	})
	if err == nil {
		d.entryID = eid
	}
	return err
}

func (s *Service) removeCronLocked(name string) bool {
	removed := false
	if s.c != nil {
		for i := range s.defs {
			if s.defs[i].name == name && s.defs[i].entryID != 0 {
				s.c.Remove(s.defs[i].entryID)
				s.defs[i].entryID = 0
				removed = true
			}
		}
	}
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

// armOnceLocked creates the runtime timer for a persisted once definition.
// Call with s.tmu held.
func (s *Service) armOnceLocked(name string, at time.Time, ver uint64) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		// If the entry was removed or replaced, ignore this callback.
		s.tmu.Lock()
		if s.onceVer[name] != ver {
			s.tmu.Unlock()
			return
		}
		job := s.onceJob[name]
		timeout := s.onceTimeout[name]
		// cleanup the persisted definition first (prevents double-fire on restart)
		delete(s.timers, name)
		delete(s.onceAt, name)
		delete(s.onceTimeout, name)
		delete(s.onceJob, name)
		delete(s.onceVer, name)
		s.tmu.Unlock()

		if job == nil {
			return
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTriggerFired, Data: name})
		}
		s.runJob(name, timeout, job)
	})
}

// rebuildOnceTimersLocked recreates runtime timers from persisted once
// definitions. Call with s.mu held.
func (s *Service) rebuildOnceTimersLocked() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}

	for name, at := range s.onceAt {
		if s.onceJob[name] == nil {
			delete(s.onceAt, name)
			delete(s.onceTimeout, name)
			delete(s.onceJob, name)
			delete(s.onceVer, name)
			continue
		}
		ver := s.onceVer[name]
		if ver == 0 {
			ver = 1
			s.onceVer[name] = ver
		}
		s.armOnceLocked(name, at, ver)
	}
}

func (s *Service) onceCount() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.onceAt)
}

// runJob executes a job asynchronously with timeout and panic recovery.
// One bad job must not take down the timer goroutine or the process.
func (s *Service) runJob(name string, timeout time.Duration, job Job) {
	s.mu.Lock()
	base := s.runCtx
	s.mu.Unlock()
	if base == nil {
		base = context.Background()
	}

	s.jobWG.Add(1)
	go func() {
		defer s.jobWG.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("job panicked",
					logx.String("job", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
			}
		}()

		ctx := base
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(base, timeout)
			defer cancel()
		}

		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Warn("job failed", logx.String("job", name), logx.Err(err), logx.Duration("dur", time.Since(start)))
			return
		}
		s.log.Debug("job completed", logx.String("job", name), logx.Duration("dur", time.Since(start)))
	}()
}

// resolveTimeout needs no locking: cfg is immutable after New.
func (s *Service) resolveTimeout(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return s.cfg.DefaultTimeout
}
