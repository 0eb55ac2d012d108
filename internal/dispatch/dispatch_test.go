package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindd/internal/delivery"
	logx "remindd/pkg/logx"
)

type captureDeliverer struct {
	mu    sync.Mutex
	got   []delivery.Payload
	fails int // fail the first N calls
	calls int
	fired chan struct{}
}

func (c *captureDeliverer) Deliver(_ context.Context, p delivery.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.fails {
		return errors.New("downstream unavailable")
	}
	c.got = append(c.got, p)
	if c.fired != nil {
		select {
		case c.fired <- struct{}{}:
		default:
		}
	}
	return nil
}

func (c *captureDeliverer) delivered() []delivery.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery.Payload(nil), c.got...)
}

func testConfig() Config {
	return Config{
		Enabled:    true,
		Workers:    2,
		QueueSize:  16,
		RatePerSec: 1000,
		RetryBase:  time.Millisecond,
	}
}

func TestEnqueueDelivers(t *testing.T) {
	t.Parallel()

	d := &captureDeliverer{fired: make(chan struct{}, 1)}
	s := New(testConfig(), d, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	p := delivery.Payload{EventName: "Board Meeting", ReminderType: "Immediate", EventDate: "2030-06-15", EventTime: "14:30"}
	if err := s.Enqueue(context.Background(), p); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-d.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("payload not delivered")
	}
	got := d.delivered()
	if len(got) != 1 || got[0] != p {
		t.Fatalf("delivered = %+v, want %+v", got, p)
	}
}

func TestEnqueueDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &captureDeliverer{}, logx.Nop(), nil)
	s.Start(context.Background())
	if err := s.Enqueue(context.Background(), delivery.Payload{}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), &captureDeliverer{}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Enqueue(context.Background(), delivery.Payload{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestRetryEventuallySucceeds(t *testing.T) {
	t.Parallel()

	d := &captureDeliverer{fails: 2, fired: make(chan struct{}, 1)}
	cfg := testConfig()
	cfg.RetryMax = 3
	s := New(cfg, d, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	if err := s.Enqueue(context.Background(), delivery.Payload{EventName: "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-d.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("payload not delivered after retries")
	}
	d.mu.Lock()
	calls := d.calls
	d.mu.Unlock()
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (two failures then success)", calls)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()

	d := &captureDeliverer{}
	s := New(testConfig(), d, logx.Nop(), nil)
	s.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(context.Background(), delivery.Payload{EventName: "e"}); err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := len(d.delivered()); got != 5 {
		t.Fatalf("delivered %d payloads, want 5", got)
	}
}

func TestRetryDelayBackoffBounds(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d < 0 || d > time.Duration(float64(time.Second)*1.3) {
			t.Fatalf("attempt %d: delay %v out of bounds", attempt, d)
		}
	}
}

func TestRetryDelayJitterVaries(t *testing.T) {
	t.Parallel()

	// Back-to-back calls must not all collapse to one delay, or concurrent
	// workers would retry in lockstep.
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	seen := make(map[time.Duration]bool)
	for i := 0; i < 64; i++ {
		seen[retryDelay(cfg, 2)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("64 delays produced %d distinct values, want jitter", len(seen))
	}
}
