package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoAndWait(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var ran atomic.Bool
	s.Go("ok", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ran.Load() {
		t.Fatal("goroutine did not run")
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after error")
	}
	if err := s.Err(); !errors.Is(err, boom) {
		t.Fatalf("Err = %v, want wrapped boom", err)
	}
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("panicky", func(ctx context.Context) error { panic("kaboom") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after panic")
	}
	if s.Err() == nil {
		t.Fatal("panic must surface as error")
	}
}

func TestCanceledErrorIsClean(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	s.Go("clean", func(ctx context.Context) error { return context.Canceled })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestGoRestartRestartsOnError(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("flappy", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("only %d runs before timeout", runs.Load())
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGoRestartMaxRestarts(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("hopeless", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	// Initial run + 2 restarts.
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestSnapshotCounters(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	block := make(chan struct{})
	s.Go0("held", func(ctx context.Context) { <-block })

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if snap.Started == 1 && snap.Active == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("counters = %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(block)
	_ = s.Stop(context.Background())
}
