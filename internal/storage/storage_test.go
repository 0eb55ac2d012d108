package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "remindd/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "events.db")}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleEvent(id, date string) EventRecord {
	return EventRecord{
		ID:        id,
		Name:      "Board Meeting",
		Date:      date,
		Time:      "14:30",
		CreatedAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "file"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver)

			rec := sampleEvent("ev-1", "2030-06-15")
			if err := st.PutEvent(ctx, rec); err != nil {
				t.Fatalf("PutEvent: %v", err)
			}

			got, err := st.GetEvent(ctx, "ev-1")
			if err != nil {
				t.Fatalf("GetEvent: %v", err)
			}
			if got.ID != rec.ID || got.Name != rec.Name || got.Date != rec.Date || got.Time != rec.Time {
				t.Fatalf("got %+v, want %+v", got, rec)
			}

			if _, err := st.GetEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("GetEvent(missing) = %v, want ErrNotFound", err)
			}

			// Upsert by id.
			rec.Name = "Board Meeting (moved)"
			rec.Date = "2030-06-16"
			if err := st.PutEvent(ctx, rec); err != nil {
				t.Fatalf("PutEvent upsert: %v", err)
			}
			got, err = st.GetEvent(ctx, "ev-1")
			if err != nil {
				t.Fatalf("GetEvent after upsert: %v", err)
			}
			if got.Name != "Board Meeting (moved)" || got.Date != "2030-06-16" {
				t.Fatalf("upsert not applied: %+v", got)
			}
		})
	}
}

func TestPutEventRejectsMalformedInstant(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "file"} {
		st := openDriver(t, driver)
		rec := sampleEvent("bad", "15/06/2030")
		if err := st.PutEvent(context.Background(), rec); err == nil {
			t.Fatalf("%s: want error for malformed date", driver)
		}
	}
}

func TestListEventsOrderedByInstant(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "file"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver)

			for _, e := range []EventRecord{
				sampleEvent("later", "2030-09-01"),
				sampleEvent("sooner", "2030-02-01"),
				sampleEvent("middle", "2030-05-01"),
			} {
				if err := st.PutEvent(ctx, e); err != nil {
					t.Fatalf("PutEvent: %v", err)
				}
			}
			got, err := st.ListEvents(ctx, 10)
			if err != nil {
				t.Fatalf("ListEvents: %v", err)
			}
			want := []string{"sooner", "middle", "later"}
			if len(got) != len(want) {
				t.Fatalf("got %d events, want %d", len(got), len(want))
			}
			for i, id := range want {
				if got[i].ID != id {
					t.Fatalf("got[%d].ID = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestDeleteOlderThan(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "file"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver)

			for _, e := range []EventRecord{
				sampleEvent("old-1", "2029-01-01"),
				sampleEvent("old-2", "2029-06-01"),
				sampleEvent("current", "2030-06-15"),
			} {
				if err := st.PutEvent(ctx, e); err != nil {
					t.Fatalf("PutEvent: %v", err)
				}
			}

			n, err := st.DeleteOlderThan(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
			if err != nil {
				t.Fatalf("DeleteOlderThan: %v", err)
			}
			if n != 2 {
				t.Fatalf("removed %d, want 2", n)
			}
			if _, err := st.GetEvent(ctx, "old-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("old-1 still present: %v", err)
			}
			if _, err := st.GetEvent(ctx, "current"); err != nil {
				t.Fatalf("current event lost: %v", err)
			}
		})
	}
}

func TestFileDriverSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "events.db")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.PutEvent(ctx, sampleEvent("ev-1", "2030-06-15")); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent after reopen: %v", err)
	}
	if got.Name != "Board Meeting" {
		t.Fatalf("got %+v", got)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("want error for unknown driver")
	}
}
