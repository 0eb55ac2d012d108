package event

import (
	"errors"
	"testing"
	"time"
)

func TestNewRecordValid(t *testing.T) {
	t.Parallel()
	now := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	rec, err := NewRecord(Input{EventName: "Board Meeting", EventDate: "2030-06-10", EventTime: "09:00"}, now)
	if err != nil {
		t.Fatalf("NewRecord error: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected a generated identifier")
	}
	if rec.Name != "Board Meeting" || rec.Date != "2030-06-10" || rec.Time != "09:00" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want %v", rec.CreatedAt, now)
	}
}

func TestNewRecordUniqueIDs(t *testing.T) {
	t.Parallel()
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		rec, err := NewRecord(Input{EventName: "e", EventDate: "2030-01-01", EventTime: "12:00"}, now)
		if err != nil {
			t.Fatalf("NewRecord error: %v", err)
		}
		if seen[rec.ID] {
			t.Fatalf("duplicate identifier: %s", rec.ID)
		}
		seen[rec.ID] = true
	}
}

func TestNewRecordRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{name: "missing name", in: Input{EventDate: "2030-01-01", EventTime: "10:00"}, field: "eventName"},
		{name: "blank name", in: Input{EventName: "   ", EventDate: "2030-01-01", EventTime: "10:00"}, field: "eventName"},
		{name: "missing date", in: Input{EventName: "e", EventTime: "10:00"}, field: "eventDate"},
		{name: "bad date", in: Input{EventName: "e", EventDate: "01/20/2030", EventTime: "10:00"}, field: "eventDate"},
		{name: "missing time", in: Input{EventName: "e", EventDate: "2030-01-01"}, field: "eventTime"},
		{name: "bad time", in: Input{EventName: "e", EventDate: "2030-01-01", EventTime: "25:99"}, field: "eventTime"},
		{name: "all missing", in: Input{}, field: "eventName"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRecord(tt.in, time.Now())
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("Field = %s, want %s", verr.Field, tt.field)
			}
		})
	}
}
