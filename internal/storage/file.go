package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "remindd/pkg/logx"
)

// fileStore is a dependency-light persistence backend.
//
// Files:
//   - <prefix>.events.snapshot.json (periodic snapshot)
//   - <prefix>.events.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. Deletes are
// journaled as records with Deleted set.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	events       map[string]EventRecord

	writes int
}

const compactEvery = 200

type journalRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Date      string `json:"date,omitempty"`
	Time      string `json:"time,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		log:          log,
		snapshotPath: prefix + ".events.snapshot.json",
		events:       map[string]EventRecord{},
	}

	if err := st.loadSnapshot(); err != nil {
		return nil, err
	}
	journalPath := prefix + ".events.journal.jsonl"
	if err := st.replayJournal(journalPath); err != nil {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	st.journalFile = jf
	return st, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var recs []journalRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		// A torn snapshot is not fatal; the journal still has the tail.
		s.log.Warn("event snapshot unreadable, ignoring", logx.Err(err))
		return nil
	}
	for _, r := range recs {
		s.apply(r)
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var r journalRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			// Torn tail writes happen on crash; skip and keep going.
			continue
		}
		s.apply(r)
	}
	return sc.Err()
}

func (s *fileStore) apply(r journalRecord) {
	if r.ID == "" {
		return
	}
	if r.Deleted {
		delete(s.events, r.ID)
		return
	}
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	s.events[r.ID] = EventRecord{ID: r.ID, Name: r.Name, Date: r.Date, Time: r.Time, CreatedAt: created}
}

func (s *fileStore) appendLocked(r journalRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := s.journalFile.Write(append(b, '\n')); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("event journal compaction failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes the current state as a snapshot and truncates the
// journal. Snapshot writes go through a temp file + rename.
func (s *fileStore) compactLocked() error {
	recs := make([]journalRecord, 0, len(s.events))
	for _, e := range s.events {
		recs = append(recs, journalRecord{
			ID: e.ID, Name: e.Name, Date: e.Date, Time: e.Time,
			CreatedAt: e.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	return s.journalFile.Truncate(0)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journalFile.Close(); err == nil {
		err = cerr
	}
	s.journalFile = nil
	return err
}

func (s *fileStore) PutEvent(ctx context.Context, rec EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return errors.New("event id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := eventInstant(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrDisabled
	}
	if err := s.appendLocked(journalRecord{
		ID: rec.ID, Name: rec.Name, Date: rec.Date, Time: rec.Time,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}
	s.events[rec.ID] = rec
	return nil
}

func (s *fileStore) GetEvent(ctx context.Context, id string) (EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return EventRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[id]
	if !ok {
		return EventRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *fileStore) ListEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventRecord, 0, len(s.events))
	for _, rec := range s.events {
		out = append(out, rec)
	}
	sortByInstant(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return 0, ErrDisabled
	}
	removed := 0
	for id, rec := range s.events {
		at, err := eventInstant(rec)
		if err != nil {
			continue
		}
		if at.Before(cutoff) {
			if err := s.appendLocked(journalRecord{ID: id, Deleted: true}); err != nil {
				return removed, err
			}
			delete(s.events, id)
			removed++
		}
	}
	return removed, nil
}

func sortByInstant(recs []EventRecord) {
	sort.Slice(recs, func(i, j int) bool {
		// The lexical date+time order matches chronological order for the
		// fixed layouts.
		return recs[i].Date+recs[i].Time < recs[j].Date+recs[j].Time
	})
}
