package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"dosebox/internal/storage"
	"dosebox/pkg/logx"
)

// RecordsKey is the KV key holding the JSON array of records.
const RecordsKey = "dose_records"

// Store persists the record set through a KV capability.
type Store struct {
	kv     storage.KV
	layout Layout
	log    logx.Logger

	mu  sync.Mutex
	seq sync.Mutex
}

func NewStore(kv storage.KV, layout Layout, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{kv: kv, layout: layout, log: log.With(logx.String("comp", "schedule"))}
}

// Load returns the persisted set. It never fails: missing or unreadable data
// yields the default set.
func (s *Store) Load(ctx context.Context) []DoseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// Save atomically replaces the persisted set.
func (s *Store) Save(ctx context.Context, recs []DoseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, recs)
}

// Update runs fn on a copy of the current set and saves the result when fn
// reports a change. The returned slice is the set as it stands after the call
// (the unchanged set if fn failed or made no change).
//
// If the save fails the persisted set is left as it was and a
// *PersistenceError is returned; callers must not act on the changes.
func (s *Store) Update(ctx context.Context, fn func(recs []DoseRecord) (changed bool, err error)) ([]DoseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.loadLocked(ctx)
	next := Clone(cur)
	changed, err := fn(next)
	if err != nil {
		return cur, err
	}
	if !changed {
		return cur, nil
	}
	if err := s.saveLocked(ctx, next); err != nil {
		return cur, err
	}
	return next, nil
}

// Sequence runs fn with the current set while holding the side-effect lock.
// Whoever acts outside the store on a transition it persisted (alarm sound,
// device commands, notifications) does so inside Sequence, so those effects
// never interleave and fn can drop work that a later transition made stale.
// fn must not call Sequence.
func (s *Store) Sequence(ctx context.Context, fn func(recs []DoseRecord)) {
	s.seq.Lock()
	defer s.seq.Unlock()
	fn(s.Load(ctx))
}

// UpdateIndex is Update for a single record.
func (s *Store) UpdateIndex(ctx context.Context, idx int, fn func(r *DoseRecord) bool) (DoseRecord, error) {
	var out DoseRecord
	_, err := s.Update(ctx, func(recs []DoseRecord) (bool, error) {
		if idx < 0 || idx >= len(recs) {
			return false, ErrUnknownIndex
		}
		changed := fn(&recs[idx])
		out = recs[idx]
		return changed, nil
	})
	return out, err
}

func (s *Store) loadLocked(ctx context.Context) []DoseRecord {
	raw, err := s.kv.Get(ctx, RecordsKey)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Info("no persisted records; using defaults")
		return Defaults(s.layout)
	}
	if err != nil {
		s.log.Warn("records unreadable; using defaults",
			logx.Err(&PersistenceError{Op: "load", Key: RecordsKey, Err: err}))
		return Defaults(s.layout)
	}

	var recs []DoseRecord
	if err := json.Unmarshal([]byte(raw), &recs); err != nil || len(recs) == 0 {
		if err == nil {
			err = errors.New("empty record set")
		}
		s.log.Warn("records corrupt; using defaults",
			logx.Err(&PersistenceError{Op: "load", Key: RecordsKey, Err: err}))
		return Defaults(s.layout)
	}
	return s.reconcile(recs)
}

// reconcile fits a persisted set to the configured compartment count and
// repairs records that break the active-implies-tracking rule.
func (s *Store) reconcile(recs []DoseRecord) []DoseRecord {
	if len(recs) < s.layout.Count {
		defs := Defaults(s.layout)
		s.log.Info("adding compartments", logx.Int("have", len(recs)), logx.Int("want", s.layout.Count))
		recs = append(recs, defs[len(recs):]...)
	} else if len(recs) > s.layout.Count {
		s.log.Warn("persisted set larger than configured; ignoring extra compartments",
			logx.Int("have", len(recs)), logx.Int("want", s.layout.Count))
		recs = recs[:s.layout.Count]
	}
	for i := range recs {
		r := &recs[i]
		if r.IsActive && (!r.IsTracking || r.LastActivationMs == nil) {
			s.log.Warn("repairing inconsistent record", logx.Int("index", i))
			r.IsActive = false
		}
		if !r.IsTracking && r.LastActivationMs != nil {
			r.LastActivationMs = nil
		}
	}
	return recs
}

func (s *Store) saveLocked(ctx context.Context, recs []DoseRecord) error {
	b, err := json.Marshal(recs)
	if err != nil {
		return &PersistenceError{Op: "save", Key: RecordsKey, Err: err}
	}
	if err := s.kv.Set(ctx, RecordsKey, string(b)); err != nil {
		return &PersistenceError{Op: "save", Key: RecordsKey, Err: err}
	}
	return nil
}
