package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

type cellKey struct {
	run       string
	household int
	interval  int
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]*RunRecord
	intervals map[string][]IntervalRecord
	trades    map[string][]TradeRecord
	ledger    map[cellKey]LedgerRecord
	pools     map[string]*PoolRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*RunRecord),
		intervals: make(map[string][]IntervalRecord),
		trades:    make(map[string][]TradeRecord),
		ledger:    make(map[cellKey]LedgerRecord),
		pools:     make(map[string]*PoolRecord),
	}
}

// ArchiveRun writes every part of a under one lock.
func (s *MemoryStore) ArchiveRun(_ context.Context, a *RunArchive) error {
	if a == nil || a.Run == nil {
		return errors.New("store: archive without a run record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := a.Run.ID
	if _, ok := s.runs[id]; ok {
		return fmt.Errorf("run %s already exists", id)
	}
	cp := *a.Run
	s.runs[id] = &cp
	s.intervals[id] = append([]IntervalRecord(nil), a.Intervals...)
	s.trades[id] = append(s.trades[id], a.Trades...)
	for _, e := range a.Ledger {
		e.RunID = id
		s.ledger[cellKey{id, e.HouseholdID, e.Interval}] = e
	}
	if a.Pool != nil {
		p := *a.Pool
		s.pools[id] = &p
	}
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

func (s *MemoryStore) GetIntervals(_ context.Context, runID string) ([]IntervalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	out := append([]IntervalRecord(nil), s.intervals[runID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Interval < out[j].Interval })
	return out, nil
}

func (s *MemoryStore) InsertTrades(_ context.Context, runID string, trades []TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades[runID] = append(s.trades[runID], trades...)
	return nil
}

func (s *MemoryStore) GetTrades(_ context.Context, runID string) ([]TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]TradeRecord(nil), s.trades[runID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Interval < out[j].Interval })
	return out, nil
}

func (s *MemoryStore) SaveLedger(_ context.Context, runID string, entries []LedgerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		e.RunID = runID
		s.ledger[cellKey{runID, e.HouseholdID, e.Interval}] = e
	}
	return nil
}

func (s *MemoryStore) GetLedgerEntry(_ context.Context, runID string, household, interval int) (*LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if household < 0 || household >= run.Households || interval < 0 || interval >= run.Intervals {
		return nil, fmt.Errorf("ledger %s[%d,%d]: %w", runID, household, interval, ErrNotFound)
	}
	if e, ok := s.ledger[cellKey{runID, household, interval}]; ok {
		return &e, nil
	}
	return &LedgerRecord{RunID: runID, HouseholdID: household, Interval: interval}, nil
}

func (s *MemoryStore) SavePoolState(_ context.Context, pool *PoolRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pool
	s.pools[pool.RunID] = &cp
	return nil
}

func (s *MemoryStore) GetPoolState(_ context.Context, runID string) (*PoolRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[runID]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", runID, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}
