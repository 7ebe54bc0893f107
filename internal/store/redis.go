package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store with a Redis read-through cache for run
// summaries and pool snapshots. Archived runs are immutable, so writes only
// need to populate or drop the affected keys.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) ArchiveRun(ctx context.Context, a *RunArchive) error {
	if err := s.primary.ArchiveRun(ctx, a); err != nil {
		return err
	}
	s.cache(ctx, runKey(a.Run.ID), a.Run)
	s.rdb.Del(ctx, poolKey(a.Run.ID))
	return nil
}

func (s *CachedStore) SaveRun(ctx context.Context, run *RunRecord) error {
	if err := s.primary.SaveRun(ctx, run); err != nil {
		return err
	}
	s.cache(ctx, runKey(run.ID), run)
	return nil
}

func (s *CachedStore) SavePoolState(ctx context.Context, pool *PoolRecord) error {
	if err := s.primary.SavePoolState(ctx, pool); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(pool.RunID))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var r RunRecord
	if s.lookup(ctx, runKey(id), &r) {
		return &r, nil
	}

	run, err := s.primary.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, runKey(id), run)
	return run, nil
}

func (s *CachedStore) GetPoolState(ctx context.Context, runID string) (*PoolRecord, error) {
	var p PoolRecord
	if s.lookup(ctx, poolKey(runID), &p) {
		return &p, nil
	}

	pool, err := s.primary.GetPoolState(ctx, runID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, poolKey(runID), pool)
	return pool, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRuns(ctx context.Context) ([]RunRecord, error) {
	return s.primary.ListRuns(ctx)
}

func (s *CachedStore) GetIntervals(ctx context.Context, runID string) ([]IntervalRecord, error) {
	return s.primary.GetIntervals(ctx, runID)
}

func (s *CachedStore) InsertTrades(ctx context.Context, runID string, trades []TradeRecord) error {
	return s.primary.InsertTrades(ctx, runID, trades)
}

func (s *CachedStore) GetTrades(ctx context.Context, runID string) ([]TradeRecord, error) {
	return s.primary.GetTrades(ctx, runID)
}

func (s *CachedStore) SaveLedger(ctx context.Context, runID string, entries []LedgerRecord) error {
	return s.primary.SaveLedger(ctx, runID, entries)
}

func (s *CachedStore) GetLedgerEntry(ctx context.Context, runID string, household, interval int) (*LedgerRecord, error) {
	return s.primary.GetLedgerEntry(ctx, runID, household, interval)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func runKey(id string) string     { return fmt.Sprintf("run:%s", id) }
func poolKey(runID string) string { return fmt.Sprintf("pool:%s", runID) }
