// Package store archives finished simulation runs for reporting.
// Implementations include PostgreSQL (durable archive), Redis (read-through
// cache) and in-memory (for testing). Runs never read their own state back
// from here.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a run, ledger row or pool snapshot is missing.
var ErrNotFound = errors.New("store: not found")

// Store is the archive interface. PostgreSQL is the durable copy;
// Redis provides a read-through cache layer.
type Store interface {
	// ArchiveRun stores a whole run atomically: on error nothing of it is
	// visible. Archiving an existing run id is an error.
	ArchiveRun(ctx context.Context, a *RunArchive) error

	// --- Runs ---

	// SaveRun persists a run summary. Saving an existing id is an error.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun retrieves a run summary by id.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns all run summaries, newest first.
	ListRuns(ctx context.Context) ([]RunRecord, error)

	// --- Intervals ---

	// GetIntervals returns a run's per-interval records in interval order.
	GetIntervals(ctx context.Context, runID string) ([]IntervalRecord, error)

	// --- Trades ---

	// InsertTrades appends a run's trade log.
	InsertTrades(ctx context.Context, runID string, trades []TradeRecord) error

	// GetTrades returns a run's trades ordered by interval, then insertion.
	GetTrades(ctx context.Context, runID string) ([]TradeRecord, error)

	// --- Ledger ---

	// SaveLedger stores a run's non-empty ledger rows.
	SaveLedger(ctx context.Context, runID string, entries []LedgerRecord) error

	// GetLedgerEntry returns one household's row for one interval. A row
	// that was never written reads as zero for a known run.
	GetLedgerEntry(ctx context.Context, runID string, household, interval int) (*LedgerRecord, error)

	// --- Pool ---

	// SavePoolState stores the final pool snapshot of an AMM run.
	SavePoolState(ctx context.Context, pool *PoolRecord) error

	// GetPoolState returns the pool snapshot of an AMM run.
	GetPoolState(ctx context.Context, runID string) (*PoolRecord, error)
}
