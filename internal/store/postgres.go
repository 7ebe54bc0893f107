package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store on PostgreSQL.
// All quantities and prices are stored as NUMERIC and travel as decimal strings.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the archive tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// ArchiveRun writes the run, its intervals, trades, ledger rows and pool
// snapshot in a single transaction.
func (s *PostgresStore) ArchiveRun(ctx context.Context, a *RunArchive) error {
	if a == nil || a.Run == nil {
		return errors.New("store: archive without a run record")
	}
	batch := &pgx.Batch{}
	queueRun(batch, a.Run)
	queueIntervals(batch, a.Run.ID, a.Intervals)
	queueTrades(batch, a.Run.ID, a.Trades)
	queueLedger(batch, a.Run.ID, a.Ledger)
	if a.Pool != nil {
		queuePool(batch, a.Pool)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("archive run %s: %w", a.Run.ID, err)
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, r *RunRecord) error {
	batch := &pgx.Batch{}
	queueRun(batch, r)
	return s.sendBatch(ctx, batch)
}

func queueRun(batch *pgx.Batch, r *RunRecord) {
	batch.Queue(
		`INSERT INTO runs (id, exchange, households, intervals, trades, rejections,
		                   volume, value, average_seller_price, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		r.ID, r.Exchange, r.Households, r.Intervals, r.Trades, r.Rejections,
		r.Volume.String(), r.Value.String(), r.AverageSellerPrice.String(),
		r.StartedAt, r.FinishedAt,
	)
}

func queueIntervals(batch *pgx.Batch, runID string, intervals []IntervalRecord) {
	for _, iv := range intervals {
		batch.Queue(
			`INSERT INTO interval_results (run_id, interval_idx, trades, rejections, volume, reason,
			                              average_seller_price, running_average_seller_price)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC)`,
			runID, iv.Interval, iv.Trades, iv.Rejections, iv.Volume.String(), iv.Reason,
			iv.AverageSellerPrice.String(), iv.RunningAverageSellerPrice.String(),
		)
	}
}

func (s *PostgresStore) GetIntervals(ctx context.Context, runID string) ([]IntervalRecord, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT interval_idx, trades, rejections, volume::TEXT, reason,
		        average_seller_price::TEXT, running_average_seller_price::TEXT
		 FROM interval_results WHERE run_id = $1 ORDER BY interval_idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IntervalRecord
	for rows.Next() {
		iv := IntervalRecord{RunID: runID}
		var volume, avg, running string
		if err := rows.Scan(&iv.Interval, &iv.Trades, &iv.Rejections, &volume, &iv.Reason,
			&avg, &running); err != nil {
			return nil, err
		}
		iv.Volume, _ = decimal.NewFromString(volume)
		iv.AverageSellerPrice, _ = decimal.NewFromString(avg)
		iv.RunningAverageSellerPrice, _ = decimal.NewFromString(running)
		out = append(out, iv)
	}
	return out, rows.Err()
}

const runColumns = `id, exchange, households, intervals, trades, rejections,
	volume::TEXT, value::TEXT, average_seller_price::TEXT, started_at, finished_at`

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*RunRecord, error) {
	var r RunRecord
	var volume, value, avg string
	if err := row.Scan(&r.ID, &r.Exchange, &r.Households, &r.Intervals, &r.Trades, &r.Rejections,
		&volume, &value, &avg, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Volume, _ = decimal.NewFromString(volume)
	r.Value, _ = decimal.NewFromString(value)
	r.AverageSellerPrice, _ = decimal.NewFromString(avg)
	return &r, nil
}

// InsertTrades writes a trade log in one transaction.
func (s *PostgresStore) InsertTrades(ctx context.Context, runID string, trades []TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queueTrades(batch, runID, trades)
	return s.sendBatch(ctx, batch)
}

func queueTrades(batch *pgx.Batch, runID string, trades []TradeRecord) {
	for _, t := range trades {
		batch.Queue(
			`INSERT INTO trades (id, run_id, interval_idx, buyer_id, seller_id, quantity, unit_price, exchange)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
			t.ID, runID, t.Interval, t.BuyerID, t.SellerID,
			t.Quantity.String(), t.UnitPrice.String(), t.Exchange,
		)
	}
}

func (s *PostgresStore) GetTrades(ctx context.Context, runID string) ([]TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, interval_idx, buyer_id, seller_id,
		        quantity::TEXT, unit_price::TEXT, exchange
		 FROM trades WHERE run_id = $1 ORDER BY interval_idx, seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var qty, price string
		if err := rows.Scan(&t.ID, &t.RunID, &t.Interval, &t.BuyerID, &t.SellerID,
			&qty, &price, &t.Exchange); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qty)
		t.UnitPrice, _ = decimal.NewFromString(price)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) SaveLedger(ctx context.Context, runID string, entries []LedgerRecord) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	queueLedger(batch, runID, entries)
	return s.sendBatch(ctx, batch)
}

func queueLedger(batch *pgx.Batch, runID string, entries []LedgerRecord) {
	for _, e := range entries {
		batch.Queue(
			`INSERT INTO ledger_entries (run_id, household_id, interval_idx,
			                            sold_quantity, sold_revenue, bought_quantity, bought_expenditure)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)
			 ON CONFLICT (run_id, household_id, interval_idx) DO UPDATE
			 SET sold_quantity = EXCLUDED.sold_quantity, sold_revenue = EXCLUDED.sold_revenue,
			     bought_quantity = EXCLUDED.bought_quantity, bought_expenditure = EXCLUDED.bought_expenditure`,
			runID, e.HouseholdID, e.Interval,
			e.SoldQuantity.String(), e.SoldRevenue.String(),
			e.BoughtQuantity.String(), e.BoughtExpenditure.String(),
		)
	}
}

func (s *PostgresStore) GetLedgerEntry(ctx context.Context, runID string, household, interval int) (*LedgerRecord, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if household < 0 || household >= run.Households || interval < 0 || interval >= run.Intervals {
		return nil, fmt.Errorf("ledger %s[%d,%d]: %w", runID, household, interval, ErrNotFound)
	}

	e := LedgerRecord{RunID: runID, HouseholdID: household, Interval: interval}
	var soldQ, soldR, boughtQ, boughtE string
	err = s.pool.QueryRow(ctx,
		`SELECT sold_quantity::TEXT, sold_revenue::TEXT, bought_quantity::TEXT, bought_expenditure::TEXT
		 FROM ledger_entries WHERE run_id = $1 AND household_id = $2 AND interval_idx = $3`,
		runID, household, interval).Scan(&soldQ, &soldR, &boughtQ, &boughtE)
	if errors.Is(err, pgx.ErrNoRows) {
		return &e, nil
	}
	if err != nil {
		return nil, err
	}

	e.SoldQuantity, _ = decimal.NewFromString(soldQ)
	e.SoldRevenue, _ = decimal.NewFromString(soldR)
	e.BoughtQuantity, _ = decimal.NewFromString(boughtQ)
	e.BoughtExpenditure, _ = decimal.NewFromString(boughtE)
	return &e, nil
}

func (s *PostgresStore) SavePoolState(ctx context.Context, p *PoolRecord) error {
	batch := &pgx.Batch{}
	queuePool(batch, p)
	return s.sendBatch(ctx, batch)
}

func queuePool(batch *pgx.Batch, p *PoolRecord) {
	batch.Queue(
		`INSERT INTO pool_states (run_id, reserve_x, reserve_y, k, lp_tokens, fee_rate)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)
		 ON CONFLICT (run_id) DO UPDATE
		 SET reserve_x = EXCLUDED.reserve_x, reserve_y = EXCLUDED.reserve_y, k = EXCLUDED.k,
		     lp_tokens = EXCLUDED.lp_tokens, fee_rate = EXCLUDED.fee_rate`,
		p.RunID, p.ReserveX.String(), p.ReserveY.String(), p.K.String(),
		p.LPTokens.String(), p.FeeRate.String(),
	)
}

func (s *PostgresStore) GetPoolState(ctx context.Context, runID string) (*PoolRecord, error) {
	p := PoolRecord{RunID: runID}
	var x, y, k, lp, fee string
	err := s.pool.QueryRow(ctx,
		`SELECT reserve_x::TEXT, reserve_y::TEXT, k::TEXT, lp_tokens::TEXT, fee_rate::TEXT
		 FROM pool_states WHERE run_id = $1`, runID).Scan(&x, &y, &k, &lp, &fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	p.ReserveX, _ = decimal.NewFromString(x)
	p.ReserveY, _ = decimal.NewFromString(y)
	p.K, _ = decimal.NewFromString(k)
	p.LPTokens, _ = decimal.NewFromString(lp)
	p.FeeRate, _ = decimal.NewFromString(fee)
	return &p, nil
}

func (s *PostgresStore) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
