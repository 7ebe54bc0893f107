package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/p2psolar/market-engine/internal/ledger"
	"github.com/p2psolar/market-engine/internal/market"
	"github.com/p2psolar/market-engine/internal/model"
)

// RunRecord is the archived summary of one run.
type RunRecord struct {
	ID                 string             `json:"id"`
	Exchange           model.ExchangeType `json:"exchange"`
	Households         int                `json:"households"`
	Intervals          int                `json:"intervals"`
	Trades             int                `json:"trades"`
	Rejections         int                `json:"rejections"`
	Volume             decimal.Decimal    `json:"volume"`
	Value              decimal.Decimal    `json:"value"`
	AverageSellerPrice decimal.Decimal    `json:"average_seller_price"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at"`
}

// IntervalRecord is the archived outcome of one interval, including the
// volume-weighted price household sellers received.
type IntervalRecord struct {
	RunID                     string          `json:"run_id"`
	Interval                  int             `json:"interval"`
	Trades                    int             `json:"trades"`
	Rejections                int             `json:"rejections"`
	Volume                    decimal.Decimal `json:"volume"`
	Reason                    string          `json:"reason,omitempty"`
	AverageSellerPrice        decimal.Decimal `json:"average_seller_price"`
	RunningAverageSellerPrice decimal.Decimal `json:"running_average_seller_price"`
}

// RunArchive is everything one finished run writes to the store.
// Pool is nil for auction runs.
type RunArchive struct {
	Run       *RunRecord
	Intervals []IntervalRecord
	Trades    []TradeRecord
	Ledger    []LedgerRecord
	Pool      *PoolRecord
}

// TradeRecord is an archived trade.
type TradeRecord struct {
	ID        string             `json:"id"`
	RunID     string             `json:"run_id"`
	Interval  int                `json:"interval"`
	BuyerID   int                `json:"buyer_id"`
	SellerID  int                `json:"seller_id"`
	Quantity  decimal.Decimal    `json:"quantity"`
	UnitPrice decimal.Decimal    `json:"unit_price"`
	Exchange  model.ExchangeType `json:"exchange"`
}

// LedgerRecord is one archived ledger cell.
type LedgerRecord struct {
	RunID             string          `json:"run_id"`
	HouseholdID       int             `json:"household_id"`
	Interval          int             `json:"interval"`
	SoldQuantity      decimal.Decimal `json:"sold_quantity"`
	SoldRevenue       decimal.Decimal `json:"sold_revenue"`
	BoughtQuantity    decimal.Decimal `json:"bought_quantity"`
	BoughtExpenditure decimal.Decimal `json:"bought_expenditure"`
}

// PoolRecord is an archived pool snapshot.
type PoolRecord struct {
	RunID    string          `json:"run_id"`
	ReserveX decimal.Decimal `json:"reserve_x"`
	ReserveY decimal.Decimal `json:"reserve_y"`
	K        decimal.Decimal `json:"k"`
	LPTokens decimal.Decimal `json:"lp_tokens"`
	FeeRate  decimal.Decimal `json:"fee_rate"`
}

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// NewRunRecord summarises res.
func NewRunRecord(res *market.RunResult) *RunRecord {
	return &RunRecord{
		ID:                 res.RunID,
		Exchange:           res.Exchange,
		Households:         len(res.Households),
		Intervals:          len(res.Intervals),
		Trades:             res.Summary.Trades,
		Rejections:         res.Summary.Rejections,
		Volume:             d(res.Summary.Volume),
		Value:              d(res.Summary.Value),
		AverageSellerPrice: d(res.Summary.AverageSellerPrice),
		StartedAt:          res.StartedAt,
		FinishedAt:         res.FinishedAt,
	}
}

// NewIntervalRecords converts per-interval results.
func NewIntervalRecords(runID string, intervals []market.IntervalResult) []IntervalRecord {
	out := make([]IntervalRecord, len(intervals))
	for i, iv := range intervals {
		out[i] = IntervalRecord{
			RunID:                     runID,
			Interval:                  iv.Interval,
			Trades:                    len(iv.Trades),
			Rejections:                len(iv.Rejections),
			Volume:                    d(iv.Volume()),
			Reason:                    iv.Reason,
			AverageSellerPrice:        d(iv.AverageSellerPrice),
			RunningAverageSellerPrice: d(iv.RunningAverageSellerPrice),
		}
	}
	return out
}

// NewTradeRecords converts a trade log.
func NewTradeRecords(runID string, trades []model.Trade) []TradeRecord {
	out := make([]TradeRecord, len(trades))
	for i, tr := range trades {
		out[i] = TradeRecord{
			ID:        tr.ID,
			RunID:     runID,
			Interval:  tr.Interval,
			BuyerID:   tr.BuyerID,
			SellerID:  tr.SellerID,
			Quantity:  d(tr.Quantity),
			UnitPrice: d(tr.UnitPrice),
			Exchange:  tr.Exchange,
		}
	}
	return out
}

// NewLedgerRecords converts the non-zero cells of l.
func NewLedgerRecords(runID string, l *ledger.Ledger) []LedgerRecord {
	var out []LedgerRecord
	for h := 0; h < l.Households(); h++ {
		for t := 0; t < l.Intervals(); t++ {
			e, _ := l.Entry(h, t)
			if e.IsZero() {
				continue
			}
			out = append(out, LedgerRecord{
				RunID:             runID,
				HouseholdID:       h,
				Interval:          t,
				SoldQuantity:      d(e.SoldQuantity),
				SoldRevenue:       d(e.SoldRevenue),
				BoughtQuantity:    d(e.BoughtQuantity),
				BoughtExpenditure: d(e.BoughtExpenditure),
			})
		}
	}
	return out
}

// NewPoolRecord converts a pool snapshot.
func NewPoolRecord(runID string, p model.PoolState) *PoolRecord {
	return &PoolRecord{
		RunID:    runID,
		ReserveX: d(p.ReserveX),
		ReserveY: d(p.ReserveY),
		K:        d(p.K),
		LPTokens: d(p.LPTokens),
		FeeRate:  d(p.FeeRate),
	}
}

// NewRunArchive converts a finished run into its archive records.
func NewRunArchive(res *market.RunResult) *RunArchive {
	a := &RunArchive{
		Run:       NewRunRecord(res),
		Intervals: NewIntervalRecords(res.RunID, res.Intervals),
		Trades:    NewTradeRecords(res.RunID, res.Trades),
	}
	if res.Ledger != nil {
		a.Ledger = NewLedgerRecords(res.RunID, res.Ledger)
	}
	if res.Pool != nil {
		a.Pool = NewPoolRecord(res.RunID, *res.Pool)
	}
	return a
}

// Archive writes everything a finished run produced. Either all of it is
// stored or none of it.
func Archive(ctx context.Context, s Store, res *market.RunResult) error {
	return s.ArchiveRun(ctx, NewRunArchive(res))
}
