// Package feed computes live valuation snapshots and pushes them to
// websocket subscribers alongside a small reporting API.
package feed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nileshpandit/optionflow/internal/ledger"
	"github.com/nileshpandit/optionflow/internal/marketdata"
	"github.com/nileshpandit/optionflow/internal/models"
)

// maxConcurrentQuotes bounds chain fetches per snapshot.
const maxConcurrentQuotes = 4

// Scope selects which positions a snapshot covers.
type Scope string

const (
	// ScopeSession covers the most recent entry session, open and closed.
	ScopeSession Scope = "session"
	// ScopeOpen covers every open position regardless of session.
	ScopeOpen Scope = "open"
)

// Valid returns true for a defined scope.
func (s Scope) Valid() bool {
	return s == ScopeSession || s == ScopeOpen
}

// PositionValuation is one position's mark within a snapshot. QuoteStale is
// set when no fresh quote was available and the mark fell back to the entry
// price with a zero unrealized P&L.
type PositionValuation struct {
	PositionID    string        `json:"position_id"`
	TradingSymbol string        `json:"trading_symbol"`
	Status        models.Status `json:"status"`
	Quantity      int           `json:"quantity"`
	EntryPrice    float64       `json:"entry_price"`
	CurrentPrice  float64       `json:"current_price"`
	PnL           float64       `json:"pnl"`
	QuoteStale    bool          `json:"quote_stale,omitempty"`
	QuoteError    string        `json:"quote_error,omitempty"`
}

// Snapshot is one valuation of the scoped position set.
type Snapshot struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Scope       Scope               `json:"scope"`
	Positions   []PositionValuation `json:"positions"`
	TotalPnL    float64             `json:"total_pnl"`
}

// Valuator builds snapshots from the ledger and live option chains.
type Valuator struct {
	ledger *ledger.Ledger
	quotes marketdata.QuoteSource
	logger *logrus.Logger
	now    func() time.Time
}

// NewValuator creates a Valuator.
func NewValuator(led *ledger.Ledger, quotes marketdata.QuoteSource, logger *logrus.Logger) *Valuator {
	return &Valuator{ledger: led, quotes: quotes, logger: logger, now: time.Now}
}

// Snapshot values the scoped positions. Closed positions are reported from
// their recorded exit, never re-quoted. A quote failure on one position marks
// that entry stale without failing the snapshot.
func (v *Valuator) Snapshot(ctx context.Context, scope Scope) (*Snapshot, error) {
	positions, err := v.scoped(scope)
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		GeneratedAt: v.now().UTC(),
		Scope:       scope,
		Positions:   make([]PositionValuation, len(positions)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuotes)
	for i, p := range positions {
		i, p := i, p
		g.Go(func() error {
			snapshot.Positions[i] = v.value(gctx, p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range snapshot.Positions {
		snapshot.TotalPnL += snapshot.Positions[i].PnL
	}
	return snapshot, nil
}

func (v *Valuator) scoped(scope Scope) ([]models.Position, error) {
	if scope == ScopeOpen {
		return v.ledger.ListOpen()
	}
	return v.ledger.LatestSession()
}

func (v *Valuator) value(ctx context.Context, p models.Position) PositionValuation {
	val := PositionValuation{
		PositionID:    p.ID,
		TradingSymbol: p.TradingSymbol,
		Status:        p.Status,
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
	}

	if p.Status == models.StatusClosed {
		val.CurrentPrice = *p.ExitPrice
		val.PnL = *p.PnL
		return val
	}

	price, err := v.mark(ctx, p)
	if err != nil {
		val.CurrentPrice = p.EntryPrice
		val.QuoteStale = true
		val.QuoteError = err.Error()
		v.logger.WithFields(logrus.Fields{
			"position_id": p.ID,
			"symbol":      p.TradingSymbol,
		}).WithError(err).Warn("valuation quote unavailable, marking at entry")
		return val
	}
	val.CurrentPrice = price
	val.PnL = (price - p.EntryPrice) * float64(p.Quantity)
	return val
}

func (v *Valuator) mark(ctx context.Context, p models.Position) (float64, error) {
	chain, err := v.quotes.OptionChain(ctx, p.Instrument)
	if err != nil {
		return 0, err
	}
	quote, err := chain.Lookup(p.Strike, p.Class == models.ClassCall)
	if err != nil {
		return 0, err
	}
	return quote.LastPrice, nil
}
