package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nileshpandit/optionflow/internal/gateway"
	"github.com/nileshpandit/optionflow/internal/ledger"
	"github.com/nileshpandit/optionflow/internal/marketdata"
	"github.com/nileshpandit/optionflow/internal/models"
)

// maxConcurrentOrders bounds the fan-out of a batch so a wide selection does
// not stampede the broker.
const maxConcurrentOrders = 4

// CandidateSource yields the contracts to enter. An empty result means "no
// signal" and is not an error.
type CandidateSource interface {
	Select(ctx context.Context) ([]models.Candidate, error)
}

// ItemOutcome records the result of one order attempt within a batch.
type ItemOutcome struct {
	Symbol     string
	PositionID string
	OrderID    string
	Degraded   bool
	Err        error
}

// BatchResult summarizes one entry or exit run.
type BatchResult struct {
	Kind      string
	StartedAt time.Time
	Duration  time.Duration
	Attempted int
	Succeeded int
	Failed    int
	Outcomes  []ItemOutcome
}

func (r *BatchResult) tally() {
	for _, o := range r.Outcomes {
		r.Attempted++
		if o.Err == nil {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}
}

// Engine executes entry and exit batches against the wired components.
type Engine struct {
	candidates CandidateSource
	gateway    gateway.Gateway
	ledger     *ledger.Ledger
	quotes     marketdata.QuoteSource
	quantity   int
	logger     *logrus.Logger
	now        func() time.Time
}

// NewEngine wires a batch engine. The quantity is the fixed per-order size.
func NewEngine(candidates CandidateSource, gw gateway.Gateway, led *ledger.Ledger,
	quotes marketdata.QuoteSource, quantity int, logger *logrus.Logger) *Engine {
	return &Engine{
		candidates: candidates,
		gateway:    gw,
		ledger:     led,
		quotes:     quotes,
		quantity:   quantity,
		logger:     logger,
		now:        time.Now,
	}
}

// RunEntry executes one entry batch: check capacity, select candidates, place
// one buy order per candidate, and record each fill as an open position. A
// failure on one order never blocks its siblings; an expired broker session
// aborts the whole batch.
func (e *Engine) RunEntry(ctx context.Context) (*BatchResult, error) {
	result := &BatchResult{Kind: "entry", StartedAt: e.now()}
	defer func() { result.Duration = e.now().Sub(result.StartedAt) }()

	capacity, err := e.ledger.AvailableCapacity()
	if err != nil {
		return result, fmt.Errorf("entry batch capacity check: %w", err)
	}
	if capacity == 0 {
		e.logger.Warn("entry batch skipped: no open-position capacity")
		return result, nil
	}

	candidates, err := e.candidates.Select(ctx)
	if err != nil {
		return result, fmt.Errorf("entry batch selection: %w", err)
	}
	if len(candidates) == 0 {
		e.logger.Info("entry batch complete: no candidates selected")
		return result, nil
	}
	if len(candidates) > capacity {
		e.logger.WithFields(logrus.Fields{
			"selected": len(candidates),
			"capacity": capacity,
		}).Warn("trimming entry batch to remaining capacity")
		candidates = candidates[:capacity]
	}

	outcomes := make([]ItemOutcome, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentOrders)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = e.enterOne(gctx, c)
			if errors.Is(outcomes[i].Err, gateway.ErrSessionExpired) {
				return outcomes[i].Err
			}
			return nil
		})
	}
	fatal := g.Wait()

	result.Outcomes = outcomes
	result.tally()
	e.logResult(result)
	if fatal != nil {
		return result, fmt.Errorf("entry batch aborted: %w", fatal)
	}
	return result, nil
}

func (e *Engine) enterOne(ctx context.Context, c models.Candidate) ItemOutcome {
	outcome := ItemOutcome{Symbol: c.TradingSymbol}

	ack, err := e.gateway.PlaceOrder(ctx, gateway.OrderRequest{
		TradingSymbol: c.TradingSymbol,
		Quantity:      e.quantity,
		Side:          gateway.SideBuy,
	})
	if err != nil {
		outcome.Err = fmt.Errorf("placing entry order: %w", err)
		e.logger.WithField("symbol", c.TradingSymbol).WithError(err).Error("entry order failed")
		return outcome
	}
	outcome.OrderID = ack.OrderID

	p, err := e.ledger.Open(c, ack, e.quantity)
	if err != nil {
		// The order went out but the position could not be recorded;
		// this needs operator attention, not a silent retry.
		outcome.Err = fmt.Errorf("recording position for order %s: %w", ack.OrderID, err)
		e.logger.WithFields(logrus.Fields{
			"symbol":   c.TradingSymbol,
			"order_id": ack.OrderID,
		}).WithError(err).Error("order placed but position not recorded")
		return outcome
	}
	outcome.PositionID = p.ID
	return outcome
}

// RunExit executes one exit batch: for every open position, fetch a current
// quote, place the opposing sell order, and close the position. A quote
// failure degrades that position's exit to its entry price (flat result)
// rather than leaving it open past the trigger.
func (e *Engine) RunExit(ctx context.Context) (*BatchResult, error) {
	result := &BatchResult{Kind: "exit", StartedAt: e.now()}
	defer func() { result.Duration = e.now().Sub(result.StartedAt) }()

	open, err := e.ledger.ListOpen()
	if err != nil {
		return result, fmt.Errorf("exit batch listing open positions: %w", err)
	}
	if len(open) == 0 {
		e.logger.Info("exit batch complete: no open positions")
		return result, nil
	}

	outcomes := make([]ItemOutcome, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentOrders)
	for i, p := range open {
		i, p := i, p
		g.Go(func() error {
			outcomes[i] = e.exitOne(gctx, p)
			if errors.Is(outcomes[i].Err, gateway.ErrSessionExpired) {
				return outcomes[i].Err
			}
			return nil
		})
	}
	fatal := g.Wait()

	result.Outcomes = outcomes
	result.tally()
	e.logResult(result)
	if fatal != nil {
		return result, fmt.Errorf("exit batch aborted: %w", fatal)
	}
	return result, nil
}

func (e *Engine) exitOne(ctx context.Context, p models.Position) ItemOutcome {
	outcome := ItemOutcome{Symbol: p.TradingSymbol, PositionID: p.ID}

	exitPrice, err := e.currentPrice(ctx, p)
	if err != nil {
		outcome.Degraded = true
		exitPrice = p.EntryPrice
		e.logger.WithFields(logrus.Fields{
			"position_id": p.ID,
			"symbol":      p.TradingSymbol,
		}).WithError(err).Warn("quote unavailable, closing at entry price")
	}

	ack, err := e.gateway.PlaceOrder(ctx, gateway.OrderRequest{
		TradingSymbol: p.TradingSymbol,
		Quantity:      p.Quantity,
		Side:          gateway.SideBuy.Opposite(),
	})
	if err != nil {
		outcome.Err = fmt.Errorf("placing exit order: %w", err)
		e.logger.WithFields(logrus.Fields{
			"position_id": p.ID,
			"symbol":      p.TradingSymbol,
		}).WithError(err).Error("exit order failed, position stays open")
		return outcome
	}
	outcome.OrderID = ack.OrderID

	if _, err := e.ledger.Close(p.ID, exitPrice); err != nil {
		outcome.Err = fmt.Errorf("closing position after order %s: %w", ack.OrderID, err)
		return outcome
	}
	return outcome
}

// currentPrice looks up the position's leg in a fresh option chain.
func (e *Engine) currentPrice(ctx context.Context, p models.Position) (float64, error) {
	chain, err := e.quotes.OptionChain(ctx, p.Instrument)
	if err != nil {
		return 0, err
	}
	quote, err := chain.Lookup(p.Strike, p.Class == models.ClassCall)
	if err != nil {
		return 0, err
	}
	return quote.LastPrice, nil
}

func (e *Engine) logResult(r *BatchResult) {
	e.logger.WithFields(logrus.Fields{
		"kind":      r.Kind,
		"attempted": r.Attempted,
		"succeeded": r.Succeeded,
		"failed":    r.Failed,
		"duration":  r.Duration.String(),
	}).Info("batch complete")
}
