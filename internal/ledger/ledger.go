// Package ledger owns the durable position set: capacity enforcement,
// lifecycle transitions, and read-side summaries.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nileshpandit/optionflow/internal/gateway"
	"github.com/nileshpandit/optionflow/internal/models"
	"github.com/nileshpandit/optionflow/internal/storage"
)

// ErrCapacityExceeded is returned when opening a position would push the open
// count past the configured maximum.
var ErrCapacityExceeded = errors.New("maximum open positions reached")

// ErrInvalidTransition is returned when closing a position that is unknown or
// already closed. It is always surfaced, never swallowed: it guards against
// both programming errors and close/close races.
var ErrInvalidTransition = errors.New("invalid position transition")

// Summary aggregates closed-position results.
type Summary struct {
	ClosedTrades int     `json:"closed_trades"`
	OpenTrades   int     `json:"open_trades"`
	TotalPnL     float64 `json:"total_pnl"`
	WinRate      float64 `json:"win_rate"`
	AveragePnL   float64 `json:"average_pnl"`
}

// Ledger serializes mutations over a storage backend. The mutex makes the
// capacity-check-then-insert and read-then-transition sequences atomic;
// reads go straight to storage, which is itself concurrency-safe.
type Ledger struct {
	mu      sync.Mutex
	store   storage.Interface
	maxOpen int
	logger  *logrus.Logger
	now     func() time.Time
}

// New creates a Ledger enforcing the given open-position cap.
func New(store storage.Interface, maxOpen int, logger *logrus.Logger) *Ledger {
	return &Ledger{
		store:   store,
		maxOpen: maxOpen,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the ledger's clock (used in tests).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// AvailableCapacity returns how many more positions may be opened.
func (l *Ledger) AvailableCapacity() (int, error) {
	open, err := l.store.ByStatus(models.StatusOpen)
	if err != nil {
		return 0, fmt.Errorf("counting open positions: %w", err)
	}
	remaining := l.maxOpen - len(open)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Open records a new OPEN position for an acknowledged order. Callers should
// check AvailableCapacity before placing the order; this re-check closes the
// race between concurrent entries.
func (l *Ledger) Open(c models.Candidate, ack *gateway.OrderAck, quantity int) (*models.Position, error) {
	if ack == nil || ack.OrderID == "" {
		return nil, fmt.Errorf("cannot open position without an order acknowledgment")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	open, err := l.store.ByStatus(models.StatusOpen)
	if err != nil {
		return nil, fmt.Errorf("counting open positions: %w", err)
	}
	if len(open) >= l.maxOpen {
		return nil, fmt.Errorf("%w: %d open, max %d", ErrCapacityExceeded, len(open), l.maxOpen)
	}

	p := models.NewPosition(uuid.NewString(), ack.OrderID, c, quantity, ack.Paper, l.now())
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("new position invalid: %w", err)
	}
	if err := l.store.Insert(p); err != nil {
		return nil, fmt.Errorf("persisting position: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"position_id": p.ID,
		"symbol":      p.TradingSymbol,
		"entry_price": p.EntryPrice,
		"paper":       p.PaperTrade,
	}).Info("position opened")
	return p, nil
}

// Close transitions a position to CLOSED at the given exit price. A second
// close of the same position, or a close of an unknown id, fails with
// ErrInvalidTransition.
func (l *Ledger) Close(positionID string, exitPrice float64) (*models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.store.Get(positionID)
	if err != nil {
		if errors.Is(err, storage.ErrPositionNotFound) {
			return nil, fmt.Errorf("%w: unknown position %s", ErrInvalidTransition, positionID)
		}
		return nil, fmt.Errorf("loading position %s: %w", positionID, err)
	}
	if !p.IsOpen() {
		return nil, fmt.Errorf("%w: position %s already %s", ErrInvalidTransition, positionID, p.Status)
	}

	if err := p.Close(exitPrice, l.now()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	if err := l.store.Update(p); err != nil {
		return nil, fmt.Errorf("persisting close of %s: %w", positionID, err)
	}

	l.logger.WithFields(logrus.Fields{
		"position_id": p.ID,
		"symbol":      p.TradingSymbol,
		"exit_price":  exitPrice,
		"pnl":         *p.PnL,
	}).Info("position closed")
	return p, nil
}

// ListOpen returns all OPEN positions, newest entry first.
func (l *Ledger) ListOpen() ([]models.Position, error) {
	return l.store.ByStatus(models.StatusOpen)
}

// ListAll returns every position, newest entry first.
func (l *Ledger) ListAll() ([]models.Position, error) {
	return l.store.All()
}

// LatestSession returns the positions of the most recent entry session.
func (l *Ledger) LatestSession() ([]models.Position, error) {
	all, err := l.store.All()
	if err != nil {
		return nil, err
	}
	return models.LatestSession(all), nil
}

// Summarize aggregates closed-position statistics, optionally scoped to the
// calendar date (in the date's own location) that positions were entered.
func (l *Ledger) Summarize(date *time.Time) (*Summary, error) {
	var (
		positions []models.Position
		err       error
	)
	if date != nil {
		start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
		end := start.Add(24*time.Hour - time.Nanosecond)
		positions, err = l.store.ByEntryRange(start, end)
	} else {
		positions, err = l.store.All()
	}
	if err != nil {
		return nil, fmt.Errorf("loading positions: %w", err)
	}

	summary := &Summary{}
	var wins int
	for i := range positions {
		if positions[i].Status != models.StatusClosed {
			summary.OpenTrades++
			continue
		}
		summary.ClosedTrades++
		pnl := *positions[i].PnL
		summary.TotalPnL += pnl
		if pnl > 0 {
			wins++
		}
	}
	if summary.ClosedTrades > 0 {
		summary.WinRate = float64(wins) / float64(summary.ClosedTrades)
		summary.AveragePnL = summary.TotalPnL / float64(summary.ClosedTrades)
	}
	return summary, nil
}
