// Package models provides data structures for option candidates and trading positions.
package models

import (
	"fmt"
	"time"
)

// OptionClass identifies a contract as a call or a put, using the
// broker's two-letter encoding.
type OptionClass string

const (
	// ClassCall represents a call option contract (CE).
	ClassCall OptionClass = "CE"
	// ClassPut represents a put option contract (PE).
	ClassPut OptionClass = "PE"
)

// Valid returns true if the OptionClass is one of the defined constants.
func (c OptionClass) Valid() bool {
	switch c {
	case ClassCall, ClassPut:
		return true
	default:
		return false
	}
}

// ClassFromSource maps the market-data feed's "Call"/"Put" labels to the
// broker encoding. Unknown labels return false.
func ClassFromSource(label string) (OptionClass, bool) {
	switch label {
	case "Call":
		return ClassCall, true
	case "Put":
		return ClassPut, true
	default:
		return "", false
	}
}

// Candidate is a transient record describing a contract under consideration
// for entry. Candidates are produced by the selector, consumed once by the
// order gateway, and never persisted.
type Candidate struct {
	Identifier    string      `json:"identifier"`
	Instrument    string      `json:"instrument"`
	TradingSymbol string      `json:"trading_symbol"`
	Strike        float64     `json:"strike"`
	Class         OptionClass `json:"class"`
	Expiry        string      `json:"expiry"` // source format: yyyy-mm-dd
	LastPrice     float64     `json:"last_price"`
	OIChange      float64     `json:"oi_change"`
}

// Status represents the lifecycle state of a position. The only valid
// transition is StatusOpen -> StatusClosed; positions never reopen.
type Status string

const (
	// StatusOpen marks a position that has been entered and not yet exited.
	StatusOpen Status = "OPEN"
	// StatusClosed marks a position whose exit has been recorded.
	StatusClosed Status = "CLOSED"
)

// Position is the durable unit of state owned by the ledger. Identity fields
// (symbol, strike, class, mode) are immutable after creation; only the exit
// fields and status transition, exactly once.
type Position struct {
	ID            string      `json:"id"`
	OrderID       string      `json:"order_id"`
	Instrument    string      `json:"instrument"`
	TradingSymbol string      `json:"trading_symbol"`
	Strike        float64     `json:"strike"`
	Class         OptionClass `json:"class"`
	Quantity      int         `json:"quantity"`
	EntryPrice    float64     `json:"entry_price"`
	ExitPrice     *float64    `json:"exit_price,omitempty"`
	PnL           *float64    `json:"pnl,omitempty"`
	EntryTime     time.Time   `json:"entry_time"`
	ExitTime      *time.Time  `json:"exit_time,omitempty"`
	Status        Status      `json:"status"`
	PaperTrade    bool        `json:"paper_trade"`
}

// NewPosition creates an OPEN position from a selected candidate and the
// acknowledged order that entered it.
func NewPosition(id, orderID string, c Candidate, quantity int, paper bool, entryTime time.Time) *Position {
	return &Position{
		ID:            id,
		OrderID:       orderID,
		Instrument:    c.Instrument,
		TradingSymbol: c.TradingSymbol,
		Strike:        c.Strike,
		Class:         c.Class,
		Quantity:      quantity,
		EntryPrice:    c.LastPrice,
		EntryTime:     entryTime.UTC(),
		Status:        StatusOpen,
		PaperTrade:    paper,
	}
}

// IsOpen reports whether the position is still open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Close transitions the position to CLOSED, recording exit price, exit time
// and realized P&L. Closing an already-closed position is an error.
func (p *Position) Close(exitPrice float64, at time.Time) error {
	if p.Status != StatusOpen {
		return fmt.Errorf("position %s is %s, cannot close", p.ID, p.Status)
	}
	at = at.UTC()
	if at.Before(p.EntryTime) {
		return fmt.Errorf("position %s exit time %v precedes entry time %v", p.ID, at, p.EntryTime)
	}
	pnl := (exitPrice - p.EntryPrice) * float64(p.Quantity)
	p.ExitPrice = &exitPrice
	p.ExitTime = &at
	p.PnL = &pnl
	p.Status = StatusClosed
	return nil
}

// Validate checks the position's lifecycle invariants: exit fields and P&L
// are set if and only if the position is closed, and entry never follows exit.
func (p *Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position missing id")
	}
	if !p.Class.Valid() {
		return fmt.Errorf("position %s has invalid option class %q", p.ID, p.Class)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s quantity must be > 0 (got %d)", p.ID, p.Quantity)
	}
	switch p.Status {
	case StatusOpen:
		if p.ExitPrice != nil || p.ExitTime != nil || p.PnL != nil {
			return fmt.Errorf("position %s is OPEN but has exit data", p.ID)
		}
	case StatusClosed:
		if p.ExitPrice == nil || p.ExitTime == nil || p.PnL == nil {
			return fmt.Errorf("position %s is CLOSED but missing exit data", p.ID)
		}
		if p.ExitTime.Before(p.EntryTime) {
			return fmt.Errorf("position %s exit time %v precedes entry time %v", p.ID, p.ExitTime, p.EntryTime)
		}
	default:
		return fmt.Errorf("position %s has unknown status %q", p.ID, p.Status)
	}
	return nil
}
