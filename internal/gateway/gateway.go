// Package gateway abstracts order placement over paper-simulation and
// live-broker execution modes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Side is the direction of an order, using the broker's single-letter encoding.
type Side string

const (
	// SideBuy enters a position.
	SideBuy Side = "B"
	// SideSell exits a position.
	SideSell Side = "S"
)

// Valid returns true if the Side is one of the defined constants.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the opposing side, used when exiting a position.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderRequest describes one market order to place.
type OrderRequest struct {
	TradingSymbol   string
	ExchangeSegment string
	Quantity        int
	Side            Side
}

// Validate checks the request fields common to both execution modes.
func (r OrderRequest) Validate() error {
	if r.TradingSymbol == "" {
		return fmt.Errorf("order request missing trading symbol")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("order quantity must be > 0 (got %d)", r.Quantity)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("order side must be %q or %q (got %q)", SideBuy, SideSell, r.Side)
	}
	return nil
}

// OrderAck is the normalized acknowledgment returned by both modes.
type OrderAck struct {
	OrderID string
	Status  string
	Paper   bool
}

// Gateway places orders. Implementations are selected once at construction
// from configuration; callers never branch on mode.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
}

// ErrSessionExpired signals that the broker session is no longer valid.
// It is fatal to the triggering batch and must be surfaced to the operator;
// the engine does not re-authenticate on its own.
var ErrSessionExpired = errors.New("broker session expired or missing")

// OrderRejectedError carries the upstream rejection message for an order the
// broker explicitly refused.
type OrderRejectedError struct {
	Symbol  string
	Message string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected for %s: %s", e.Symbol, e.Message)
}

// transientPatterns mark error strings that indicate a retryable upstream
// condition rather than a rejection.
var transientPatterns = []string{
	"timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"server error",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"network",
	"dns",
	"tcp",
	"eof",
}

// IsTransient reports whether an order error is worth retrying for that
// single order. Transient failures must not block sibling orders in a batch.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionExpired) {
		return false
	}
	var rejected *OrderRejectedError
	if errors.As(err, &rejected) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
