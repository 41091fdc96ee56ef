package gateway

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// CircuitBreaker wraps a Gateway so that a failing broker API trips open
// instead of being hammered by every batch item.
type CircuitBreaker struct {
	gateway Gateway
	breaker *gobreaker.CircuitBreaker
}

// BreakerSettings configures circuit breaker behavior.
type BreakerSettings struct {
	MaxRequests  uint32        // max requests allowed when half-open
	Interval     time.Duration // counts reset interval
	Timeout      time.Duration // open-state duration
	MinRequests  uint32        // min requests before tripping
	FailureRatio float64       // failure ratio threshold
}

// NewCircuitBreaker wraps a gateway with sensible default settings.
func NewCircuitBreaker(gw Gateway, logger *logrus.Logger) *CircuitBreaker {
	return NewCircuitBreakerWithSettings(gw, logger, BreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerWithSettings wraps a gateway with custom settings.
func NewCircuitBreakerWithSettings(gw Gateway, logger *logrus.Logger, settings BreakerSettings) *CircuitBreaker {
	gbSettings := gobreaker.Settings{
		Name:        "OrderGatewayCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
		// Rejections are deliberate upstream answers, not API health
		// signals; only transport-level failures should trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !IsTransient(err)
		},
	}

	return &CircuitBreaker{
		gateway: gw,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

var _ Gateway = (*CircuitBreaker)(nil)

// PlaceOrder executes the wrapped call through the breaker.
func (c *CircuitBreaker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.gateway.PlaceOrder(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	ack, ok := res.(*OrderAck)
	if !ok {
		return nil, &OrderRejectedError{Symbol: req.TradingSymbol, Message: "circuit breaker: type assertion failed"}
	}
	return ack, nil
}
