package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// paperOrderPrefix marks order ids fabricated by the paper gateway.
const paperOrderPrefix = "PAPER_"

// Paper simulates order placement with no market effect. It never performs a
// network call and fails only on invalid input.
type Paper struct {
	logger *logrus.Logger
}

// NewPaper creates a paper-trading gateway.
func NewPaper(logger *logrus.Logger) *Paper {
	return &Paper{logger: logger}
}

var _ Gateway = (*Paper)(nil)

// PlaceOrder fabricates an immediately-accepted acknowledgment.
func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (*OrderAck, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("paper order: %w", err)
	}

	ack := &OrderAck{
		OrderID: paperOrderPrefix + uuid.NewString(),
		Status:  "accepted",
		Paper:   true,
	}
	p.logger.WithFields(logrus.Fields{
		"order_id": ack.OrderID,
		"symbol":   req.TradingSymbol,
		"side":     req.Side,
		"quantity": req.Quantity,
	}).Info("paper order accepted")
	return ack, nil
}
