package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nileshpandit/optionflow/internal/broker"
)

const (
	// orderPath is the broker's quick market-order placement endpoint,
	// relative to the session base URL.
	orderPath = "/quick/order/rule/ms/place"

	defaultTimeout = 15 * time.Second
)

// Live places real orders against the broker API using an authenticated
// session obtained from the session provider.
type Live struct {
	client   *http.Client
	sessions broker.SessionProvider
	logger   *logrus.Logger
}

// NewLive creates a live-trading gateway.
func NewLive(sessions broker.SessionProvider, logger *logrus.Logger) *Live {
	return &Live{
		client:   &http.Client{Timeout: defaultTimeout},
		sessions: sessions,
		logger:   logger,
	}
}

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func (l *Live) WithHTTPClient(hc *http.Client) *Live {
	l.client = hc
	return l
}

var _ Gateway = (*Live)(nil)

// orderPayload mirrors the broker's terse quick-order schema. Only the
// symbol, side and quantity vary; everything else pins a market/intraday
// day order.
type orderPayload struct {
	AMO             string `json:"am"` // after-market order: no
	DisclosedQty    string `json:"dq"`
	ExchangeSegment string `json:"es"`
	MarketProt      string `json:"mp"`
	Product         string `json:"pc"` // MIS: intraday
	PortfolioFlag   string `json:"pf"`
	Price           string `json:"pr"` // 0 for market orders
	PriceType       string `json:"pt"` // MKT
	Quantity        string `json:"qt"`
	Validity        string `json:"rt"` // DAY
	TriggerPrice    string `json:"tp"`
	TradingSymbol   string `json:"ts"`
	TransactionType string `json:"tt"` // B | S
}

type orderResponse struct {
	Status  string `json:"stat"` // "Ok" on success
	OrderNo string `json:"nOrdNo"`
	ErrMsg  string `json:"errMsg"`
	EMsg    string `json:"emsg"`
}

func (r *orderResponse) accepted() bool {
	return strings.EqualFold(r.Status, "ok")
}

func (r *orderResponse) message() string {
	if r.ErrMsg != "" {
		return r.ErrMsg
	}
	if r.EMsg != "" {
		return r.EMsg
	}
	return "no reason given"
}

// PlaceOrder submits a market order. Failures are classified per the batch
// contract: *OrderRejectedError for explicit refusals, ErrSessionExpired for
// auth failures, and wrapped transport errors (see IsTransient) otherwise.
func (l *Live) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("live order: %w", err)
	}

	session := l.sessions.Session()
	if !l.sessions.IsAuthenticated() || session == nil {
		return nil, ErrSessionExpired
	}

	segment := req.ExchangeSegment
	if segment == "" {
		segment = "nse_fo"
	}
	payload := orderPayload{
		AMO:             "NO",
		DisclosedQty:    "0",
		ExchangeSegment: segment,
		MarketProt:      "0",
		Product:         "MIS",
		PortfolioFlag:   "N",
		Price:           "0",
		PriceType:       "MKT",
		Quantity:        strconv.Itoa(req.Quantity),
		Validity:        "DAY",
		TriggerPrice:    "0",
		TradingSymbol:   req.TradingSymbol,
		TransactionType: string(req.Side),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding order payload: %w", err)
	}
	form := "jData=" + url.QueryEscape(string(encoded))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		session.BaseURL+orderPath, strings.NewReader(form))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Auth", session.Token)
	httpReq.Header.Set("Sid", session.SID)
	httpReq.Header.Set("neo-fin-key", "neotradeapi")
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("placing order for %s: %w", req.TradingSymbol, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			l.logger.WithError(cerr).Warn("failed to close response body")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("placing order for %s: %w", req.TradingSymbol, ErrSessionExpired)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("placing order for %s: server error %d: %s",
			req.TradingSymbol, resp.StatusCode, string(body))
	}

	var decoded orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding order response for %s: %w", req.TradingSymbol, err)
	}

	if !decoded.accepted() {
		return nil, &OrderRejectedError{Symbol: req.TradingSymbol, Message: decoded.message()}
	}

	ack := &OrderAck{
		OrderID: decoded.OrderNo,
		Status:  "accepted",
		Paper:   false,
	}
	l.logger.WithFields(logrus.Fields{
		"order_id": ack.OrderID,
		"symbol":   req.TradingSymbol,
		"side":     req.Side,
		"quantity": req.Quantity,
	}).Info("live order accepted")
	return ack, nil
}
