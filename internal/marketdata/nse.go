package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultSpurtsURL = "https://www.nseindia.com/api/live-analysis-oi-spurts-contracts"
	defaultChainURL  = "https://www.nseindia.com/api/option-chain-indices"

	// risingOIKey selects the momentum bucket used by the selector.
	risingOIKey = "Rise-in-OI-Rise"

	defaultTimeout = 15 * time.Second
)

// APIError represents an upstream HTTP error with status code and body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// NSEClient fetches OI spurts and option chains from the exchange's public
// API. The endpoint requires browser-like headers.
type NSEClient struct {
	client    *http.Client
	logger    *logrus.Logger
	spurtsURL string
	chainURL  string
}

// Option configures an NSEClient.
type Option func(*NSEClient)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(c *http.Client) Option {
	return func(n *NSEClient) { n.client = c }
}

// WithBaseURLs overrides the spurts and chain endpoints (used in tests).
func WithBaseURLs(spurtsURL, chainURL string) Option {
	return func(n *NSEClient) {
		if spurtsURL != "" {
			n.spurtsURL = spurtsURL
		}
		if chainURL != "" {
			n.chainURL = chainURL
		}
	}
}

// NewNSEClient creates a market data client with default endpoints.
func NewNSEClient(logger *logrus.Logger, opts ...Option) *NSEClient {
	c := &NSEClient{
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    logger,
		spurtsURL: defaultSpurtsURL,
		chainURL:  defaultChainURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface checks.
var (
	_ SpurtsSource = (*NSEClient)(nil)
	_ QuoteSource  = (*NSEClient)(nil)
)

// spurtsResponse mirrors the spurts endpoint payload: a list of single-key
// objects, one per OI bucket.
type spurtsResponse struct {
	Data []map[string]json.RawMessage `json:"data"`
}

// RisingOISpurts fetches the spurts analysis and extracts the rising-OI
// bucket. An absent bucket is not an error; it decodes to an empty slice.
func (n *NSEClient) RisingOISpurts(ctx context.Context) ([]SpurtRow, error) {
	var payload spurtsResponse
	if err := n.get(ctx, n.spurtsURL, &payload); err != nil {
		return nil, fmt.Errorf("fetching OI spurts: %w", err)
	}
	if payload.Data == nil {
		return nil, fmt.Errorf("OI spurts payload missing data block")
	}

	for _, block := range payload.Data {
		raw, ok := block[risingOIKey]
		if !ok {
			continue
		}
		var rows []SpurtRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decoding %s bucket: %w", risingOIKey, err)
		}
		n.logger.WithField("rows", len(rows)).Debug("fetched rising OI bucket")
		return rows, nil
	}

	n.logger.Warn("no rising OI bucket in spurts payload")
	return nil, nil
}

// chainResponse mirrors the option chain endpoint payload.
type chainResponse struct {
	Records struct {
		Data []struct {
			StrikePrice float64   `json:"strikePrice"`
			CE          *chainLeg `json:"CE"`
			PE          *chainLeg `json:"PE"`
		} `json:"data"`
	} `json:"records"`
}

type chainLeg struct {
	LastPrice         float64 `json:"lastPrice"`
	Change            float64 `json:"change"`
	TotalTradedVolume int64   `json:"totalTradedVolume"`
	OpenInterest      int64   `json:"openInterest"`
}

func (l *chainLeg) quote() *OptionQuote {
	if l == nil {
		return nil
	}
	return &OptionQuote{
		LastPrice:    l.LastPrice,
		Change:       l.Change,
		Volume:       l.TotalTradedVolume,
		OpenInterest: l.OpenInterest,
	}
}

// OptionChain fetches the index option chain for one instrument.
func (n *NSEClient) OptionChain(ctx context.Context, instrument string) (*OptionChain, error) {
	endpoint := fmt.Sprintf("%s?symbol=%s", n.chainURL, url.QueryEscape(instrument))

	var payload chainResponse
	if err := n.get(ctx, endpoint, &payload); err != nil {
		return nil, fmt.Errorf("fetching option chain for %s: %w", instrument, err)
	}

	chain := &OptionChain{Instrument: instrument}
	for _, row := range payload.Records.Data {
		chain.Entries = append(chain.Entries, ChainEntry{
			StrikePrice: row.StrikePrice,
			Call:        row.CE.quote(),
			Put:         row.PE.quote(),
		})
	}
	return chain, nil
}

func (n *NSEClient) get(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	// The exchange blocks requests without browser-like headers.
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://www.nseindia.com")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			n.logger.WithError(cerr).Warn("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: "failed to read error body"}
		}
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
