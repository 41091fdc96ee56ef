// Package retry wraps quote fetches with bounded exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nileshpandit/optionflow/internal/gateway"
	"github.com/nileshpandit/optionflow/internal/marketdata"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig keeps a full retry cycle well under a batch's run time.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	Timeout:        45 * time.Second,
}

// QuoteClient decorates a QuoteSource with retries on transient failures.
// Permanent failures (malformed payloads, rejections) return immediately.
type QuoteClient struct {
	source marketdata.QuoteSource
	logger *logrus.Logger
	config Config
}

// NewQuoteClient creates a retrying quote client.
func NewQuoteClient(source marketdata.QuoteSource, logger *logrus.Logger, config ...Config) *QuoteClient {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	return &QuoteClient{source: source, logger: logger, config: cfg}
}

var _ marketdata.QuoteSource = (*QuoteClient)(nil)

// OptionChain fetches the chain for an instrument, retrying transient
// failures with backoff and jitter until the attempt budget or timeout runs out.
func (c *QuoteClient) OptionChain(ctx context.Context, instrument string) (*marketdata.OptionChain, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := fetchCtx.Err(); err != nil {
			return nil, fmt.Errorf("quote fetch for %s timed out: %w", instrument, err)
		}

		chain, err := c.source.OptionChain(fetchCtx, instrument)
		if err == nil {
			return chain, nil
		}
		lastErr = err

		if !gateway.IsTransient(err) || attempt == c.config.MaxRetries {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"instrument": instrument,
			"attempt":    attempt + 1,
			"backoff":    backoff.String(),
		}).WithError(err).Warn("transient quote fetch failure, retrying")

		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-fetchCtx.Done():
			return nil, fmt.Errorf("quote fetch for %s timed out during backoff: %w", instrument, fetchCtx.Err())
		}
	}

	return nil, fmt.Errorf("quote fetch for %s failed after %d attempt(s): %w",
		instrument, c.config.MaxRetries+1, lastErr)
}

func (c *QuoteClient) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.WithError(err).Warn("failed to generate backoff jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}
