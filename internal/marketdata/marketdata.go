// Package marketdata provides clients for the exchange's public market data
// endpoints: open-interest spurt analysis and index option chains.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrQuoteNotFound is returned when an option chain has no entry for the
// requested strike and class.
var ErrQuoteNotFound = errors.New("quote not found in option chain")

// SpurtRow is one raw contract row from the OI spurts endpoint.
type SpurtRow struct {
	Instrument     string  `json:"symbol"`
	InstrumentType string  `json:"instrumentType"`
	OptionType     string  `json:"optionType"` // "Call" | "Put"
	StrikePrice    float64 `json:"strikePrice"`
	ExpiryDate     string  `json:"expiryDate"` // yyyy-mm-dd
	LastPrice      float64 `json:"ltp"`
	ChangeInOI     float64 `json:"changeInOI"`
	Identifier     string  `json:"identifier"`
}

// SpurtsSource supplies the "rise in OI" bucket of the spurts analysis.
type SpurtsSource interface {
	RisingOISpurts(ctx context.Context) ([]SpurtRow, error)
}

// OptionQuote is a live quote for a single option contract.
type OptionQuote struct {
	LastPrice    float64 `json:"last_price"`
	Change       float64 `json:"change"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
}

// ChainEntry carries the call and put quotes at one strike.
type ChainEntry struct {
	StrikePrice float64      `json:"strikePrice"`
	Call        *OptionQuote `json:"call,omitempty"`
	Put         *OptionQuote `json:"put,omitempty"`
}

// OptionChain is the full chain for one underlying instrument.
type OptionChain struct {
	Instrument string
	Entries    []ChainEntry
}

// strikeEpsilon tolerates float drift between persisted strikes and chain strikes.
const strikeEpsilon = 1e-4

// Lookup finds the quote for a strike and option class. isCall selects the
// call leg; otherwise the put leg.
func (c *OptionChain) Lookup(strike float64, isCall bool) (*OptionQuote, error) {
	for i := range c.Entries {
		if math.Abs(c.Entries[i].StrikePrice-strike) > strikeEpsilon {
			continue
		}
		q := c.Entries[i].Put
		if isCall {
			q = c.Entries[i].Call
		}
		if q == nil {
			break
		}
		return q, nil
	}
	return nil, fmt.Errorf("%w: %s strike %.2f", ErrQuoteNotFound, c.Instrument, strike)
}

// QuoteSource supplies live option chains for tracked instruments.
type QuoteSource interface {
	OptionChain(ctx context.Context, instrument string) (*OptionChain, error)
}
