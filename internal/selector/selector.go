// Package selector implements contract selection from open-interest spurt
// data: filter, rank, and pick at most one call and one put per tracked
// instrument.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nileshpandit/optionflow/internal/marketdata"
	"github.com/nileshpandit/optionflow/internal/models"
)

// ErrDataUnavailable signals that the upstream market-data fetch failed or
// returned a malformed payload. The selector never retries; retry policy
// belongs to the caller.
var ErrDataUnavailable = errors.New("market data unavailable")

// indexOptionType is the instrument type the engine trades.
const indexOptionType = "OPTIDX"

// Config holds the selection parameters.
type Config struct {
	// Instruments is the tracked instrument list; its order fixes
	// selection priority.
	Instruments  []string
	TopN         int
	MaxSelection int
}

// Selector picks entry candidates from the rising-OI bucket.
type Selector struct {
	source marketdata.SpurtsSource
	cfg    Config
	logger *logrus.Logger
}

// New creates a Selector.
func New(source marketdata.SpurtsSource, cfg Config, logger *logrus.Logger) *Selector {
	return &Selector{source: source, cfg: cfg, logger: logger}
}

// Select fetches the rising-OI bucket and returns the chosen candidates in
// selection order. An empty bucket is a valid "no signal today" outcome and
// returns an empty slice without error.
func (s *Selector) Select(ctx context.Context) ([]models.Candidate, error) {
	rows, err := s.source.RisingOISpurts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	if len(rows) == 0 {
		s.logger.Warn("no rising OI data, nothing to select")
		return nil, nil
	}

	filtered := s.filterIndexOptions(rows)
	ranked := s.topByOIChange(filtered)
	picked := s.pickCallAndPut(ranked)

	candidates := make([]models.Candidate, 0, len(picked))
	for _, row := range picked {
		c, err := normalize(row)
		if err != nil {
			// Rows that survived filtering should always normalize;
			// a failure here means the upstream shape changed.
			return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
		}
		candidates = append(candidates, c)
	}

	s.logger.WithField("selected", len(candidates)).Info("contract selection complete")
	return candidates, nil
}

// filterIndexOptions keeps only index-option rows on tracked instruments.
func (s *Selector) filterIndexOptions(rows []marketdata.SpurtRow) []marketdata.SpurtRow {
	tracked := make(map[string]bool, len(s.cfg.Instruments))
	for _, sym := range s.cfg.Instruments {
		tracked[sym] = true
	}

	var out []marketdata.SpurtRow
	for _, row := range rows {
		if row.InstrumentType == indexOptionType && tracked[row.Instrument] {
			out = append(out, row)
		}
	}
	return out
}

// topByOIChange ranks rows by descending absolute OI change and keeps topN.
// The sort is stable so equal deltas preserve source order, keeping the
// overall selection deterministic.
func (s *Selector) topByOIChange(rows []marketdata.SpurtRow) []marketdata.SpurtRow {
	ranked := make([]marketdata.SpurtRow, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool {
		return abs(ranked[i].ChangeInOI) > abs(ranked[j].ChangeInOI)
	})
	if len(ranked) > s.cfg.TopN {
		ranked = ranked[:s.cfg.TopN]
	}
	return ranked
}

// pickCallAndPut iterates tracked instruments in configured order, taking the
// first unused call and first unused put for each, up to MaxSelection.
// Priority deliberately follows instrument order, not rank order across
// instruments.
func (s *Selector) pickCallAndPut(ranked []marketdata.SpurtRow) []marketdata.SpurtRow {
	var selected []marketdata.SpurtRow
	used := make(map[string]bool)

	take := func(instrument, optionType string) {
		if len(selected) >= s.cfg.MaxSelection {
			return
		}
		for _, row := range ranked {
			if row.Instrument == instrument && row.OptionType == optionType && !used[row.Identifier] {
				selected = append(selected, row)
				used[row.Identifier] = true
				return
			}
		}
	}

	for _, instrument := range s.cfg.Instruments {
		take(instrument, "Call")
		take(instrument, "Put")
		if len(selected) >= s.cfg.MaxSelection {
			break
		}
	}
	return selected
}

// normalize converts a spurt row into a candidate with the broker's
// trading-symbol encoding: instrument + dd-mm-yyyy expiry + class + strike.
func normalize(row marketdata.SpurtRow) (models.Candidate, error) {
	class, ok := models.ClassFromSource(row.OptionType)
	if !ok {
		return models.Candidate{}, fmt.Errorf("unknown option type %q for %s", row.OptionType, row.Identifier)
	}

	expiry, err := reverseExpiry(row.ExpiryDate)
	if err != nil {
		return models.Candidate{}, fmt.Errorf("bad expiry for %s: %w", row.Identifier, err)
	}

	return models.Candidate{
		Identifier:    row.Identifier,
		Instrument:    row.Instrument,
		TradingSymbol: row.Instrument + expiry + string(class) + formatStrike(row.StrikePrice),
		Strike:        row.StrikePrice,
		Class:         class,
		Expiry:        row.ExpiryDate,
		LastPrice:     row.LastPrice,
		OIChange:      row.ChangeInOI,
	}, nil
}

// reverseExpiry turns the source's yyyy-mm-dd into the broker's dd-mm-yyyy.
func reverseExpiry(expiry string) (string, error) {
	parts := strings.Split(expiry, "-")
	if len(parts) != 3 {
		return "", fmt.Errorf("expiry %q is not yyyy-mm-dd", expiry)
	}
	return parts[2] + "-" + parts[1] + "-" + parts[0], nil
}

func formatStrike(strike float64) string {
	return strconv.FormatFloat(strike, 'f', -1, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
