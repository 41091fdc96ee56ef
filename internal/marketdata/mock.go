package marketdata

import (
	"context"
	"sync"
)

// Mock implements SpurtsSource and QuoteSource for testing. Fixtures and
// errors are settable per call site; all methods are safe for concurrent use.
type Mock struct {
	mu sync.Mutex

	SpurtRows []SpurtRow
	SpurtsErr error

	Chains    map[string]*OptionChain
	ChainErrs map[string]error

	spurtsCalls int
	chainCalls  map[string]int
}

// NewMock creates an empty market data mock.
func NewMock() *Mock {
	return &Mock{
		Chains:     make(map[string]*OptionChain),
		ChainErrs:  make(map[string]error),
		chainCalls: make(map[string]int),
	}
}

// RisingOISpurts returns the configured rows or error.
func (m *Mock) RisingOISpurts(_ context.Context) ([]SpurtRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spurtsCalls++
	if m.SpurtsErr != nil {
		return nil, m.SpurtsErr
	}
	return m.SpurtRows, nil
}

// OptionChain returns the configured chain or error for an instrument.
func (m *Mock) OptionChain(_ context.Context, instrument string) (*OptionChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainCalls[instrument]++
	if err, ok := m.ChainErrs[instrument]; ok {
		return nil, err
	}
	if chain, ok := m.Chains[instrument]; ok {
		return chain, nil
	}
	return &OptionChain{Instrument: instrument}, nil
}

// SetChain registers a chain fixture with quotes at the given strikes.
func (m *Mock) SetChain(instrument string, entries ...ChainEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Chains[instrument] = &OptionChain{Instrument: instrument, Entries: entries}
}

// SpurtsCalls reports how many times RisingOISpurts was invoked.
func (m *Mock) SpurtsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spurtsCalls
}

// ChainCalls reports how many times OptionChain was invoked for an instrument.
func (m *Mock) ChainCalls(instrument string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainCalls[instrument]
}

var (
	_ SpurtsSource = (*Mock)(nil)
	_ QuoteSource  = (*Mock)(nil)
)
