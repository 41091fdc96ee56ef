package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandidate() Candidate {
	return Candidate{
		Identifier:    "OPTIDXNIFTY25-09-2026CE25000.00",
		Instrument:    "NIFTY",
		TradingSymbol: "NIFTY25-09-2026CE25000",
		Strike:        25000,
		Class:         ClassCall,
		Expiry:        "2026-09-25",
		LastPrice:     112.4,
		OIChange:      183000,
	}
}

func TestNewPosition(t *testing.T) {
	entry := time.Date(2026, 9, 1, 15, 9, 0, 0, time.UTC)
	p := NewPosition("pos-1", "PAPER_abc", testCandidate(), 50, true, entry)

	require.NoError(t, p.Validate())
	assert.Equal(t, StatusOpen, p.Status)
	assert.True(t, p.IsOpen())
	assert.True(t, p.PaperTrade)
	assert.Equal(t, 112.4, p.EntryPrice)
	assert.Nil(t, p.ExitPrice)
	assert.Nil(t, p.ExitTime)
	assert.Nil(t, p.PnL)
}

func TestPositionClose(t *testing.T) {
	entry := time.Date(2026, 9, 1, 15, 9, 0, 0, time.UTC)
	p := NewPosition("pos-1", "PAPER_abc", testCandidate(), 50, true, entry)

	exit := entry.Add(18 * time.Hour)
	require.NoError(t, p.Close(130.9, exit))

	assert.Equal(t, StatusClosed, p.Status)
	require.NotNil(t, p.ExitPrice)
	require.NotNil(t, p.PnL)
	require.NotNil(t, p.ExitTime)
	assert.Equal(t, 130.9, *p.ExitPrice)
	assert.InDelta(t, (130.9-112.4)*50, *p.PnL, 1e-9)
	assert.Equal(t, exit, *p.ExitTime)
	require.NoError(t, p.Validate())
}

func TestPositionCloseTwiceFails(t *testing.T) {
	entry := time.Now().UTC().Add(-time.Hour)
	p := NewPosition("pos-1", "ord-1", testCandidate(), 50, false, entry)

	require.NoError(t, p.Close(100, time.Now().UTC()))
	err := p.Close(90, time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot close")

	// First close result untouched.
	assert.Equal(t, 100.0, *p.ExitPrice)
}

func TestPositionCloseBeforeEntryFails(t *testing.T) {
	entry := time.Now().UTC()
	p := NewPosition("pos-1", "ord-1", testCandidate(), 50, false, entry)

	err := p.Close(100, entry.Add(-time.Minute))
	require.Error(t, err)
	assert.True(t, p.IsOpen())
}

func TestPositionValidateRejectsInconsistentExitData(t *testing.T) {
	entry := time.Now().UTC().Add(-time.Hour)
	p := NewPosition("pos-1", "ord-1", testCandidate(), 50, false, entry)

	price := 42.0
	p.ExitPrice = &price
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPEN but has exit data")

	p.ExitPrice = nil
	p.Status = StatusClosed
	err = p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing exit data")
}

func TestClassFromSource(t *testing.T) {
	tests := []struct {
		label string
		want  OptionClass
		ok    bool
	}{
		{"Call", ClassCall, true},
		{"Put", ClassPut, true},
		{"call", "", false},
		{"Future", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ClassFromSource(tt.label)
		assert.Equal(t, tt.ok, ok, "label %q", tt.label)
		assert.Equal(t, tt.want, got, "label %q", tt.label)
	}
}
