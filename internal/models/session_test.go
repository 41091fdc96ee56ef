package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func posAt(id string, entry time.Time) Position {
	return Position{
		ID:         id,
		Instrument: "NIFTY",
		Class:      ClassCall,
		Quantity:   50,
		EntryTime:  entry,
		Status:     StatusOpen,
	}
}

func TestLatestSessionEmpty(t *testing.T) {
	assert.Nil(t, LatestSession(nil))
	assert.Nil(t, LatestSession([]Position{}))
}

func TestLatestSessionWindow(t *testing.T) {
	base := time.Date(2026, 9, 1, 15, 9, 0, 0, time.UTC)
	positions := []Position{
		posAt("old", base.Add(-2*time.Hour)),
		posAt("edge", base.Add(-15*time.Minute)),
		posAt("mid", base.Add(-5*time.Minute)),
		posAt("latest", base),
	}

	session := LatestSession(positions)
	require.Len(t, session, 3)
	// Newest first.
	assert.Equal(t, "latest", session[0].ID)
	assert.Equal(t, "mid", session[1].ID)
	assert.Equal(t, "edge", session[2].ID)
}

func TestSessionsGroupsByGap(t *testing.T) {
	base := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	positions := []Position{
		posAt("a1", base),
		posAt("a2", base.Add(10*time.Minute)),
		posAt("a3", base.Add(35*time.Minute)), // 25m after a2: same run
		posAt("b1", base.Add(3*time.Hour)),
		posAt("b2", base.Add(3*time.Hour+30*time.Minute)), // exactly the gap: same run
		posAt("c1", base.Add(8*time.Hour)),
	}

	groups := Sessions(positions)
	require.Len(t, groups, 3)
	assert.Equal(t, "c1", groups[0][0].ID)
	require.Len(t, groups[1], 2)
	assert.Equal(t, "b2", groups[1][0].ID)
	require.Len(t, groups[2], 3)
	assert.Equal(t, "a3", groups[2][0].ID)
}
