package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nileshpandit/optionflow/internal/models"
)

func newBackend(t *testing.T, driver string) Interface {
	t.Helper()
	ext := map[string]string{"json": "json", "sqlite": "db"}[driver]
	s, err := New(driver, filepath.Join(t.TempDir(), "positions."+ext))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedPosition(id string, entry time.Time, status models.Status) *models.Position {
	p := &models.Position{
		ID:            id,
		OrderID:       "ord-" + id,
		Instrument:    "NIFTY",
		TradingSymbol: "NIFTY25-09-2026CE25000",
		Strike:        25000,
		Class:         models.ClassCall,
		Quantity:      50,
		EntryPrice:    112.4,
		EntryTime:     entry,
		Status:        models.StatusOpen,
		PaperTrade:    true,
	}
	if status == models.StatusClosed {
		_ = p.Close(130.9, entry.Add(time.Hour))
	}
	return p
}

// Both backends must satisfy the same contract.
func forEachDriver(t *testing.T, fn func(t *testing.T, s Interface)) {
	for _, driver := range []string{"json", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			fn(t, newBackend(t, driver))
		})
	}
}

func TestInsertAndGet(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Interface) {
		entry := time.Date(2026, 9, 1, 15, 9, 0, 0, time.UTC)
		p := storedPosition("p1", entry, models.StatusOpen)
		require.NoError(t, s.Insert(p))

		got, err := s.Get("p1")
		require.NoError(t, err)
		assert.Equal(t, p.TradingSymbol, got.TradingSymbol)
		assert.Equal(t, models.StatusOpen, got.Status)
		assert.True(t, got.EntryTime.Equal(entry))
		assert.Nil(t, got.ExitPrice)
		assert.Nil(t, got.PnL)
		assert.True(t, got.PaperTrade)
	})
}

func TestInsertDuplicateFails(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Interface) {
		entry := time.Now().UTC()
		require.NoError(t, s.Insert(storedPosition("p1", entry, models.StatusOpen)))
		err := s.Insert(storedPosition("p1", entry, models.StatusOpen))
		require.ErrorIs(t, err, ErrDuplicateID)
	})
}

func TestUpdateTransition(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Interface) {
		entry := time.Date(2026, 9, 1, 15, 9, 0, 0, time.UTC)
		p := storedPosition("p1", entry, models.StatusOpen)
		require.NoError(t, s.Insert(p))

		require.NoError(t, p.Close(130.9, entry.Add(time.Hour)))
		require.NoError(t, s.Update(p))

		got, err := s.Get("p1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, got.Status)
		require.NotNil(t, got.ExitPrice)
		require.NotNil(t, got.PnL)
		assert.Equal(t, 130.9, *got.ExitPrice)
		assert.InDelta(t, (130.9-112.4)*50, *got.PnL, 1e-9)
		require.NotNil(t, got.ExitTime)
		assert.True(t, got.ExitTime.Equal(entry.Add(time.Hour)))
	})
}

func TestUpdateMissingFails(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Interface) {
		p := storedPosition("ghost", time.Now().UTC(), models.StatusOpen)
		require.ErrorIs(t, s.Update(p), ErrPositionNotFound)
	})
}

func TestGetMissingFails(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Interface) {
		_, err := s.Get("ghost")
		require.ErrorIs(t, err, ErrPositionNotFound)
	})
}

func TestQueriesAndOrdering(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Interface) {
		base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, s.Insert(storedPosition("old", base, models.StatusClosed)))
		require.NoError(t, s.Insert(storedPosition("mid", base.Add(time.Hour), models.StatusOpen)))
		require.NoError(t, s.Insert(storedPosition("new", base.Add(2*time.Hour), models.StatusOpen)))

		all, err := s.All()
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"new", "mid", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

		open, err := s.ByStatus(models.StatusOpen)
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, "new", open[0].ID)

		closed, err := s.ByStatus(models.StatusClosed)
		require.NoError(t, err)
		require.Len(t, closed, 1)

		ranged, err := s.ByEntryRange(base.Add(30*time.Minute), base.Add(90*time.Minute))
		require.NoError(t, err)
		require.Len(t, ranged, 1)
		assert.Equal(t, "mid", ranged[0].ID)
	})
}

func TestJSONStoragePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	s, err := NewJSONStorage(path)
	require.NoError(t, err)

	entry := time.Date(2026, 9, 1, 15, 9, 0, 0, time.UTC)
	require.NoError(t, s.Insert(storedPosition("p1", entry, models.StatusOpen)))

	reopened, err := NewJSONStorage(path)
	require.NoError(t, err)
	got, err := reopened.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "NIFTY", got.Instrument)
}

func TestReadsReturnCopies(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Interface) {
		entry := time.Now().UTC()
		require.NoError(t, s.Insert(storedPosition("p1", entry, models.StatusOpen)))

		got, err := s.Get("p1")
		require.NoError(t, err)
		got.Status = models.StatusClosed // must not leak into the store

		again, err := s.Get("p1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusOpen, again.Status)
	})
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New("mongo", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver")
}
