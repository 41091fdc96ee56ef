package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nileshpandit/optionflow/internal/models"
)

// MockStorage implements Interface for testing, with injectable errors.
type MockStorage struct {
	mu        sync.Mutex
	positions map[string]models.Position

	InsertErr error
	UpdateErr error

	insertCalls int
	updateCalls int
}

// NewMockStorage creates an empty in-memory mock store.
func NewMockStorage() *MockStorage {
	return &MockStorage{positions: make(map[string]models.Position)}
}

var _ Interface = (*MockStorage)(nil)

// Insert stores a new position, or returns the injected error.
func (m *MockStorage) Insert(p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, ok := m.positions[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	m.positions[p.ID] = *p
	return nil
}

// Update rewrites a stored position, or returns the injected error.
func (m *MockStorage) Update(p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if _, ok := m.positions[p.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, p.ID)
	}
	m.positions[p.ID] = *p
	return nil
}

// Get returns a copy of the position with the given id.
func (m *MockStorage) Get(id string) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return &p, nil
}

// ByStatus returns positions with the given status, newest entry first.
func (m *MockStorage) ByStatus(status models.Status) ([]models.Position, error) {
	return m.filtered(func(p models.Position) bool { return p.Status == status }), nil
}

// All returns every position, newest entry first.
func (m *MockStorage) All() ([]models.Position, error) {
	return m.filtered(func(models.Position) bool { return true }), nil
}

// ByEntryRange returns positions entered in [start, end], newest first.
func (m *MockStorage) ByEntryRange(start, end time.Time) ([]models.Position, error) {
	return m.filtered(func(p models.Position) bool {
		return !p.EntryTime.Before(start) && !p.EntryTime.After(end)
	}), nil
}

// Close is a no-op.
func (m *MockStorage) Close() error { return nil }

// InsertCalls reports how many inserts were attempted.
func (m *MockStorage) InsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCalls
}

// UpdateCalls reports how many updates were attempted.
func (m *MockStorage) UpdateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateCalls
}

func (m *MockStorage) filtered(keep func(models.Position) bool) []models.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Position
	for _, p := range m.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntryTime.After(out[j].EntryTime)
	})
	return out
}
