package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nileshpandit/optionflow/internal/models"
)

// JSONStorage persists positions to a single JSON file with atomic
// write-then-rename saves. Suited to the engine's small working set.
type JSONStorage struct {
	mu       sync.RWMutex
	filepath string
	data     *jsonData
}

type jsonData struct {
	Positions   []models.Position `json:"positions"`
	LastUpdated time.Time         `json:"last_updated"`
}

// NewJSONStorage creates a JSON-file backend, loading existing data if the
// file is present.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath: path,
		data:     &jsonData{},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

var _ Interface = (*JSONStorage)(nil)

func (s *JSONStorage) load() error {
	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, s.data)
}

// save must be called with the write lock held.
func (s *JSONStorage) save() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filepath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}

	// Write to temp file first, then atomic rename.
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// Insert stores a new position.
func (s *JSONStorage) Insert(p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID == p.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
		}
	}
	s.data.Positions = append(s.data.Positions, *p)
	return s.save()
}

// Update rewrites an existing position record.
func (s *JSONStorage) Update(p *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID == p.ID {
			s.data.Positions[i] = *p
			return s.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrPositionNotFound, p.ID)
}

// Get returns a copy of the position with the given id.
func (s *JSONStorage) Get(id string) (*models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.data.Positions {
		if s.data.Positions[i].ID == id {
			p := s.data.Positions[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
}

// ByStatus returns positions with the given status, newest entry first.
func (s *JSONStorage) ByStatus(status models.Status) ([]models.Position, error) {
	return s.filtered(func(p *models.Position) bool {
		return p.Status == status
	}), nil
}

// All returns every position, newest entry first.
func (s *JSONStorage) All() ([]models.Position, error) {
	return s.filtered(func(*models.Position) bool { return true }), nil
}

// ByEntryRange returns positions entered in [start, end], newest first.
func (s *JSONStorage) ByEntryRange(start, end time.Time) ([]models.Position, error) {
	return s.filtered(func(p *models.Position) bool {
		return !p.EntryTime.Before(start) && !p.EntryTime.After(end)
	}), nil
}

func (s *JSONStorage) filtered(keep func(*models.Position) bool) []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Position
	for i := range s.data.Positions {
		if keep(&s.data.Positions[i]) {
			out = append(out, s.data.Positions[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntryTime.After(out[j].EntryTime)
	})
	return out
}

// Close is a no-op for the JSON backend; every mutation saves eagerly.
func (s *JSONStorage) Close() error {
	return nil
}
