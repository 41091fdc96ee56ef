// Package storage provides durable persistence for position records.
package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/nileshpandit/optionflow/internal/models"
)

// ErrPositionNotFound is returned when no position exists for an id.
var ErrPositionNotFound = errors.New("position not found")

// ErrDuplicateID is returned when inserting a position whose id already exists.
var ErrDuplicateID = errors.New("position id already exists")

// Interface defines the contract for position persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe. Read methods return copies; mutating a returned
// position never changes stored state without an explicit Update.
type Interface interface {
	// Insert stores a new position. The id must be unique.
	Insert(p *models.Position) error

	// Update rewrites an existing position record.
	Update(p *models.Position) error

	// Get returns the position with the given id.
	Get(id string) (*models.Position, error)

	// ByStatus returns positions with the given status, newest entry first.
	ByStatus(status models.Status) ([]models.Position, error)

	// All returns every position, newest entry first.
	All() ([]models.Position, error)

	// ByEntryRange returns positions entered in [start, end], newest first.
	ByEntryRange(start, end time.Time) ([]models.Position, error)

	// Close releases underlying resources.
	Close() error
}

// New creates a storage backend for the configured driver.
func New(driver, path string) (Interface, error) {
	switch driver {
	case "json", "":
		return NewJSONStorage(path)
	case "sqlite":
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
