package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nileshpandit/optionflow/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id             TEXT PRIMARY KEY,
	order_id       TEXT NOT NULL,
	instrument     TEXT NOT NULL,
	trading_symbol TEXT NOT NULL,
	strike         REAL NOT NULL,
	class          TEXT NOT NULL,
	quantity       INTEGER NOT NULL,
	entry_price    REAL NOT NULL,
	exit_price     REAL,
	pnl            REAL,
	entry_time     TEXT NOT NULL,
	exit_time      TEXT,
	status         TEXT NOT NULL,
	paper_trade    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_positions_entry_time ON positions(entry_time);
`

// SQLiteStorage persists positions to a SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) a SQLite-backed position store.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

var _ Interface = (*SQLiteStorage)(nil)

const positionColumns = `id, order_id, instrument, trading_symbol, strike, class,
	quantity, entry_price, exit_price, pnl, entry_time, exit_time, status, paper_trade`

// Insert stores a new position.
func (s *SQLiteStorage) Insert(p *models.Position) error {
	_, err := s.db.Exec(`
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrderID, p.Instrument, p.TradingSymbol, p.Strike, string(p.Class),
		p.Quantity, p.EntryPrice, nullFloat(p.ExitPrice), nullFloat(p.PnL),
		p.EntryTime.UTC().Format(time.RFC3339Nano), nullTime(p.ExitTime),
		string(p.Status), boolInt(p.PaperTrade),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrDuplicateID, p.ID)
	}
	return err
}

// Update rewrites an existing position record.
func (s *SQLiteStorage) Update(p *models.Position) error {
	res, err := s.db.Exec(`
		UPDATE positions
		SET exit_price = ?, pnl = ?, exit_time = ?, status = ?
		WHERE id = ?`,
		nullFloat(p.ExitPrice), nullFloat(p.PnL), nullTime(p.ExitTime),
		string(p.Status), p.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, p.ID)
	}
	return nil
}

// Get returns the position with the given id.
func (s *SQLiteStorage) Get(id string) (*models.Position, error) {
	row := s.db.QueryRow(`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return p, err
}

// ByStatus returns positions with the given status, newest entry first.
func (s *SQLiteStorage) ByStatus(status models.Status) ([]models.Position, error) {
	return s.query(`SELECT `+positionColumns+` FROM positions
		WHERE status = ? ORDER BY entry_time DESC`, string(status))
}

// All returns every position, newest entry first.
func (s *SQLiteStorage) All() ([]models.Position, error) {
	return s.query(`SELECT ` + positionColumns + ` FROM positions ORDER BY entry_time DESC`)
}

// ByEntryRange returns positions entered in [start, end], newest first.
func (s *SQLiteStorage) ByEntryRange(start, end time.Time) ([]models.Position, error) {
	return s.query(`SELECT `+positionColumns+` FROM positions
		WHERE entry_time >= ? AND entry_time <= ? ORDER BY entry_time DESC`,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
}

// Close closes the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) query(q string, args ...interface{}) ([]models.Position, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row scanner) (*models.Position, error) {
	var (
		p         models.Position
		class     string
		status    string
		entryTime string
		exitPrice sql.NullFloat64
		pnl       sql.NullFloat64
		exitTime  sql.NullString
		paper     int
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.Instrument, &p.TradingSymbol, &p.Strike, &class,
		&p.Quantity, &p.EntryPrice, &exitPrice, &pnl, &entryTime, &exitTime, &status, &paper)
	if err != nil {
		return nil, err
	}

	p.Class = models.OptionClass(class)
	p.Status = models.Status(status)
	p.PaperTrade = paper != 0

	p.EntryTime, err = time.Parse(time.RFC3339Nano, entryTime)
	if err != nil {
		return nil, fmt.Errorf("parsing entry_time for %s: %w", p.ID, err)
	}
	if exitPrice.Valid {
		v := exitPrice.Float64
		p.ExitPrice = &v
	}
	if pnl.Valid {
		v := pnl.Float64
		p.PnL = &v
	}
	if exitTime.Valid {
		t, err := time.Parse(time.RFC3339Nano, exitTime.String)
		if err != nil {
			return nil, fmt.Errorf("parsing exit_time for %s: %w", p.ID, err)
		}
		p.ExitTime = &t
	}
	return &p, nil
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
