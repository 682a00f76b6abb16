package filemanagement

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/ccc/db"
	"github.com/Shellsight/disaster-mapping-segmentation/client/relay-client/models"
	_ "github.com/mattn/go-sqlite3"
)

// Outcome is a capture file that reached a terminal state and was kept on disk
type Outcome struct {
	ID         string
	Path       string
	CapturedAt time.Time
	State      models.RecordState
}

// OutcomeLedger remembers terminal files across restarts so they are never
// adopted as new captures.
type OutcomeLedger interface {
	// Record inserts or replaces the outcome for a file
	Record(outcome Outcome) error

	// Remove forgets a file. Unknown IDs are not an error.
	Remove(id string) error

	// List returns all outcomes, oldest capture first
	List() ([]Outcome, error)
}

// SQLiteOutcomeLedger implements OutcomeLedger using SQLite
type SQLiteOutcomeLedger struct {
	db *sql.DB
}

// NewSQLiteOutcomeLedger creates the ledger and its table
func NewSQLiteOutcomeLedger(db *sql.DB) (*SQLiteOutcomeLedger, error) {
	ledger := &SQLiteOutcomeLedger{db: db}
	if err := ledger.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return ledger, nil
}

func (l *SQLiteOutcomeLedger) createTables() error {
	createOutcomesTable := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		captured_at TEXT NOT NULL,
		state TEXT NOT NULL
	);`

	_, err := l.db.Exec(createOutcomesTable)
	return err
}

func (l *SQLiteOutcomeLedger) Record(outcome Outcome) error {
	query := `INSERT OR REPLACE INTO outcomes (id, path, captured_at, state) VALUES (?, ?, ?, ?)`

	_, err := l.db.Exec(query, outcome.ID, outcome.Path, db.TimeToString(outcome.CapturedAt), string(outcome.State))
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

func (l *SQLiteOutcomeLedger) Remove(id string) error {
	if _, err := l.db.Exec("DELETE FROM outcomes WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove outcome: %w", err)
	}
	return nil
}

func (l *SQLiteOutcomeLedger) List() ([]Outcome, error) {
	rows, err := l.db.Query("SELECT id, path, captured_at, state FROM outcomes ORDER BY captured_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var capturedAt, state string
		if err := rows.Scan(&o.ID, &o.Path, &capturedAt, &state); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.CapturedAt, err = db.StringToTime(capturedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse capture time: %w", err)
		}
		o.State = models.RecordState(state)
		outcomes = append(outcomes, o)
	}

	return outcomes, rows.Err()
}
