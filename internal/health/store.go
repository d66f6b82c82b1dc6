package health

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Run is one persisted health report run.
type Run struct {
	ID           string
	CreatedAt    time.Time
	ErrorCount   int
	WarningCount int
	ReportPath   string
	Offenders    []Offender
}

// Store persists health report runs in SQLite. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a run history store at the given database path.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS health_runs (
		id            TEXT PRIMARY KEY,
		created_at    TEXT NOT NULL,
		error_count   INTEGER NOT NULL,
		warning_count INTEGER NOT NULL,
		report_path   TEXT NOT NULL,
		offenders     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_health_runs_created
		ON health_runs (created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun persists an analysis as a new run and returns its ID.
func (s *Store) SaveRun(a Analysis, reportPath string) (string, error) {
	offenders, err := json.Marshal(a.Offenders)
	if err != nil {
		return "", fmt.Errorf("marshal offenders: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.Exec(
		`INSERT INTO health_runs (id, created_at, error_count, warning_count, report_path, offenders)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano),
		a.ErrorCount, a.WarningCount, reportPath, string(offenders),
	)
	if err != nil {
		return "", fmt.Errorf("save run: %w", err)
	}
	return id, nil
}

// LatestRun returns the most recent run, or nil when no runs exist.
func (s *Store) LatestRun() (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, error_count, warning_count, report_path, offenders
		 FROM health_runs ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// History returns the most recent runs, newest first, capped at limit.
func (s *Store) History(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.Query(
		`SELECT id, created_at, error_count, warning_count, report_path, offenders
		 FROM health_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var createdAt, offenders string
	if err := row.Scan(&run.ID, &createdAt, &run.ErrorCount, &run.WarningCount, &run.ReportPath, &offenders); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		run.CreatedAt = t
	}
	if err := json.Unmarshal([]byte(offenders), &run.Offenders); err != nil {
		return nil, fmt.Errorf("unmarshal offenders: %w", err)
	}
	return &run, nil
}
