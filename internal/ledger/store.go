package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable copy of the ledger. One row per unit; the
// transcript is stored as a single compressed blob written at the terminal
// transition.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (and if needed creates) the unit database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		op TEXT NOT NULL,
		target TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		completed_at INTEGER,
		error TEXT,
		artifacts TEXT,
		transcript BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_units_created ON units(created_at);
	CREATE INDEX IF NOT EXISTS idx_units_project ON units(project_id);
	CREATE INDEX IF NOT EXISTS idx_units_status ON units(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveCreated inserts the unit's initial running row.
func (s *SQLiteStore) SaveCreated(ctx context.Context, unit *Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO units (id, project_id, op, target, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		unit.ID, unit.ProjectID, unit.Op, unit.Target, string(unit.Status), unit.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}
	return nil
}

// SaveTerminal records the unit's final state, artifacts, and compressed
// transcript. The upsert covers units whose create insert was lost.
func (s *SQLiteStore) SaveTerminal(ctx context.Context, unit *Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt sql.NullInt64
	if unit.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: unit.CompletedAt.UnixNano(), Valid: true}
	}

	artifactsJSON, err := json.Marshal(unit.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	transcript, err := encodeTranscript(unit.Lines)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO units (id, project_id, op, target, status, created_at, completed_at, error, artifacts, transcript)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			error = excluded.error,
			artifacts = excluded.artifacts,
			transcript = excluded.transcript`,
		unit.ID, unit.ProjectID, unit.Op, unit.Target, string(unit.Status),
		unit.CreatedAt.UnixNano(), completedAt, unit.Error, string(artifactsJSON), transcript,
	)
	if err != nil {
		return fmt.Errorf("upsert unit: %w", err)
	}
	return nil
}

// FailRunning marks every running unit failed with the given reason and
// returns how many rows changed. Called once at startup; a unit cannot be
// running when no process is executing it.
func (s *SQLiteStore) FailRunning(ctx context.Context, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE units SET status = ?, error = ?, completed_at = ? WHERE status = ?",
		string(StatusFailed), reason, time.Now().UnixNano(), string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("fail running units: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(affected), nil
}

// LoadUnit reads one unit with its full transcript.
func (s *SQLiteStore) LoadUnit(ctx context.Context, id string) (*Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, op, target, status, created_at, completed_at, error, artifacts, transcript FROM units WHERE id = ?",
		id,
	)
	unit, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return unit, err
}

// LoadRecent returns the most recently created units, oldest first.
func (s *SQLiteStore) LoadRecent(ctx context.Context, limit int) ([]*Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, op, target, status, created_at, completed_at, error, artifacts, transcript FROM units ORDER BY created_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var units []*Unit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	// Reverse into creation order.
	for i, j := 0, len(units)-1; i < j; i, j = i+1, j-1 {
		units[i], units[j] = units[j], units[i]
	}
	return units, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*Unit, error) {
	var (
		unit          Unit
		status        string
		createdNano   int64
		completedNano sql.NullInt64
		errText       sql.NullString
		artifactsJSON sql.NullString
		transcript    []byte
	)

	err := row.Scan(&unit.ID, &unit.ProjectID, &unit.Op, &unit.Target, &status,
		&createdNano, &completedNano, &errText, &artifactsJSON, &transcript)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan unit: %w", err)
	}

	unit.Status = Status(status)
	unit.CreatedAt = time.Unix(0, createdNano)
	if completedNano.Valid {
		completed := time.Unix(0, completedNano.Int64)
		unit.CompletedAt = &completed
	}
	if errText.Valid {
		unit.Error = errText.String
	}
	if artifactsJSON.Valid && artifactsJSON.String != "" {
		if err := json.Unmarshal([]byte(artifactsJSON.String), &unit.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	if len(transcript) > 0 {
		lines, err := decodeTranscript(transcript)
		if err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
		unit.Lines = lines
	}

	return &unit, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
