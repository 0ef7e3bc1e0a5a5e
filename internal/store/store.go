// Package store persists projects and sessions to a local SQLite
// database via database/sql and the pure-Go ncruces/go-sqlite3 driver
// (no cgo). It is the external store collaborator the orchestrator and
// daemon read/write through; it never computes repair semantics itself.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/andrewboldi/canvasguard/internal/guardconfig"
	"github.com/andrewboldi/canvasguard/internal/orchestrator"
)

// ErrNotFound is returned when a project or session id has no matching
// row.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyLocked is returned when another process already holds the
// exclusive lock on the store's data file.
var ErrAlreadyLocked = errors.New("store: database file is locked by another process")

// ProjectMode mirrors the data model's mode ∈ {Image, Guard}.
type ProjectMode string

const (
	ModeImage ProjectMode = "image"
	ModeGuard ProjectMode = "guard"
)

// Project is the immutable-after-create (name, mode, config) triple plus
// its id and creation time. No chunk data is stored with a project.
type Project struct {
	ID        string
	Name      string
	Mode      ProjectMode
	Config    map[string]any
	CreatedAt time.Time
}

// Store is the persistence handle for projects and sessions.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open opens (creating if absent) the SQLite database at path and
// ensures the schema exists. A sibling path+".lock" file is held
// exclusively for the lifetime of the Store, preventing a second daemon
// instance from opening the same data file concurrently.
func Open(ctx context.Context, path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking store database: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyLocked
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("opening store database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 single-writer; avoid SQLITE_BUSY under concurrent callers

	s := &Store{db: db, lock: lock}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle and the data file lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = fmt.Errorf("unlocking store database: %w", unlockErr)
	}
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	mode TEXT NOT NULL,
	config TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	slave_ids TEXT NOT NULL,
	strategy TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY(project_id) REFERENCES projects(id)
);
`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("migrating store schema: %w", err)
	}
	return nil
}

// CreateProject inserts a new project row.
func (s *Store) CreateProject(ctx context.Context, id, name string, mode ProjectMode, config map[string]any) error {
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling project config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, mode, config, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, string(mode), string(cfgJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("inserting project %q: %w", id, err)
	}
	return nil
}

// GetProjectDetail reads the full project row by id (id, name, mode,
// config, created_at) — for callers that need more than the
// orchestrator's (mode, config) view.
func (s *Store) GetProjectDetail(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, mode, config, created_at FROM projects WHERE id = ?`, id)

	var (
		p             Project
		mode          string
		cfgJSON       string
		createdAtUnix int64
	)
	if err := row.Scan(&p.ID, &p.Name, &mode, &cfgJSON, &createdAtUnix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading project %q: %w", id, err)
	}
	p.Mode = ProjectMode(mode)
	p.CreatedAt = time.Unix(createdAtUnix, 0)
	if err := json.Unmarshal([]byte(cfgJSON), &p.Config); err != nil {
		return nil, fmt.Errorf("decoding project %q config: %w", id, err)
	}
	return &p, nil
}

// GetProject reads a project's mode/config, satisfying orchestrator.Store:
// Start needs exactly these two fields to seed a session's workers.
func (s *Store) GetProject(ctx context.Context, id string) (*orchestrator.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT mode, config FROM projects WHERE id = ?`, id)

	var mode, cfgJSON string
	if err := row.Scan(&mode, &cfgJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading project %q: %w", id, err)
	}
	var config map[string]any
	if err := json.Unmarshal([]byte(cfgJSON), &config); err != nil {
		return nil, fmt.Errorf("decoding project %q config: %w", id, err)
	}
	return &orchestrator.Project{Mode: mode, Config: config}, nil
}

// CreateSession inserts a new session row in status "created".
func (s *Store) CreateSession(ctx context.Context, id, projectID string, slaveIDs []string, strategy string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, project_id, slave_ids, strategy, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, projectID, strings.Join(slaveIDs, ","), strategy, string(orchestrator.StatusCreated), now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting session %q: %w", id, err)
	}
	return nil
}

// GetSession reads a session by id, satisfying orchestrator.Store.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*orchestrator.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, slave_ids, strategy, status FROM sessions WHERE id = ?`, sessionID)

	var (
		id, projectID, slaveIDsCSV, strategy, status string
	)
	if err := row.Scan(&id, &projectID, &slaveIDsCSV, &strategy, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading session %q: %w", sessionID, err)
	}

	var slaveIDs []string
	if slaveIDsCSV != "" {
		slaveIDs = strings.Split(slaveIDsCSV, ",")
	}
	return &orchestrator.Session{
		ID:        id,
		ProjectID: projectID,
		SlaveIDs:  slaveIDs,
		Strategy:  guardconfig.ChargeStrategy(strategy),
		Status:    orchestrator.SessionStatus(status),
	}, nil
}

// SetSessionStatus updates a session's status and updated_at columns,
// satisfying orchestrator.Store.
func (s *Store) SetSessionStatus(ctx context.Context, sessionID string, status orchestrator.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("updating session %q status: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for session %q: %w", sessionID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProjects returns every project row, for UI snapshot assembly.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, mode, config, created_at FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		var (
			p             Project
			mode          string
			cfgJSON       string
			createdAtUnix int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &mode, &cfgJSON, &createdAtUnix); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		p.Mode = ProjectMode(mode)
		p.CreatedAt = time.Unix(createdAtUnix, 0)
		if err := json.Unmarshal([]byte(cfgJSON), &p.Config); err != nil {
			return nil, fmt.Errorf("decoding project %q config: %w", p.ID, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListSessions returns every session row, for UI snapshot assembly.
func (s *Store) ListSessions(ctx context.Context) ([]*orchestrator.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, slave_ids, strategy, status FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*orchestrator.Session
	for rows.Next() {
		var id, projectID, slaveIDsCSV, strategy, status string
		if err := rows.Scan(&id, &projectID, &slaveIDsCSV, &strategy, &status); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		var slaveIDs []string
		if slaveIDsCSV != "" {
			slaveIDs = strings.Split(slaveIDsCSV, ",")
		}
		out = append(out, &orchestrator.Session{
			ID:        id,
			ProjectID: projectID,
			SlaveIDs:  slaveIDs,
			Strategy:  guardconfig.ChargeStrategy(strategy),
			Status:    orchestrator.SessionStatus(status),
		})
	}
	return out, rows.Err()
}
