package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prathyushnallamothu/botforge/pkg/agent"
	"github.com/prathyushnallamothu/botforge/pkg/session"
	_ "modernc.org/sqlite"
)

// SQLiteStore archives session snapshots and saved flows. It implements
// session.Archiver.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the archive database
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode keeps concurrent session archiving from tripping over itself.
	// The _pragma form applies to every pooled connection, not just the first.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		turns_json TEXT NOT NULL,
		flow_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS flows (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		flow_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_flows_session ON flows(session_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSession upserts a session snapshot
func (s *SQLiteStore) SaveSession(ctx context.Context, snapshot *session.Snapshot) error {
	turnsJSON, err := json.Marshal(snapshot.Turns)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	var flowJSON sql.NullString
	if snapshot.Flow != nil {
		data, err := json.Marshal(snapshot.Flow)
		if err != nil {
			return fmt.Errorf("marshal flow: %w", err)
		}
		flowJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO sessions (id, status, turns_json, flow_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			turns_json = excluded.turns_json,
			flow_json = excluded.flow_json,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		snapshot.ID, string(snapshot.Status), string(turnsJSON), flowJSON,
		snapshot.CreatedAt.Unix(), snapshot.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes an archived session
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// LoadSessions returns all archived session snapshots
func (s *SQLiteStore) LoadSessions(ctx context.Context) ([]*session.Snapshot, error) {
	query := `SELECT id, status, turns_json, flow_json, created_at, updated_at FROM sessions`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var snapshots []*session.Snapshot
	for rows.Next() {
		var (
			snapshot  session.Snapshot
			status    string
			turnsJSON string
			flowJSON  sql.NullString
			createdAt int64
			updatedAt int64
		)

		if err := rows.Scan(&snapshot.ID, &status, &turnsJSON, &flowJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		if err := json.Unmarshal([]byte(turnsJSON), &snapshot.Turns); err != nil {
			return nil, fmt.Errorf("parse transcript for session %s: %w", snapshot.ID, err)
		}
		if flowJSON.Valid {
			if err := json.Unmarshal([]byte(flowJSON.String), &snapshot.Flow); err != nil {
				return nil, fmt.Errorf("parse flow for session %s: %w", snapshot.ID, err)
			}
		}

		snapshot.Status = agent.Status(status)
		snapshot.CreatedAt = time.Unix(createdAt, 0)
		snapshot.UpdatedAt = time.Unix(updatedAt, 0)
		snapshots = append(snapshots, &snapshot)
	}

	return snapshots, rows.Err()
}

// SaveFlow archives a named flow document and returns its identifier
func (s *SQLiteStore) SaveFlow(ctx context.Context, sessionID, name string, doc map[string]any) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal flow: %w", err)
	}

	id := uuid.NewString()
	query := `INSERT INTO flows (id, session_id, name, flow_json, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id, sessionID, name, string(data), time.Now().Unix()); err != nil {
		return "", fmt.Errorf("insert flow: %w", err)
	}

	return id, nil
}
