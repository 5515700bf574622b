package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/tripstream/internal/storage"
)

// Store is a SQLite implementation of storage.Provider.
type Store struct {
	db *sql.DB
}

var _ storage.Provider = (*Store)(nil)

// New opens (creating if needed) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			user_message TEXT,
			metadata TEXT,
			result TEXT NOT NULL,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS frames (
			session_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveResult(ctx context.Context, rec *storage.SessionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	res, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `INSERT INTO sessions (id, status, user_message, metadata, result, error, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET
	            status=excluded.status,
	            user_message=excluded.user_message,
	            metadata=excluded.metadata,
	            result=excluded.result,
	            error=excluded.error,
	            updated_at=excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Status, rec.UserMessage, string(metadata), string(res), rec.Error, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

func (s *Store) GetResult(ctx context.Context, id string) (*storage.SessionRecord, error) {
	query := `SELECT id, status, user_message, metadata, result, error, created_at, updated_at
	          FROM sessions WHERE id = ?`

	rec, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return rec, nil
}

func (s *Store) ListResults(ctx context.Context, opts storage.ListOptions) ([]*storage.SessionRecord, error) {
	query := `SELECT id, status, user_message, metadata, result, error, created_at, updated_at
	          FROM sessions
	          ORDER BY updated_at DESC
	          LIMIT ? OFFSET ?`

	limit := opts.Limit
	if limit == 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, query, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []*storage.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*storage.SessionRecord, error) {
	var (
		rec                 storage.SessionRecord
		userMessage, errMsg sql.NullString
		metadata            sql.NullString
		resultJSON          string
	)

	if err := row.Scan(&rec.ID, &rec.Status, &userMessage, &metadata, &resultJSON,
		&errMsg, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.UserMessage = userMessage.String
	rec.Error = errMsg.String

	if metadata.Valid && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(resultJSON), &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &rec, nil
}

func (s *Store) AppendFrame(ctx context.Context, frame *storage.StoredFrame) error {
	if frame.CreatedAt.IsZero() {
		frame.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO frames (session_id, idx, payload, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, frame.SessionID, frame.Index, frame.Payload, frame.CreatedAt); err != nil {
		return fmt.Errorf("failed to append frame: %w", err)
	}
	return nil
}

func (s *Store) ListFrames(ctx context.Context, sessionID string) ([]*storage.StoredFrame, error) {
	query := `SELECT session_id, idx, payload, created_at
	          FROM frames WHERE session_id = ?
	          ORDER BY idx ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var frames []*storage.StoredFrame
	for rows.Next() {
		var f storage.StoredFrame
		if err := rows.Scan(&f.SessionID, &f.Index, &f.Payload, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		frames = append(frames, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("frames for session %s: %w", sessionID, storage.ErrNotFound)
	}

	return frames, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
