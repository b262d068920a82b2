package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/store"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    text TEXT NOT NULL,
    parts_json TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_session_seq ON messages (session_id, seq);
`

// Store persists records in a sqlite database. seq keeps append order
// even when two records share a timestamp.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// DSNForFile enables WAL and a busy timeout so that the fire-and-forget
// writers do not trip over each other.
func DSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func Open(ctx context.Context, path string) (*Store, error) {
	dsn, err := DSNForFile(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: open")
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaV1); err != nil {
		return errors.Wrap(err, "sqlite store: migrate")
	}
	return nil
}

func (s *Store) Append(ctx context.Context, r store.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	parts, err := json.Marshal(r.Parts)
	if err != nil {
		return errors.Wrap(err, "sqlite store: encode parts")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, text, parts_json, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, string(r.Role), r.Text, string(parts), r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Wrapf(store.ErrDuplicateID, "append %s", r.ID)
		}
		return errors.Wrap(err, "sqlite store: insert")
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, limit int, options ...store.ListOption) ([]store.Record, error) {
	if err := store.ValidateLimit(limit); err != nil {
		return nil, err
	}
	o := store.NewListOptions(options...)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	var rows *sql.Rows
	var err error
	const cols = `SELECT id, session_id, role, text, parts_json, created_at_ms FROM messages`
	if o.SessionID != "" {
		rows, err = s.db.QueryContext(ctx, cols+` WHERE session_id = ? ORDER BY seq DESC LIMIT ?`, o.SessionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, cols+` ORDER BY seq DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: query")
	}
	defer func() {
		_ = rows.Close()
	}()

	ret := []store.Record{}
	for rows.Next() {
		var r store.Record
		var role, parts string
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.SessionID, &role, &r.Text, &parts, &createdAt); err != nil {
			return nil, errors.Wrap(err, "sqlite store: scan")
		}
		r.Role = conversation.Role(role)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		var decoded conversation.Parts
		if err := json.Unmarshal([]byte(parts), &decoded); err != nil {
			return nil, errors.Wrapf(err, "sqlite store: decode parts of %s", r.ID)
		}
		r.Parts = decoded
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
