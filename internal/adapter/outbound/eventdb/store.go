// Package eventdb is the sqlite-backed implementation of the Pending-Event
// Store (§4.7): a durable, content-deduplicated queue of audit events
// awaiting upstream sync.
package eventdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/santa-policy/core/internal/domain/pendingevent"
)

// Logger is the minimal structured-logging surface used for self-healing
// diagnostics.
type Logger interface {
	Warnw(msg string, keysAndValues ...interface{})
}

// Store is the concrete pendingevent.Store implementation.
type Store struct {
	db     *sql.DB
	path   string
	logger Logger
}

var _ pendingevent.Store = (*Store)(nil)

// Open opens (creating if absent) the sqlite database at path and migrates
// its schema. A corrupt or unreadable file is truncated and recreated
// (§4.7.3, mirroring the Execution-Rule Store's self-healing policy).
func Open(path string, logger Logger) (*Store, error) {
	db, err := openAndMigrate(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path, logger: logger}, nil
}

func openAndMigrate(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventdb: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("eventdb: recreate after ping failure: %w", rmErr)
		}
		return openAndMigrate(path)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("eventdb: recreate after migration failure: %w", rmErr)
		}
		db, err = sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("eventdb: reopen after recreate: %w", err)
		}
		db.SetMaxOpenConns(1)
		if err := migrate(db); err != nil {
			return nil, fmt.Errorf("eventdb: migrate fresh database: %w", err)
		}
	}
	return db, nil
}

// Close implements pendingevent.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add implements pendingevent.Store. Rows failing Validate are skipped;
// conflicting UniqueIDs are silently discarded via INSERT OR IGNORE.
func (s *Store) Add(ctx context.Context, events ...pendingevent.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventdb: begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if err := e.Validate(); err != nil {
			continue
		}
		uniqueID, err := pendingevent.ComputeUniqueID(e)
		if err != nil {
			continue
		}
		payload, err := marshalPayload(e)
		if err != nil {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO pending_events (unique_id, kind, payload) VALUES (?, ?, ?)`,
			uniqueID, string(e.Kind), payload); err != nil {
			return fmt.Errorf("eventdb: insert event: %w", err)
		}
	}
	return tx.Commit()
}

// PendingCount implements pendingevent.Store.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("eventdb: count: %w", err)
	}
	return n, nil
}

// Pending implements pendingevent.Store. A row whose payload fails to
// deserialize is deleted as part of this call rather than returned or
// erroring the whole query (§4.7.2, self-healing).
func (s *Store) Pending(ctx context.Context) ([]pendingevent.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT idx, unique_id, kind, payload FROM pending_events ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("eventdb: query pending: %w", err)
	}
	defer rows.Close()

	var out []pendingevent.StoredEvent
	var corrupt []int64
	for rows.Next() {
		var idx int64
		var uniqueID, kind string
		var payload []byte
		if err := rows.Scan(&idx, &uniqueID, &kind, &payload); err != nil {
			return nil, fmt.Errorf("eventdb: scan pending: %w", err)
		}
		ev, err := unmarshalPayload(idx, uniqueID, pendingevent.Kind(kind), payload)
		if err != nil {
			if s.logger != nil {
				s.logger.Warnw("pending event payload failed to deserialize, dropping", "index", idx, "error", err.Error())
			}
			corrupt = append(corrupt, idx)
			continue
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventdb: iterate pending: %w", err)
	}

	if len(corrupt) > 0 {
		if err := s.DeleteByIDs(ctx, corrupt); err != nil {
			return nil, fmt.Errorf("eventdb: delete corrupt rows: %w", err)
		}
	}
	return out, nil
}

// DeleteByID implements pendingevent.Store.
func (s *Store) DeleteByID(ctx context.Context, index int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_events WHERE idx = ?`, index)
	if err != nil {
		return fmt.Errorf("eventdb: delete: %w", err)
	}
	return nil
}

// DeleteByIDs implements pendingevent.Store.
func (s *Store) DeleteByIDs(ctx context.Context, indices []int64) error {
	if len(indices) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventdb: begin: %w", err)
	}
	defer tx.Rollback()
	for _, idx := range indices {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_events WHERE idx = ?`, idx); err != nil {
			return fmt.Errorf("eventdb: delete batch: %w", err)
		}
	}
	return tx.Commit()
}

// jsonPayload is the serialized form of a StoredEvent's variant payload.
type jsonPayload struct {
	Execution  *pendingevent.ExecutionEvent  `json:"execution,omitempty"`
	FileAccess *pendingevent.FileAccessEvent `json:"file_access,omitempty"`
}

func marshalPayload(e pendingevent.StoredEvent) ([]byte, error) {
	return json.Marshal(jsonPayload{Execution: e.Execution, FileAccess: e.FileAccess})
}

func unmarshalPayload(idx int64, uniqueID string, kind pendingevent.Kind, raw []byte) (pendingevent.StoredEvent, error) {
	var p jsonPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return pendingevent.StoredEvent{}, err
	}
	ev := pendingevent.StoredEvent{
		Index:      idx,
		UniqueID:   uniqueID,
		Kind:       kind,
		Execution:  p.Execution,
		FileAccess: p.FileAccess,
	}
	if err := ev.Validate(); err != nil {
		return pendingevent.StoredEvent{}, err
	}
	return ev, nil
}
