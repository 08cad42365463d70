// Package checkpoint persists workflow checkpoints in SQLite.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id TEXT NOT NULL,
	checkpoint_ns TEXT NOT NULL DEFAULT '',
	checkpoint_id TEXT NOT NULL,
	parent_checkpoint_id TEXT,
	type TEXT,
	checkpoint BLOB,
	metadata BLOB,
	PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
);
CREATE TABLE IF NOT EXISTS writes (
	thread_id TEXT NOT NULL,
	checkpoint_ns TEXT NOT NULL DEFAULT '',
	checkpoint_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	channel TEXT NOT NULL,
	type TEXT,
	value BLOB,
	PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, idx)
);`

const serdeType = "json"

var _ ports.Checkpointer = (*Saver)(nil)

// Saver stores checkpoints and pending writes.
type Saver struct {
	db   *sql.DB
	path string
}

// Open connects to a database file, or an in-memory database for Memory.
func Open(connString string) (*Saver, error) {
	connString = strings.TrimSpace(connString)
	if connString == "" {
		return nil, fmt.Errorf("%w: checkpoint path is empty", domain.ErrConfiguration)
	}
	dsn := connString
	if connString != Memory {
		if err := os.MkdirAll(filepath.Dir(connString), 0o755); err != nil {
			return nil, fmt.Errorf("create checkpoint dir: %w", err)
		}
		dsn = connString + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if connString == Memory {
		// every new connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init checkpoint schema: %w", err)
	}
	return &Saver{db: db, path: connString}, nil
}

// Close closes the database.
func (s *Saver) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the connection string the saver was opened with.
func (s *Saver) Path() string { return s.path }

// Put stores cp as the newest checkpoint of the thread. cfg.CheckpointID, when
// set, is recorded as the parent. The returned config addresses the new checkpoint.
func (s *Saver) Put(ctx context.Context, cfg ports.CheckpointConfig, cp ports.Checkpoint, md ports.CheckpointMetadata) (ports.CheckpointConfig, error) {
	if cfg.ThreadID == "" {
		return ports.CheckpointConfig{}, errors.New("checkpoint thread id is required")
	}
	if cp.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return ports.CheckpointConfig{}, err
		}
		cp.ID = id.String()
	}
	if cp.TS.IsZero() {
		cp.TS = time.Now().UTC()
	}
	cpData, err := json.Marshal(cp)
	if err != nil {
		return ports.CheckpointConfig{}, fmt.Errorf("encode checkpoint: %w", err)
	}
	mdData, err := json.Marshal(md)
	if err != nil {
		return ports.CheckpointConfig{}, fmt.Errorf("encode metadata: %w", err)
	}
	var parent sql.NullString
	if cfg.CheckpointID != "" {
		parent = sql.NullString{String: cfg.CheckpointID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, type, checkpoint, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cfg.ThreadID, cfg.Namespace, cp.ID, parent, serdeType, cpData, mdData)
	if err != nil {
		return ports.CheckpointConfig{}, fmt.Errorf("put checkpoint: %w", err)
	}
	return ports.CheckpointConfig{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: cp.ID}, nil
}

// GetTuple returns the addressed checkpoint, or the latest one of the thread
// when cfg.CheckpointID is empty. Missing checkpoints yield domain.ErrNotFound.
func (s *Saver) GetTuple(ctx context.Context, cfg ports.CheckpointConfig) (ports.CheckpointTuple, error) {
	var row *sql.Row
	if cfg.CheckpointID != "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata FROM checkpoints
			 WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`,
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata FROM checkpoints
			 WHERE thread_id = ? AND checkpoint_ns = ? ORDER BY checkpoint_id DESC LIMIT 1`,
			cfg.ThreadID, cfg.Namespace)
	}
	tuple, err := scanTuple(row, cfg)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.CheckpointTuple{}, fmt.Errorf("checkpoint %s/%s: %w", cfg.ThreadID, cfg.CheckpointID, domain.ErrNotFound)
	}
	if err != nil {
		return ports.CheckpointTuple{}, err
	}
	writes, err := s.pendingWrites(ctx, tuple.Config)
	if err != nil {
		return ports.CheckpointTuple{}, err
	}
	tuple.PendingWrites = writes
	return tuple, nil
}

// List returns checkpoints of a thread, newest first.
func (s *Saver) List(ctx context.Context, cfg ports.CheckpointConfig, opts ports.CheckpointListOptions) ([]ports.CheckpointTuple, error) {
	query := `SELECT checkpoint_id, parent_checkpoint_id, checkpoint, metadata FROM checkpoints
		WHERE thread_id = ? AND checkpoint_ns = ?`
	args := []any{cfg.ThreadID, cfg.Namespace}
	if opts.Before != "" {
		query += ` AND checkpoint_id < ?`
		args = append(args, opts.Before)
	}
	query += ` ORDER BY checkpoint_id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []ports.CheckpointTuple
	for rows.Next() {
		t, err := scanTuple(rows, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()
	for i := range out {
		if out[i].PendingWrites, err = s.pendingWrites(ctx, out[i].Config); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PutWrites records pending writes for a checkpoint. Re-sending the same
// (task, index) pair replaces the earlier value.
func (s *Saver) PutWrites(ctx context.Context, cfg ports.CheckpointConfig, taskID string, writes []ports.PendingWrite) error {
	if cfg.CheckpointID == "" {
		return errors.New("pending writes need a checkpoint id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for i, w := range writes {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO writes (thread_id, checkpoint_ns, checkpoint_id, task_id, idx, channel, type, value)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID, taskID, i, w.Channel, serdeType, []byte(w.Value))
		if err != nil {
			return fmt.Errorf("put write %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// DeleteThread removes every checkpoint and write of a thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM writes WHERE thread_id = ?`, threadID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Saver) pendingWrites(ctx context.Context, cfg ports.CheckpointConfig) ([]ports.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, channel, value FROM writes
		 WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ? ORDER BY task_id, idx`,
		cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	if err != nil {
		return nil, fmt.Errorf("load writes: %w", err)
	}
	defer rows.Close()
	var out []ports.PendingWrite
	for rows.Next() {
		var w ports.PendingWrite
		var value []byte
		if err := rows.Scan(&w.TaskID, &w.Channel, &value); err != nil {
			return nil, err
		}
		w.Value = json.RawMessage(value)
		out = append(out, w)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTuple(row scanner, cfg ports.CheckpointConfig) (ports.CheckpointTuple, error) {
	var (
		id     string
		parent sql.NullString
		cpData []byte
		mdData []byte
	)
	if err := row.Scan(&id, &parent, &cpData, &mdData); err != nil {
		return ports.CheckpointTuple{}, err
	}
	t := ports.CheckpointTuple{
		Config: ports.CheckpointConfig{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: id},
	}
	if err := json.Unmarshal(cpData, &t.Checkpoint); err != nil {
		return t, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	if len(mdData) > 0 {
		if err := json.Unmarshal(mdData, &t.Metadata); err != nil {
			return t, fmt.Errorf("decode metadata %s: %w", id, err)
		}
	}
	if parent.Valid {
		t.ParentConfig = &ports.CheckpointConfig{ThreadID: cfg.ThreadID, Namespace: cfg.Namespace, CheckpointID: parent.String}
	}
	return t, nil
}
