package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
)

var (
	bucketSettings = []byte("settings")
	bucketRuns     = []byte("agent_runs")
	bucketThreads  = []byte("runs_by_thread")
)

// ErrLocked means another process, usually "shep ui", holds the database.
var ErrLocked = errors.New("state store is in use by another shep process")

var (
	_ ports.SettingsRepository = (*Store)(nil)
	_ ports.AgentRunRepository = (*Store)(nil)
)

// Store wraps a BoltDB instance holding settings and agent runs.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// New opens (or creates) the database at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSettings, bucketRuns, bucketThreads} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize writes settings only when none exist yet.
func (s *Store) Initialize(_ context.Context, st domain.Settings) error {
	st.ID = domain.SettingsID
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b.Get([]byte(domain.SettingsID)) != nil {
			return nil
		}
		return b.Put([]byte(domain.SettingsID), data)
	})
}

// Load returns the stored settings or domain.ErrNotFound.
func (s *Store) Load(_ context.Context) (domain.Settings, error) {
	var st domain.Settings
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get([]byte(domain.SettingsID))
		if data == nil {
			return domain.ErrNotFound
		}
		return json.Unmarshal(data, &st)
	})
	return st, err
}

// Update overwrites existing settings. It fails with domain.ErrNotFound if
// settings were never initialized.
func (s *Store) Update(_ context.Context, st domain.Settings) error {
	st.ID = domain.SettingsID
	st.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b.Get([]byte(domain.SettingsID)) == nil {
			return domain.ErrNotFound
		}
		return b.Put([]byte(domain.SettingsID), data)
	})
}

// Create stores a new run. Duplicate ids are rejected.
func (s *Store) Create(_ context.Context, run domain.AgentRun) error {
	if run.ID == "" {
		return fmt.Errorf("agent run id is required")
	}
	now := s.now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b.Get([]byte(run.ID)) != nil {
			return fmt.Errorf("agent run %s already exists", run.ID)
		}
		if err := b.Put([]byte(run.ID), data); err != nil {
			return err
		}
		if run.ThreadID != "" {
			return tx.Bucket(bucketThreads).Put([]byte(run.ThreadID), []byte(run.ID))
		}
		return nil
	})
}

// FindByID returns a run or domain.ErrNotFound.
func (s *Store) FindByID(_ context.Context, id string) (domain.AgentRun, error) {
	var run domain.AgentRun
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		run, err = getRun(tx, id)
		return err
	})
	return run, err
}

// FindByThreadID resolves a run through the thread index.
func (s *Store) FindByThreadID(_ context.Context, threadID string) (domain.AgentRun, error) {
	var run domain.AgentRun
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketThreads).Get([]byte(threadID))
		if id == nil {
			return domain.ErrNotFound
		}
		var err error
		run, err = getRun(tx, string(id))
		return err
	})
	return run, err
}

// UpdateStatus moves a run to status and applies the optional fields in upd.
// Rewriting the same status is only allowed while running, to record phase
// and session changes.
func (s *Store) UpdateStatus(_ context.Context, id string, status domain.AgentRunStatus, upd ports.RunUpdate) (domain.AgentRun, error) {
	return s.mutate(id, status, upd, func(run domain.AgentRun) error {
		if run.Status == status && status == domain.RunRunning {
			return nil
		}
		if !run.Status.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, run.Status, status)
		}
		return nil
	})
}

// TransitionFrom moves a run to status only when it currently is in one of from.
func (s *Store) TransitionFrom(_ context.Context, id string, from []domain.AgentRunStatus, to domain.AgentRunStatus, upd ports.RunUpdate) (domain.AgentRun, error) {
	return s.mutate(id, to, upd, func(run domain.AgentRun) error {
		if !slices.Contains(from, run.Status) || !run.Status.CanTransition(to) {
			return fmt.Errorf("%w: run %s is %s", domain.ErrInvalidTransition, run.ID, run.Status)
		}
		return nil
	})
}

func (s *Store) mutate(id string, status domain.AgentRunStatus, upd ports.RunUpdate, allow func(domain.AgentRun) error) (domain.AgentRun, error) {
	var run domain.AgentRun
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		run, err = getRun(tx, id)
		if err != nil {
			return err
		}
		if err := allow(run); err != nil {
			return err
		}
		run.Status = status
		applyUpdate(&run, upd)
		run.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRuns).Put([]byte(id), data)
	})
	return run, err
}

// FindRunningByPID returns runs still marked running for a process id.
func (s *Store) FindRunningByPID(ctx context.Context, pid int) ([]domain.AgentRun, error) {
	runs, err := s.List(ctx, ports.ListOptions{Status: domain.RunRunning})
	if err != nil {
		return nil, err
	}
	out := runs[:0]
	for _, r := range runs {
		if r.PID == pid {
			out = append(out, r)
		}
	}
	return out, nil
}

// List returns runs newest first.
func (s *Store) List(_ context.Context, opts ports.ListOptions) ([]domain.AgentRun, error) {
	var runs []domain.AgentRun
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var r domain.AgentRun
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if opts.Status != "" && r.Status != opts.Status {
				return nil
			}
			runs = append(runs, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// Delete removes a run and its thread index entry.
func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		run, err := getRun(tx, id)
		if err != nil {
			return err
		}
		if run.ThreadID != "" {
			threads := tx.Bucket(bucketThreads)
			if v := threads.Get([]byte(run.ThreadID)); bytes.Equal(v, []byte(id)) {
				if err := threads.Delete([]byte(run.ThreadID)); err != nil {
					return err
				}
			}
		}
		return tx.Bucket(bucketRuns).Delete([]byte(id))
	})
}

func getRun(tx *bolt.Tx, id string) (domain.AgentRun, error) {
	var run domain.AgentRun
	data := tx.Bucket(bucketRuns).Get([]byte(id))
	if data == nil {
		return run, domain.ErrNotFound
	}
	err := json.Unmarshal(data, &run)
	return run, err
}

func applyUpdate(run *domain.AgentRun, upd ports.RunUpdate) {
	if upd.SessionID != nil {
		run.SessionID = *upd.SessionID
	}
	if upd.Phase != nil {
		run.Phase = *upd.Phase
	}
	if upd.Result != nil {
		run.Result = *upd.Result
	}
	if upd.Error != nil {
		run.Error = *upd.Error
	}
	if upd.PID != nil {
		run.PID = *upd.PID
	}
	if upd.StartedAt != nil {
		t := upd.StartedAt.UTC()
		run.StartedAt = &t
	}
	if upd.CompletedAt != nil {
		t := upd.CompletedAt.UTC()
		run.CompletedAt = &t
	}
}
