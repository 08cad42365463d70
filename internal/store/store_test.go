package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
)

func newTempStore(t *testing.T) (*Store, func()) {
	t.Helper()
	path := t.TempDir() + "/state.db"
	st, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return st, func() { _ = st.Close() }
}

func TestSettingsLifecycle(t *testing.T) {
	st, cleanup := newTempStore(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := st.Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found before init, got %v", err)
	}
	if err := st.Update(ctx, domain.CreateDefaultSettings(time.Now())); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update before init should fail with not found, got %v", err)
	}

	def := domain.CreateDefaultSettings(time.Now())
	if err := st.Initialize(ctx, def); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	loaded, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Agent.Type != domain.AgentCodexCLI {
		t.Fatalf("unexpected agent type %s", loaded.Agent.Type)
	}

	loaded.Workflow.ApprovalGates.AllowPlan = true
	if err := st.Update(ctx, loaded); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Initialize again must not clobber the update.
	if err := st.Initialize(ctx, def); err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	again, _ := st.Load(ctx)
	if !again.Workflow.ApprovalGates.AllowPlan {
		t.Fatalf("initialize overwrote existing settings")
	}
}

func TestAgentRunCRUD(t *testing.T) {
	st, cleanup := newTempStore(t)
	defer cleanup()
	ctx := context.Background()

	run := domain.AgentRun{ID: "r1", AgentType: "echo", Prompt: "hi", Status: domain.RunPending, ThreadID: "t1"}
	if err := st.Create(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.Create(ctx, run); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}

	got, err := st.FindByThreadID(ctx, "t1")
	if err != nil || got.ID != "r1" {
		t.Fatalf("find by thread: %+v %v", got, err)
	}

	pid := 42
	started := time.Now()
	updated, err := st.UpdateStatus(ctx, "r1", domain.RunRunning, ports.RunUpdate{PID: &pid, StartedAt: &started})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.PID != 42 || updated.StartedAt == nil {
		t.Fatalf("fields not applied: %+v", updated)
	}

	running, err := st.FindRunningByPID(ctx, 42)
	if err != nil || len(running) != 1 {
		t.Fatalf("find running by pid: %v %v", running, err)
	}

	if _, err := st.UpdateStatus(ctx, "r1", domain.RunPending, ports.RunUpdate{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	if err := st.Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.FindByID(ctx, "r1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := st.FindByThreadID(ctx, "t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("thread index not cleaned up: %v", err)
	}
}

func TestListNewestFirstWithFilter(t *testing.T) {
	st, cleanup := newTempStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := domain.AgentRun{ID: id, Status: domain.RunPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := st.Create(ctx, run); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := st.UpdateStatus(ctx, "b", domain.RunRunning, ports.RunUpdate{}); err != nil {
		t.Fatalf("update: %v", err)
	}

	all, err := st.List(ctx, ports.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	limited, _ := st.List(ctx, ports.ListOptions{Limit: 1})
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Fatalf("limit not honored: %v", ids(limited))
	}

	running, _ := st.List(ctx, ports.ListOptions{Status: domain.RunRunning})
	if len(running) != 1 || running[0].ID != "b" {
		t.Fatalf("status filter broken: %v", ids(running))
	}
}

func ids(runs []domain.AgentRun) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}

func TestNewReportsLockedStore(t *testing.T) {
	path := t.TempDir() + "/state.db"
	st, err := New(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = st.Close() }()

	if _, err := New(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked for second open, got %v", err)
	}
}

func TestUpdateStatusSameStatusOnlyWhileRunning(t *testing.T) {
	st, cleanup := newTempStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := st.Create(ctx, domain.AgentRun{ID: "r1", Status: domain.RunPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.UpdateStatus(ctx, "r1", domain.RunPending, ports.RunUpdate{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("pending -> pending should be rejected, got %v", err)
	}
	if _, err := st.UpdateStatus(ctx, "r1", domain.RunRunning, ports.RunUpdate{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	phase := domain.PhasePlan
	got, err := st.UpdateStatus(ctx, "r1", domain.RunRunning, ports.RunUpdate{Phase: &phase})
	if err != nil || got.Phase != domain.PhasePlan {
		t.Fatalf("running field update: %+v %v", got, err)
	}
	if _, err := st.UpdateStatus(ctx, "r1", domain.RunCancelled, ports.RunUpdate{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := st.UpdateStatus(ctx, "r1", domain.RunCancelled, ports.RunUpdate{}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancelled -> cancelled should be rejected, got %v", err)
	}
}

func TestTransitionFromAllowsOneWinner(t *testing.T) {
	st, cleanup := newTempStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := st.Create(ctx, domain.AgentRun{ID: "r1", Status: domain.RunPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, s := range []domain.AgentRunStatus{domain.RunRunning, domain.RunWaitingApproval} {
		if _, err := st.UpdateStatus(ctx, "r1", s, ports.RunUpdate{}); err != nil {
			t.Fatalf("update %s: %v", s, err)
		}
	}

	from := []domain.AgentRunStatus{domain.RunWaitingApproval, domain.RunInterrupted}
	var wg sync.WaitGroup
	var wins atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := st.TransitionFrom(ctx, "r1", from, domain.RunRunning, ports.RunUpdate{})
			switch {
			case err == nil:
				wins.Add(1)
			case !errors.Is(err, domain.ErrInvalidTransition):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one transition, got %d", wins.Load())
	}
}
