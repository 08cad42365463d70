package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelklabo/shep/internal/checkpoint"
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
	"github.com/joelklabo/shep/internal/store"
)

type fakeExec struct {
	mu       sync.Mutex
	requests []ports.ExecRequest
	commands [][]string
	failOn   domain.Phase
	err      error
	block    bool
	delay    time.Duration
}

func (f *fakeExec) Execute(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.block {
		<-ctx.Done()
		return ports.ExecResult{}, ctx.Err()
	}
	if f.err != nil && phaseOf(req.Prompt) == f.failOn {
		return ports.ExecResult{}, f.err
	}
	return ports.ExecResult{SessionID: "sess-1", Reply: fmt.Sprintf("reply %d", n)}, nil
}

func (f *fakeExec) RunCommand(_ context.Context, _ string, name string, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, append([]string{name}, args...))
	return name + " ok", nil
}

func phaseOf(prompt string) domain.Phase {
	for _, p := range domain.Phases {
		if phasePrompt(p, "x") == prompt || phasePrompt(p, "add login") == prompt {
			return p
		}
	}
	return ""
}

type recordingNotifier struct {
	got []ports.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n ports.Notification) error {
	r.got = append(r.got, n)
	return nil
}

type harness struct {
	orch     *Orchestrator
	store    *store.Store
	saver    *checkpoint.Saver
	exec     *fakeExec
	notifier *recordingNotifier
}

func newHarness(t *testing.T, gates domain.ApprovalGates, push, pr bool) *harness {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	saver, err := checkpoint.Open(checkpoint.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = saver.Close() })

	ctx := context.Background()
	s := domain.CreateDefaultSettings(time.Now())
	s.Workflow.ApprovalGates = gates
	s.Workflow.PushOnImplementationComplete = push
	s.Workflow.OpenPROnImplementationComplete = pr
	require.NoError(t, st.Initialize(ctx, s))

	h := &harness{store: st, saver: saver, exec: &fakeExec{}, notifier: &recordingNotifier{}}
	h.orch = New(st, st, saver, h.exec, nil, WithNotifier(h.notifier), WithWorkdir(t.TempDir()))
	return h
}

var openGates = domain.ApprovalGates{AllowPRD: true, AllowPlan: true, AllowMerge: true}

func TestStartRunsAllPhasesWhenGatesOpen(t *testing.T) {
	h := newHarness(t, openGates, true, true)
	ctx := context.Background()

	run, err := h.orch.Start(ctx, "add login")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.PhaseMerge, run.Phase)
	assert.NotNil(t, run.CompletedAt)
	assert.Contains(t, run.Result, "gh ok")

	require.Len(t, h.exec.requests, 3)
	assert.Empty(t, h.exec.requests[0].SessionID)
	assert.Equal(t, "sess-1", h.exec.requests[1].SessionID, "later phases resume the agent session")
	assert.Contains(t, h.exec.requests[0].Prompt, "add login")
	assert.Equal(t, [][]string{
		{"git", "push", "-u", "origin", "HEAD"},
		{"gh", "pr", "create", "--fill"},
	}, h.exec.commands)

	cps, err := h.saver.List(ctx, ports.CheckpointConfig{ThreadID: run.ThreadID}, ports.CheckpointListOptions{})
	require.NoError(t, err)
	assert.Len(t, cps, 4, "input checkpoint plus one per advanced phase")

	require.Len(t, h.notifier.got, 1)
	assert.Equal(t, "Run completed", h.notifier.got[0].Title)
}

func TestMergeSkipsCommandsWhenDisabled(t *testing.T) {
	h := newHarness(t, openGates, false, false)
	run, err := h.orch.Start(context.Background(), "add login")
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Empty(t, h.exec.commands)
	assert.Contains(t, run.Result, "merge skipped")
}

func TestClosedGatesPauseAndApproveResumes(t *testing.T) {
	h := newHarness(t, domain.ApprovalGates{}, false, false)
	ctx := context.Background()

	run, err := h.orch.Start(ctx, "add login")
	require.NoError(t, err)
	assert.Equal(t, domain.RunWaitingApproval, run.Status)
	assert.Equal(t, domain.PhasePlan, run.Phase)
	assert.Len(t, h.exec.requests, 1)
	require.Len(t, h.notifier.got, 1)
	assert.Equal(t, "Approval needed", h.notifier.got[0].Title)

	tuple, err := h.saver.GetTuple(ctx, ports.CheckpointConfig{ThreadID: run.ThreadID})
	require.NoError(t, err)
	st, err := stateFromCheckpoint(tuple.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePlan, st.Phase)
	assert.Equal(t, "sess-1", st.SessionID)
	assert.Equal(t, "reply 1", st.Outputs[domain.PhaseRequirements])

	run, err = h.orch.Approve(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunWaitingApproval, run.Status)
	assert.Equal(t, domain.PhaseImplement, run.Phase)

	run, err = h.orch.Approve(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunWaitingApproval, run.Status)
	assert.Equal(t, domain.PhaseMerge, run.Phase)
	assert.Len(t, h.exec.requests, 3)

	run, err = h.orch.Approve(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestApproveRejectsRunningOrFinishedRuns(t *testing.T) {
	h := newHarness(t, openGates, false, false)
	ctx := context.Background()
	run, err := h.orch.Start(ctx, "add login")
	require.NoError(t, err)

	_, err = h.orch.Approve(ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.orch.Approve(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExecutorFailureMarksRunFailed(t *testing.T) {
	h := newHarness(t, openGates, false, false)
	h.exec.failOn = domain.PhasePlan
	h.exec.err = errors.New("agent crashed")

	run, err := h.orch.Start(context.Background(), "add login")
	require.Error(t, err)
	assert.Equal(t, domain.RunFailed, run.Status)
	assert.Contains(t, run.Error, "agent crashed")
	assert.Contains(t, run.Error, "phase plan")
	require.Len(t, h.notifier.got, 1)
	assert.Equal(t, "Run failed", h.notifier.got[0].Title)
}

func TestContextCancelInterruptsAndApproveResumes(t *testing.T) {
	h := newHarness(t, openGates, false, false)
	h.exec.block = true
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	run, err := h.orch.Start(ctx, "add login")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.RunInterrupted, run.Status)

	h.exec.block = false
	run, err = h.orch.Approve(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, domain.ApprovalGates{}, false, false)
	ctx := context.Background()
	run, err := h.orch.Start(ctx, "add login")
	require.NoError(t, err)

	run, err = h.orch.Cancel(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCancelled, run.Status)

	_, err = h.orch.Cancel(ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStartRejectsEmptyPrompt(t *testing.T) {
	h := newHarness(t, openGates, false, false)
	_, err := h.orch.Start(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestConcurrentApproveRunsPhaseOnce(t *testing.T) {
	h := newHarness(t, domain.ApprovalGates{}, true, true)
	ctx := context.Background()
	run, err := h.orch.Start(ctx, "add login")
	require.NoError(t, err)
	require.Equal(t, domain.RunWaitingApproval, run.Status)
	h.exec.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.orch.Approve(ctx, run.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInvalidTransition):
				rejected.Add(1)
			default:
				t.Errorf("unexpected approve error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), rejected.Load())
	plans := 0
	for _, req := range h.exec.requests {
		if phaseOf(req.Prompt) == domain.PhasePlan {
			plans++
		}
	}
	assert.Equal(t, 1, plans)
}

func TestRunRecordsAgentSession(t *testing.T) {
	h := newHarness(t, openGates, false, false)
	ctx := context.Background()
	run, err := h.orch.Start(ctx, "add login")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", run.SessionID)

	stored, err := h.store.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", stored.SessionID)
}

func TestPausedRunRecordsAgentSession(t *testing.T) {
	h := newHarness(t, domain.ApprovalGates{}, false, false)
	run, err := h.orch.Start(context.Background(), "add login")
	require.NoError(t, err)
	assert.Equal(t, domain.RunWaitingApproval, run.Status)
	assert.Equal(t, "sess-1", run.SessionID)
}

func TestRecoverOrphansInterruptsDeadProcesses(t *testing.T) {
	h := newHarness(t, openGates, false, false)
	ctx := context.Background()

	for id, pid := range map[string]int{"dead": 4001, "live": 4002} {
		require.NoError(t, h.store.Create(ctx, domain.AgentRun{ID: id, ThreadID: "t-" + id, Status: domain.RunPending}))
		p := pid
		_, err := h.store.UpdateStatus(ctx, id, domain.RunRunning, ports.RunUpdate{PID: &p})
		require.NoError(t, err)
	}

	recovered, err := h.orch.RecoverOrphans(ctx, func(pid int) bool { return pid == 4002 })
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "dead", recovered[0].ID)

	dead, err := h.store.FindByID(ctx, "dead")
	require.NoError(t, err)
	assert.Equal(t, domain.RunInterrupted, dead.Status)
	assert.Contains(t, dead.Error, "4001")

	live, err := h.store.FindByID(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, live.Status)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()))
	assert.False(t, ProcessAlive(0))
}
