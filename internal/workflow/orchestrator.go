// Package workflow drives a feature request through the requirements, plan,
// implement and merge phases, pausing at approval gates.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/metrics"
	"github.com/joelklabo/shep/internal/ports"
)

// Orchestrator runs feature workflows against an agent executor.
type Orchestrator struct {
	settings    ports.SettingsRepository
	runs        ports.AgentRunRepository
	checkpoints ports.Checkpointer
	exec        ports.AgentExecutor
	notifier    ports.Notifier
	logger      *slog.Logger

	dir   string
	now   func() time.Time
	newID func() string
	pid   int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets where run events are sent.
func WithNotifier(n ports.Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithWorkdir sets the directory the agent and merge commands run in.
func WithWorkdir(dir string) Option {
	return func(o *Orchestrator) { o.dir = dir }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDs overrides run and thread id generation.
func WithIDs(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New constructs an Orchestrator. If logger is nil, slog.Default is used.
func New(settings ports.SettingsRepository, runs ports.AgentRunRepository, cps ports.Checkpointer, exec ports.AgentExecutor, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		settings:    settings,
		runs:        runs,
		checkpoints: cps,
		exec:        exec,
		notifier:    ports.NopNotifier{},
		logger:      logger,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
		pid:         os.Getpid(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start creates a run for prompt and executes phases until the first closed
// gate, completion, or failure. The returned run reflects the final status.
func (o *Orchestrator) Start(ctx context.Context, prompt string) (domain.AgentRun, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.AgentRun{}, fmt.Errorf("%w: feature prompt is empty", domain.ErrConfiguration)
	}
	settings, err := o.loadSettings(ctx)
	if err != nil {
		return domain.AgentRun{}, err
	}

	now := o.now().UTC()
	run := domain.AgentRun{
		ID:        o.newID(),
		AgentType: settings.Agent.Type,
		Prompt:    prompt,
		Status:    domain.RunPending,
		ThreadID:  o.newID(),
		Phase:     domain.PhaseRequirements,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		return domain.AgentRun{}, fmt.Errorf("create run: %w", err)
	}
	metrics.IncRun(string(domain.RunPending))

	pid := o.pid
	run, err = o.transition(ctx, run.ID, domain.RunRunning, ports.RunUpdate{PID: &pid, StartedAt: &now})
	if err != nil {
		return run, err
	}
	o.logger.Info("run started", slog.String("run", run.ID), slog.String("thread", run.ThreadID))

	st := state{Phase: domain.PhaseRequirements, Prompt: prompt, Outputs: map[domain.Phase]string{}}
	cfg, err := o.checkpoint(ctx, ports.CheckpointConfig{ThreadID: run.ThreadID}, st, "input")
	if err != nil {
		return o.fail(ctx, run, err)
	}
	return o.advance(ctx, run, settings, cfg, st)
}

// resumable are the statuses Approve accepts.
var resumable = []domain.AgentRunStatus{domain.RunWaitingApproval, domain.RunInterrupted}

// Approve resumes a run paused at a gate, or an interrupted run, from its
// latest checkpoint. Concurrent approvals of one run resume it once.
func (o *Orchestrator) Approve(ctx context.Context, runID string) (domain.AgentRun, error) {
	run, err := o.runs.FindByID(ctx, runID)
	if err != nil {
		return domain.AgentRun{}, err
	}
	if !slices.Contains(resumable, run.Status) {
		return run, fmt.Errorf("%w: run %s is %s", domain.ErrInvalidTransition, run.ID, run.Status)
	}
	settings, err := o.loadSettings(ctx)
	if err != nil {
		return run, err
	}

	pid := o.pid
	claimed, err := o.runs.TransitionFrom(ctx, run.ID, resumable, domain.RunRunning, ports.RunUpdate{PID: &pid})
	if err != nil {
		return run, fmt.Errorf("approve %s: %w", run.ID, err)
	}
	metrics.IncRun(string(domain.RunRunning))
	run = claimed

	tuple, err := o.checkpoints.GetTuple(ctx, ports.CheckpointConfig{ThreadID: run.ThreadID})
	if err != nil {
		return o.fail(ctx, run, fmt.Errorf("latest checkpoint for %s: %w", run.ThreadID, err))
	}
	st, err := stateFromCheckpoint(tuple.Checkpoint)
	if err != nil {
		return o.fail(ctx, run, err)
	}
	o.logger.Info("run approved", slog.String("run", run.ID), slog.String("phase", string(st.Phase)))
	return o.advance(ctx, run, settings, tuple.Config, st)
}

// cancellable are the statuses Cancel accepts.
var cancellable = []domain.AgentRunStatus{domain.RunPending, domain.RunRunning, domain.RunWaitingApproval, domain.RunInterrupted}

// Cancel stops a run that has not finished yet.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) (domain.AgentRun, error) {
	now := o.now().UTC()
	run, err := o.runs.TransitionFrom(ctx, runID, cancellable, domain.RunCancelled, ports.RunUpdate{CompletedAt: &now})
	if err != nil {
		return run, fmt.Errorf("cancel %s: %w", runID, err)
	}
	metrics.IncRun(string(domain.RunCancelled))
	o.logger.Info("run cancelled", slog.String("run", run.ID))
	return run, nil
}

// advance executes st.Phase and every following phase whose gate is open.
func (o *Orchestrator) advance(ctx context.Context, run domain.AgentRun, settings domain.Settings, cfg ports.CheckpointConfig, st state) (domain.AgentRun, error) {
	for {
		phase := st.Phase
		session := st.SessionID
		upd := ports.RunUpdate{Phase: &phase, SessionID: &session}
		if _, err := o.runs.UpdateStatus(ctx, run.ID, domain.RunRunning, upd); err != nil {
			return run, fmt.Errorf("record phase: %w", err)
		}
		o.logger.Debug("phase start", slog.String("run", run.ID), slog.String("phase", string(phase)))

		reply, err := o.runPhase(ctx, settings, &st)
		if err != nil {
			if ctx.Err() != nil {
				return o.interrupt(ctx, run, err)
			}
			return o.fail(ctx, run, fmt.Errorf("phase %s: %w", phase, err))
		}
		st.Outputs[phase] = reply

		next, ok := phase.Next()
		if !ok {
			return o.complete(ctx, run, reply, st.SessionID)
		}
		if err := o.checkpoints.PutWrites(ctx, cfg, string(phase), []ports.PendingWrite{
			{Channel: "reply", Value: mustJSON(reply)},
		}); err != nil {
			return o.fail(ctx, run, err)
		}
		st.Phase = next
		st.Step++
		cfg, err = o.checkpoint(ctx, cfg, st, "loop")
		if err != nil {
			return o.fail(ctx, run, err)
		}

		if !settings.Workflow.ApprovalGates.GateBefore(next) {
			return o.pause(ctx, run, next, reply, st.SessionID)
		}
	}
}

func (o *Orchestrator) runPhase(ctx context.Context, settings domain.Settings, st *state) (string, error) {
	if st.Phase == domain.PhaseMerge {
		return o.merge(ctx, settings)
	}
	res, err := o.exec.Execute(ctx, ports.ExecRequest{
		Prompt:    phasePrompt(st.Phase, st.Prompt),
		SessionID: st.SessionID,
		Model:     settings.Models.ForPhase(st.Phase),
		Dir:       o.dir,
	})
	if err != nil {
		metrics.IncAgentError()
		return "", err
	}
	if res.SessionID != "" {
		st.SessionID = res.SessionID
	}
	return res.Reply, nil
}

func (o *Orchestrator) merge(ctx context.Context, settings domain.Settings) (string, error) {
	var out []string
	if settings.Workflow.PushOnImplementationComplete {
		s, err := o.exec.RunCommand(ctx, o.dir, "git", "push", "-u", "origin", "HEAD")
		if err != nil {
			return "", fmt.Errorf("git push: %w", err)
		}
		out = append(out, s)
	}
	if settings.Workflow.OpenPROnImplementationComplete {
		s, err := o.exec.RunCommand(ctx, o.dir, "gh", "pr", "create", "--fill")
		if err != nil {
			return "", fmt.Errorf("gh pr create: %w", err)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return "merge skipped: push and pull request are disabled", nil
	}
	return strings.TrimSpace(strings.Join(out, "\n")), nil
}

func (o *Orchestrator) checkpoint(ctx context.Context, cfg ports.CheckpointConfig, st state, source string) (ports.CheckpointConfig, error) {
	values, err := st.channelValues()
	if err != nil {
		return cfg, err
	}
	next, err := o.checkpoints.Put(ctx, cfg, ports.Checkpoint{TS: o.now().UTC(), ChannelValues: values},
		ports.CheckpointMetadata{Source: source, Step: st.Step})
	if err != nil {
		return cfg, fmt.Errorf("write checkpoint: %w", err)
	}
	metrics.IncCheckpoint()
	return next, nil
}

func (o *Orchestrator) pause(ctx context.Context, run domain.AgentRun, next domain.Phase, reply, session string) (domain.AgentRun, error) {
	run, err := o.transition(ctx, run.ID, domain.RunWaitingApproval, ports.RunUpdate{Phase: &next, Result: &reply, SessionID: &session})
	if err != nil {
		return run, err
	}
	o.logger.Info("run waiting for approval", slog.String("run", run.ID), slog.String("next_phase", string(next)))
	o.notify(ctx, run, "Approval needed", fmt.Sprintf("Run %s is ready for %s. Approve with: shep runs approve %s", run.ID, next, run.ID))
	return run, nil
}

func (o *Orchestrator) complete(ctx context.Context, run domain.AgentRun, reply, session string) (domain.AgentRun, error) {
	now := o.now().UTC()
	run, err := o.transition(ctx, run.ID, domain.RunCompleted, ports.RunUpdate{Result: &reply, SessionID: &session, CompletedAt: &now})
	if err != nil {
		return run, err
	}
	o.logger.Info("run completed", slog.String("run", run.ID))
	o.notify(ctx, run, "Run completed", reply)
	return run, nil
}

func (o *Orchestrator) fail(ctx context.Context, run domain.AgentRun, cause error) (domain.AgentRun, error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	now := o.now().UTC()
	updated, err := o.transition(ctx, run.ID, domain.RunFailed, ports.RunUpdate{Error: &msg, CompletedAt: &now})
	if err != nil {
		return run, errors.Join(cause, err)
	}
	o.logger.Error("run failed", slog.String("run", run.ID), slog.String("err", msg))
	o.notify(ctx, updated, "Run failed", msg)
	return updated, cause
}

func (o *Orchestrator) interrupt(ctx context.Context, run domain.AgentRun, cause error) (domain.AgentRun, error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	updated, err := o.transition(ctx, run.ID, domain.RunInterrupted, ports.RunUpdate{Error: &msg})
	if err != nil {
		return run, errors.Join(cause, err)
	}
	o.logger.Warn("run interrupted", slog.String("run", run.ID))
	return updated, cause
}

func (o *Orchestrator) transition(ctx context.Context, id string, status domain.AgentRunStatus, upd ports.RunUpdate) (domain.AgentRun, error) {
	run, err := o.runs.UpdateStatus(ctx, id, status, upd)
	if err != nil {
		return run, fmt.Errorf("run %s -> %s: %w", id, status, err)
	}
	metrics.IncRun(string(status))
	return run, nil
}

func (o *Orchestrator) notify(ctx context.Context, run domain.AgentRun, title, body string) {
	err := o.notifier.Notify(ctx, ports.Notification{RunID: run.ID, Status: string(run.Status), Title: title, Body: body})
	if err != nil {
		metrics.IncNotifyError()
		o.logger.Warn("notify failed", slog.String("run", run.ID), slog.String("err", err.Error()))
	}
}

func (o *Orchestrator) loadSettings(ctx context.Context) (domain.Settings, error) {
	s, err := o.settings.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CreateDefaultSettings(o.now().UTC()), nil
	}
	if err != nil {
		return s, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}
