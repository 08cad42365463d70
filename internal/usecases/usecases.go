// Package usecases holds the application operations the CLI and web UI call.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/jokes"
	"github.com/joelklabo/shep/internal/metrics"
	"github.com/joelklabo/shep/internal/ports"
)

// Workflow is the part of the orchestrator use cases depend on.
type Workflow interface {
	Start(ctx context.Context, prompt string) (domain.AgentRun, error)
	Approve(ctx context.Context, runID string) (domain.AgentRun, error)
	Cancel(ctx context.Context, runID string) (domain.AgentRun, error)
}

// GetJoke returns one joke from the selector.
type GetJoke struct {
	Selector *jokes.Selector
	Logger   *slog.Logger
}

func (uc GetJoke) Execute(context.Context) (string, error) {
	joke, err := uc.Selector.Select()
	if err != nil {
		return "", err
	}
	metrics.IncJoke()
	if uc.Logger != nil {
		uc.Logger.Debug("joke served", slog.Int("corpus", uc.Selector.Len()))
	}
	return joke, nil
}

// InitializeSettings stores default settings unless some already exist and
// returns whatever is stored afterwards.
type InitializeSettings struct {
	Repo ports.SettingsRepository
	Now  func() time.Time
}

func (uc InitializeSettings) Execute(ctx context.Context) (domain.Settings, error) {
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	if err := uc.Repo.Initialize(ctx, domain.CreateDefaultSettings(now().UTC())); err != nil {
		return domain.Settings{}, fmt.Errorf("initialize settings: %w", err)
	}
	return uc.Repo.Load(ctx)
}

// LoadSettings returns stored settings, or domain.ErrNotFound.
type LoadSettings struct {
	Repo ports.SettingsRepository
}

func (uc LoadSettings) Execute(ctx context.Context) (domain.Settings, error) {
	return uc.Repo.Load(ctx)
}

// UpdateSettings validates and persists s.
type UpdateSettings struct {
	Repo ports.SettingsRepository
	Now  func() time.Time
}

func (uc UpdateSettings) Execute(ctx context.Context, s domain.Settings) (domain.Settings, error) {
	if err := s.Validate(); err != nil {
		return domain.Settings{}, err
	}
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	s.ID = domain.SettingsID
	s.UpdatedAt = now().UTC()
	if err := uc.Repo.Update(ctx, s); err != nil {
		return domain.Settings{}, fmt.Errorf("update settings: %w", err)
	}
	return s, nil
}

// ListAgentRuns lists runs newest first.
type ListAgentRuns struct {
	Repo ports.AgentRunRepository
}

func (uc ListAgentRuns) Execute(ctx context.Context, opts ports.ListOptions) ([]domain.AgentRun, error) {
	return uc.Repo.List(ctx, opts)
}

// ShowAgentRun returns one run.
type ShowAgentRun struct {
	Repo ports.AgentRunRepository
}

func (uc ShowAgentRun) Execute(ctx context.Context, id string) (domain.AgentRun, error) {
	return uc.Repo.FindByID(ctx, id)
}

// StartFeature begins a gated feature workflow for prompt.
type StartFeature struct {
	Workflow Workflow
}

func (uc StartFeature) Execute(ctx context.Context, prompt string) (domain.AgentRun, error) {
	return uc.Workflow.Start(ctx, prompt)
}

// ApproveRun resumes a paused or interrupted run.
type ApproveRun struct {
	Workflow Workflow
}

func (uc ApproveRun) Execute(ctx context.Context, id string) (domain.AgentRun, error) {
	return uc.Workflow.Approve(ctx, id)
}

// CancelRun stops a run.
type CancelRun struct {
	Workflow Workflow
}

func (uc CancelRun) Execute(ctx context.Context, id string) (domain.AgentRun, error) {
	return uc.Workflow.Cancel(ctx, id)
}

// ListCheckpoints returns the checkpoints of a run's thread, newest first.
// The argument may be a run id or a thread id.
type ListCheckpoints struct {
	Runs        ports.AgentRunRepository
	Checkpoints ports.Checkpointer
}

func (uc ListCheckpoints) Execute(ctx context.Context, id string, limit int) ([]ports.CheckpointTuple, error) {
	run, err := uc.Runs.FindByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		run, err = uc.Runs.FindByThreadID(ctx, id)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no run or thread %q: %w", id, err)
	}
	if err != nil {
		return nil, err
	}
	return uc.Checkpoints.List(ctx, ports.CheckpointConfig{ThreadID: run.ThreadID}, ports.CheckpointListOptions{Limit: limit})
}

// DeleteRun removes a run that is not running, together with its checkpoints.
type DeleteRun struct {
	Runs        ports.AgentRunRepository
	Checkpoints ports.Checkpointer
}

func (uc DeleteRun) Execute(ctx context.Context, id string) error {
	run, err := uc.Runs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if run.Status == domain.RunRunning {
		return fmt.Errorf("%w: run %s is running; cancel it first", domain.ErrInvalidTransition, run.ID)
	}
	if run.ThreadID != "" {
		if err := uc.Checkpoints.DeleteThread(ctx, run.ThreadID); err != nil {
			return fmt.Errorf("delete checkpoints: %w", err)
		}
	}
	return uc.Runs.Delete(ctx, run.ID)
}
