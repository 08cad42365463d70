// Package ports declares the contracts infrastructure adapters implement.
package ports

import (
	"context"
	"time"

	"github.com/joelklabo/shep/internal/domain"
)

// SettingsRepository persists the singleton Settings record.
type SettingsRepository interface {
	// Initialize stores s only if no settings exist yet.
	Initialize(ctx context.Context, s domain.Settings) error
	// Load returns domain.ErrNotFound when settings were never initialized.
	Load(ctx context.Context) (domain.Settings, error)
	Update(ctx context.Context, s domain.Settings) error
}

// RunUpdate carries optional fields written alongside a status change.
type RunUpdate struct {
	SessionID   *string
	Phase       *domain.Phase
	Result      *string
	Error       *string
	PID         *int
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ListOptions filters AgentRunRepository.List.
type ListOptions struct {
	Status domain.AgentRunStatus
	Limit  int
}

// AgentRunRepository persists AgentRun records.
type AgentRunRepository interface {
	Create(ctx context.Context, run domain.AgentRun) error
	FindByID(ctx context.Context, id string) (domain.AgentRun, error)
	FindByThreadID(ctx context.Context, threadID string) (domain.AgentRun, error)
	// UpdateStatus rejects transitions the status machine does not allow
	// with domain.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, status domain.AgentRunStatus, upd RunUpdate) (domain.AgentRun, error)
	// TransitionFrom applies the change only if the run's current status is
	// one of from, checked in the same transaction as the write.
	TransitionFrom(ctx context.Context, id string, from []domain.AgentRunStatus, to domain.AgentRunStatus, upd RunUpdate) (domain.AgentRun, error)
	FindRunningByPID(ctx context.Context, pid int) ([]domain.AgentRun, error)
	// List returns newest runs first.
	List(ctx context.Context, opts ListOptions) ([]domain.AgentRun, error)
	Delete(ctx context.Context, id string) error
}
