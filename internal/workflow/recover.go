package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/metrics"
	"github.com/joelklabo/shep/internal/ports"
)

// RecoverOrphans marks runs left running by a process that no longer exists
// as interrupted, so Approve can resume them. alive defaults to ProcessAlive.
// It returns the recovered runs.
func (o *Orchestrator) RecoverOrphans(ctx context.Context, alive func(pid int) bool) ([]domain.AgentRun, error) {
	if alive == nil {
		alive = ProcessAlive
	}
	running, err := o.runs.List(ctx, ports.ListOptions{Status: domain.RunRunning})
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}
	seen := make(map[int]bool)
	var recovered []domain.AgentRun
	for _, r := range running {
		if seen[r.PID] || r.PID == o.pid || alive(r.PID) {
			continue
		}
		seen[r.PID] = true
		orphans, err := o.runs.FindRunningByPID(ctx, r.PID)
		if err != nil {
			return recovered, err
		}
		msg := fmt.Sprintf("process %d exited while the run was active", r.PID)
		for _, orphan := range orphans {
			updated, err := o.runs.TransitionFrom(ctx, orphan.ID, []domain.AgentRunStatus{domain.RunRunning}, domain.RunInterrupted, ports.RunUpdate{Error: &msg})
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			if err != nil {
				return recovered, err
			}
			metrics.IncRun(string(domain.RunInterrupted))
			o.logger.Warn("recovered orphaned run", slog.String("run", updated.ID), slog.Int("pid", r.PID))
			recovered = append(recovered, updated)
		}
	}
	return recovered, nil
}

// ProcessAlive reports whether pid names a live process. A zero pid is never alive.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil || errors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}
