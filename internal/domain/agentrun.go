package domain

import (
	"fmt"
	"time"
)

// AgentRunStatus is the lifecycle state of an AgentRun.
type AgentRunStatus string

const (
	RunPending         AgentRunStatus = "pending"
	RunRunning         AgentRunStatus = "running"
	RunWaitingApproval AgentRunStatus = "waiting_approval"
	RunCompleted       AgentRunStatus = "completed"
	RunFailed          AgentRunStatus = "failed"
	RunInterrupted     AgentRunStatus = "interrupted"
	RunCancelled       AgentRunStatus = "cancelled"
)

var runTransitions = map[AgentRunStatus][]AgentRunStatus{
	RunPending:         {RunRunning, RunCancelled},
	RunRunning:         {RunWaitingApproval, RunCompleted, RunFailed, RunInterrupted, RunCancelled},
	RunWaitingApproval: {RunRunning, RunCancelled},
	RunInterrupted:     {RunRunning, RunCancelled},
}

// ParseAgentRunStatus validates a status string.
func ParseAgentRunStatus(s string) (AgentRunStatus, error) {
	st := AgentRunStatus(s)
	switch st {
	case RunPending, RunRunning, RunWaitingApproval, RunCompleted, RunFailed, RunInterrupted, RunCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown run status %q", s)
}

// IsTerminal reports whether no further transitions are possible.
func (s AgentRunStatus) IsTerminal() bool {
	return len(runTransitions[s]) == 0
}

// CanTransition reports whether s may move to next.
func (s AgentRunStatus) CanTransition(next AgentRunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Phase is one step of the feature workflow.
type Phase string

const (
	PhaseRequirements Phase = "requirements"
	PhasePlan         Phase = "plan"
	PhaseImplement    Phase = "implement"
	PhaseMerge        Phase = "merge"
)

// Phases lists workflow phases in execution order.
var Phases = []Phase{PhaseRequirements, PhasePlan, PhaseImplement, PhaseMerge}

// Next returns the phase after p, or false when p is the last one.
func (p Phase) Next() (Phase, bool) {
	for i, ph := range Phases {
		if ph == p && i+1 < len(Phases) {
			return Phases[i+1], true
		}
	}
	return "", false
}

// AgentRun records one invocation of the feature workflow.
type AgentRun struct {
	ID          string         `json:"id"`
	AgentType   string         `json:"agent_type"`
	Prompt      string         `json:"prompt"`
	Status      AgentRunStatus `json:"status"`
	ThreadID    string         `json:"thread_id"`
	SessionID   string         `json:"session_id,omitempty"`
	Phase       Phase          `json:"phase,omitempty"`
	Result      string         `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	PID         int            `json:"pid,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
