package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDefaultSettings(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := CreateDefaultSettings(now)

	assert.Equal(t, SettingsID, s.ID)
	assert.False(t, s.Workflow.ApprovalGates.AllowPRD)
	assert.False(t, s.Workflow.ApprovalGates.AllowPlan)
	assert.False(t, s.Workflow.ApprovalGates.AllowMerge)
	assert.False(t, s.Workflow.PushOnImplementationComplete)
	assert.False(t, s.Workflow.OpenPROnImplementationComplete)
	assert.Equal(t, now, s.CreatedAt)
	assert.Equal(t, now, s.UpdatedAt)
	require.NoError(t, s.Validate())
}

func TestSettingsValidate(t *testing.T) {
	s := CreateDefaultSettings(time.Now())
	s.Agent.Type = "mystery"
	err := s.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))

	s = CreateDefaultSettings(time.Now())
	s.System.LogLevel = "loud"
	assert.ErrorIs(t, s.Validate(), ErrConfiguration)
}

func TestGateBefore(t *testing.T) {
	g := ApprovalGates{AllowPRD: true}
	assert.True(t, g.GateBefore(PhaseRequirements))
	assert.True(t, g.GateBefore(PhasePlan))
	assert.False(t, g.GateBefore(PhaseImplement))
	assert.False(t, g.GateBefore(PhaseMerge))
}

func TestRunTransitions(t *testing.T) {
	cases := []struct {
		from, to AgentRunStatus
		ok       bool
	}{
		{RunPending, RunRunning, true},
		{RunPending, RunCompleted, false},
		{RunRunning, RunWaitingApproval, true},
		{RunWaitingApproval, RunRunning, true},
		{RunWaitingApproval, RunCompleted, false},
		{RunInterrupted, RunRunning, true},
		{RunCompleted, RunRunning, false},
		{RunFailed, RunRunning, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
	assert.True(t, RunCompleted.IsTerminal())
	assert.True(t, RunCancelled.IsTerminal())
	assert.False(t, RunWaitingApproval.IsTerminal())
}

func TestPhaseNext(t *testing.T) {
	p, ok := PhaseRequirements.Next()
	require.True(t, ok)
	assert.Equal(t, PhasePlan, p)
	_, ok = PhaseMerge.Next()
	assert.False(t, ok)
}

func TestParseAgentRunStatus(t *testing.T) {
	st, err := ParseAgentRunStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, st)
	_, err = ParseAgentRunStatus("bogus")
	assert.Error(t, err)
}

func TestRedactedMasksToken(t *testing.T) {
	s := CreateDefaultSettings(time.Now())
	assert.Empty(t, s.Redacted().Agent.Token, "no token, nothing to mask")

	s.Agent.Token = "sk-123"
	r := s.Redacted()
	assert.Equal(t, RedactedSecret, r.Agent.Token)
	assert.Equal(t, "sk-123", s.Agent.Token, "original is untouched")
}
