package domain

import (
	"fmt"
	"time"
)

// SettingsID is the key of the single settings record.
const SettingsID = "singleton"

// Settings is the persisted, user-editable configuration of shep.
type Settings struct {
	ID          string            `json:"id" yaml:"-"`
	Models      ModelConfig       `json:"models" yaml:"models"`
	User        UserProfile       `json:"user" yaml:"user"`
	Environment EnvironmentConfig `json:"environment" yaml:"environment"`
	System      SystemConfig      `json:"system" yaml:"system"`
	Agent       AgentConfig       `json:"agent" yaml:"agent"`
	Workflow    WorkflowConfig    `json:"workflow" yaml:"workflow"`
	CreatedAt   time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"-"`
}

// ModelConfig picks a model per workflow phase.
type ModelConfig struct {
	Analyze      string `json:"analyze" yaml:"analyze"`
	Requirements string `json:"requirements" yaml:"requirements"`
	Plan         string `json:"plan" yaml:"plan"`
	Implement    string `json:"implement" yaml:"implement"`
}

// ForPhase returns the model configured for p.
func (m ModelConfig) ForPhase(p Phase) string {
	switch p {
	case PhaseRequirements:
		return m.Requirements
	case PhasePlan:
		return m.Plan
	case PhaseImplement, PhaseMerge:
		return m.Implement
	default:
		return m.Analyze
	}
}

type UserProfile struct {
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	Email          string `json:"email,omitempty" yaml:"email,omitempty"`
	GitHubUsername string `json:"github_username,omitempty" yaml:"github_username,omitempty"`
}

type EnvironmentConfig struct {
	DefaultEditor   string `json:"default_editor" yaml:"default_editor"`
	ShellPreference string `json:"shell_preference" yaml:"shell_preference"`
}

type SystemConfig struct {
	AutoUpdate bool   `json:"auto_update" yaml:"auto_update"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
}

// AgentConfig selects which coding agent executes workflow phases.
type AgentConfig struct {
	Type       string `json:"type" yaml:"type"`
	AuthMethod string `json:"auth_method" yaml:"auth_method"`
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`
}

// ApprovalGates decide which phase transitions proceed without a human.
// A false gate pauses the run until it is approved.
type ApprovalGates struct {
	AllowPRD   bool `json:"allow_prd" yaml:"allow_prd"`
	AllowPlan  bool `json:"allow_plan" yaml:"allow_plan"`
	AllowMerge bool `json:"allow_merge" yaml:"allow_merge"`
}

type WorkflowConfig struct {
	ApprovalGates                  ApprovalGates `json:"approval_gates" yaml:"approval_gates"`
	PushOnImplementationComplete   bool          `json:"push_on_implementation_complete" yaml:"push_on_implementation_complete"`
	OpenPROnImplementationComplete bool          `json:"open_pr_on_implementation_complete" yaml:"open_pr_on_implementation_complete"`
}

// RedactedSecret replaces secrets in displayed settings.
const RedactedSecret = "<redacted>"

// Redacted returns a copy safe to print or serve, with the agent token masked.
func (s Settings) Redacted() Settings {
	if s.Agent.Token != "" {
		s.Agent.Token = RedactedSecret
	}
	return s
}

// Agent types shep knows how to drive.
const (
	AgentCodexCLI = "codex-cli"
	AgentClaude   = "claude-code"
	AgentEcho     = "echo"
)

var (
	knownAgents    = map[string]struct{}{AgentCodexCLI: {}, AgentClaude: {}, AgentEcho: {}}
	knownLogLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}
)

// CreateDefaultSettings returns the settings a fresh install starts with.
// Every approval gate is closed and nothing is pushed or opened automatically.
func CreateDefaultSettings(now time.Time) Settings {
	now = now.UTC()
	return Settings{
		ID: SettingsID,
		Models: ModelConfig{
			Analyze:      "gpt-5-codex",
			Requirements: "gpt-5-codex",
			Plan:         "gpt-5-codex",
			Implement:    "gpt-5-codex",
		},
		Environment: EnvironmentConfig{
			DefaultEditor:   "vscode",
			ShellPreference: "bash",
		},
		System: SystemConfig{
			AutoUpdate: true,
			LogLevel:   "info",
		},
		Agent: AgentConfig{
			Type:       AgentCodexCLI,
			AuthMethod: "session",
		},
		Workflow: WorkflowConfig{
			ApprovalGates: ApprovalGates{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate reports settings that cannot be acted on.
func (s Settings) Validate() error {
	if _, ok := knownAgents[s.Agent.Type]; !ok {
		return fmt.Errorf("%w: unknown agent type %q", ErrConfiguration, s.Agent.Type)
	}
	if _, ok := knownLogLevels[s.System.LogLevel]; !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrConfiguration, s.System.LogLevel)
	}
	return nil
}

// GateBefore returns whether the transition into p is pre-approved.
func (g ApprovalGates) GateBefore(p Phase) bool {
	switch p {
	case PhasePlan:
		return g.AllowPRD
	case PhaseImplement:
		return g.AllowPlan
	case PhaseMerge:
		return g.AllowMerge
	default:
		return true
	}
}
