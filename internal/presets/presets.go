// Package presets ships named starting points for workflow settings.
package presets

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joelklabo/shep/internal/check"
	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/domain"
)

//go:embed data/cautious.yaml
var Cautious []byte

//go:embed data/autopilot.yaml
var Autopilot []byte

//go:embed data/review-plan.yaml
var ReviewPlan []byte

var builtin = map[string][]byte{
	"cautious":    Cautious,
	"autopilot":   Autopilot,
	"review-plan": ReviewPlan,
}

// List returns preset names and descriptions.
func List() map[string]string {
	return map[string]string{
		"cautious":    "Approve every phase; never push",
		"autopilot":   "No approvals; push and open a pull request",
		"review-plan": "Stop only to review the plan (claude-code)",
	}
}

// Names returns preset names sorted.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the raw YAML for a preset, or an error if unknown.
func Get(name string) ([]byte, error) {
	if data, ok := loadOverride(name); ok {
		return data, nil
	}
	data, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %s", name)
	}
	return data, nil
}

// Settings applies a preset over default settings and validates the result.
func Settings(name string, now time.Time) (domain.Settings, error) {
	data, err := Get(name)
	if err != nil {
		return domain.Settings{}, err
	}
	s := domain.CreateDefaultSettings(now)
	if err := yaml.Unmarshal(data, &s); err != nil {
		return domain.Settings{}, fmt.Errorf("parse preset %s: %w", name, err)
	}
	if err := s.Validate(); err != nil {
		return domain.Settings{}, fmt.Errorf("preset %s: %w", name, err)
	}
	return s, nil
}

// Deps returns the prerequisites a preset's workflow needs. binary is the
// configured agent.binary; empty means the agent's default command.
func Deps(s domain.Settings, binary string) []check.Dep {
	var deps []check.Dep
	switch s.Agent.Type {
	case domain.AgentCodexCLI:
		if binary == "" {
			binary = "codex"
		}
		deps = append(deps, check.Dep{Name: binary, Type: "binary", Hint: "npm i -g @openai/codex"})
	case domain.AgentClaude:
		if binary == "" || binary == "codex" {
			binary = "claude"
		}
		deps = append(deps, check.Dep{Name: binary, Type: "binary", Hint: "npm i -g @anthropic-ai/claude-code"})
	}
	if s.Workflow.PushOnImplementationComplete || s.Workflow.OpenPROnImplementationComplete {
		deps = append(deps, check.Dep{Name: "git", Type: "binary", Hint: "needed to push branches"})
	}
	if s.Workflow.OpenPROnImplementationComplete {
		deps = append(deps, check.Dep{Name: "gh", Type: "binary", Hint: "GitHub CLI, needed to open pull requests"})
	}
	return deps
}

// loadOverride returns a user preset from the shep home directory if present.
func loadOverride(name string) ([]byte, bool) {
	for _, path := range overridePaths(name) {
		if data, err := os.ReadFile(path); err == nil {
			return data, true
		}
	}
	return nil, false
}

func overridePaths(name string) []string {
	return []string{
		filepath.Join(config.HomeDir(), "presets", name+".yaml"),
		filepath.Join("presets", name+".yaml"),
	}
}
