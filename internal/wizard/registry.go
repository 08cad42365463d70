package wizard

import (
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/presets"
)

type AgentOption struct {
	Name        string
	Description string
	Binary      string
}

type PresetOption struct {
	Name        string
	Description string
}

// Registry holds available options for the wizard.
type Registry struct {
	Agents  []AgentOption
	Presets []PresetOption
}

var defaultRegistry = Registry{
	Agents: []AgentOption{
		{Name: domain.AgentCodexCLI, Description: "OpenAI Codex CLI", Binary: "codex"},
		{Name: domain.AgentClaude, Description: "Claude Code CLI", Binary: "claude"},
		{Name: domain.AgentEcho, Description: "Echo prompts back (offline, no changes)"},
	},
	Presets: presetOptions(),
}

func presetOptions() []PresetOption {
	desc := presets.List()
	out := make([]PresetOption, 0, len(desc))
	for _, name := range presets.Names() {
		out = append(out, PresetOption{Name: name, Description: desc[name]})
	}
	return out
}

// GetRegistry returns the default registry (copy).
func GetRegistry() Registry {
	return defaultRegistry
}

// SetRegistry overrides the global registry (primarily for tests/extensibility).
// Callers should restore the previous value after use to avoid leaking state across tests.
func SetRegistry(r Registry) {
	defaultRegistry = r
}
