package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
)

var _ ports.AgentExecutor = Echo{}

// Echo answers every prompt with the prompt itself and never runs commands.
// It lets workflows be exercised without an agent installed.
type Echo struct{}

func (Echo) Execute(_ context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	sid := req.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}
	return ports.ExecResult{SessionID: sid, Reply: req.Prompt}, nil
}

func (Echo) RunCommand(_ context.Context, _ string, name string, args ...string) (string, error) {
	return "dry run: " + strings.Join(append([]string{name}, args...), " "), nil
}

// ForAgent picks the executor for an agent type from domain settings.
func ForAgent(agentType string, cfg config.AgentConfig) (ports.AgentExecutor, error) {
	switch agentType {
	case domain.AgentCodexCLI, "":
		return New(cfg), nil
	case domain.AgentClaude:
		return NewClaude(cfg), nil
	case domain.AgentEcho:
		return Echo{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown agent type %q", domain.ErrConfiguration, agentType)
	}
}
