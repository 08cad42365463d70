package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/ports"
)

var _ ports.AgentExecutor = (*Claude)(nil)

// Claude drives the claude CLI in print mode ("claude -p --output-format json").
type Claude struct {
	*Runner
}

// NewClaude reuses cfg but defaults the binary to "claude".
func NewClaude(cfg config.AgentConfig) *Claude {
	if cfg.Binary == "" || cfg.Binary == "codex" {
		cfg.Binary = "claude"
	}
	return &Claude{Runner: New(cfg)}
}

func (c *Claude) Execute(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	ctx, cancel := c.ContextWithTimeout(ctx)
	defer cancel()

	var res ports.ExecResult
	err := retry(ctx, c.cfg.RetryCount()+1, func() error {
		var err error
		res, err = c.run(ctx, req)
		return err
	})
	return res, err
}

func (c *Claude) run(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return ports.ExecResult{}, errors.New("prompt cannot be empty")
	}
	args := []string{"-p", req.Prompt, "--output-format", "json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	args = append(args, c.cfg.ExtraArgs...)

	cmd := exec.CommandContext(ctx, expandPath(c.cfg.Binary), args...)
	cmd.Dir = c.workdir(req.Dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ports.ExecResult{}, fmt.Errorf("agent exec: %w", ctx.Err())
		}
		return ports.ExecResult{}, fmt.Errorf("agent exec failed: %w; stderr: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseClaudeJSON(stdout.Bytes())
}

func parseClaudeJSON(data []byte) (ports.ExecResult, error) {
	var out struct {
		SessionID string `json:"session_id"`
		Result    string `json:"result"`
		IsError   bool   `json:"is_error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &out); err != nil {
		return ports.ExecResult{}, fmt.Errorf("decode agent output: %w", err)
	}
	if out.IsError {
		return ports.ExecResult{}, fmt.Errorf("%w: %s", ErrAgentReported, out.Result)
	}
	if out.SessionID == "" {
		return ports.ExecResult{}, errors.New("could not find session id in agent output")
	}
	return ports.ExecResult{SessionID: out.SessionID, Reply: out.Result}, nil
}
