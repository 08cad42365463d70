// Package executor drives a Codex-style agent CLI ("<binary> exec --json").
package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/ports"
)

var _ ports.AgentExecutor = (*Runner)(nil)

// Runner executes prompts through the agent CLI and extracts session metadata.
type Runner struct {
	cfg config.AgentConfig
}

// Result captures the most recent agent reply and session id.
type Result struct {
	SessionID string
	Reply     string
	RawLines  []string
}

// New creates a Runner with the provided config.
func New(cfg config.AgentConfig) *Runner {
	return &Runner{cfg: cfg}
}

// Execute runs req with the configured timeout, retrying failures that are
// not caused by the context.
func (r *Runner) Execute(ctx context.Context, req ports.ExecRequest) (ports.ExecResult, error) {
	ctx, cancel := r.ContextWithTimeout(ctx)
	defer cancel()

	var res Result
	err := retry(ctx, r.cfg.RetryCount()+1, func() error {
		var err error
		res, err = r.Run(ctx, req.SessionID, req.Prompt, req.Model, req.Dir)
		return err
	})
	if err != nil {
		return ports.ExecResult{}, err
	}
	return ports.ExecResult{SessionID: res.SessionID, Reply: res.Reply}, nil
}

// Run executes a prompt once. If sessionID is empty, a new agent session is
// started; otherwise the session is resumed.
func (r *Runner) Run(ctx context.Context, sessionID, prompt, model, dir string) (Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return Result{}, errors.New("prompt cannot be empty")
	}

	args := make([]string, 0, 16)
	// Global flags
	if r.cfg.Approval != "" {
		args = append(args, "-a", r.cfg.Approval)
	}
	if r.cfg.Sandbox != "" {
		args = append(args, "--sandbox", r.cfg.Sandbox)
	}
	if r.cfg.Profile != "" {
		args = append(args, "--profile", r.cfg.Profile)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	// Subcommand and options
	args = append(args, "exec", "--json")
	if r.cfg.SkipGitRepoCheck {
		args = append(args, "--skip-git-repo-check")
	}
	args = append(args, r.cfg.ExtraArgs...)
	if sessionID != "" {
		args = append(args, "resume", sessionID)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, expandPath(r.cfg.Binary), args...)
	cmd.Dir = r.workdir(dir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("agent exec: %w", ctx.Err())
		}
		return Result{}, fmt.Errorf("agent exec failed: %w; stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseJSONL(stdout.Bytes())
}

// RunCommand runs a plain command (git, gh) and returns its combined output.
func (r *Runner) RunCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.workdir(dir)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, text)
	}
	return text, nil
}

func (r *Runner) workdir(dir string) string {
	if dir != "" {
		return dir
	}
	return r.cfg.WorkingDir
}

// parseJSONL extracts the session id and final agent message from JSONL output.
func parseJSONL(data []byte) (Result, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*64), 1024*1024) // allow larger lines

	var res Result
	for scanner.Scan() {
		line := scanner.Text()
		res.RawLines = append(res.RawLines, line)

		var evt struct {
			Type     string `json:"type"`
			ThreadID string `json:"thread_id"`
			Item     *struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"item"`
			Error string `json:"error"`
		}

		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			// Non-JSON lines are ignored but kept in raw log.
			continue
		}
		if evt.ThreadID != "" {
			res.SessionID = evt.ThreadID
		}
		if evt.Item != nil && evt.Item.Type == "agent_message" && evt.Item.Text != "" {
			res.Reply = evt.Item.Text
		}
		if evt.Error != "" {
			return res, fmt.Errorf("%w: %s", ErrAgentReported, evt.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return res, err
	}

	if res.SessionID == "" {
		return res, errors.New("could not find session id in agent output")
	}
	if res.Reply == "" {
		res.Reply = "(agent did not return a message)"
	}
	return res, nil
}

// ContextWithTimeout returns a context derived from parent with the configured timeout applied.
func (r *Runner) ContextWithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	t := time.Duration(r.cfg.TimeoutSeconds) * time.Second
	if t == 0 {
		t = 15 * time.Minute
	}
	return context.WithTimeout(parent, t)
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
