package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(10)
	valStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	bannerBox  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("13")).Padding(0, 1)

	statusColors = map[domain.AgentRunStatus]lipgloss.Color{
		domain.RunRunning:         "12",
		domain.RunWaitingApproval: "11",
		domain.RunCompleted:       "10",
		domain.RunFailed:          "9",
		domain.RunInterrupted:     "208",
		domain.RunCancelled:       "8",
	}
)

func printBanner(w io.Writer, cfg *config.Config, ver string) {
	rows := []string{
		titleStyle.Render("shep " + ver),
		kv("ui", "http://"+cfg.UI.Addr),
		kv("state", cfg.Storage.Path),
		kv("cwd", cfg.Agent.WorkingDir),
	}
	if cfg.Metrics.Listen != "" {
		rows = append(rows, kv("metrics", "http://"+cfg.Metrics.Listen+"/metrics"))
	}
	fmt.Fprintln(w, bannerBox.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
}

func kv(k, v string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, keyStyle.Render(k), valStyle.Render(v))
}

func statusText(s domain.AgentRunStatus) string {
	c, ok := statusColors[s]
	if !ok {
		return string(s)
	}
	return lipgloss.NewStyle().Foreground(c).Render(string(s))
}

func runsTable(runs []domain.AgentRun) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "STATUS", "PHASE", "AGENT", "CREATED", "PROMPT")
	for _, r := range runs {
		t.Row(r.ID, statusText(r.Status), string(r.Phase), r.AgentType, r.CreatedAt.Local().Format(time.DateTime), truncate(r.Prompt, 48))
	}
	return t.String()
}

func printRun(w io.Writer, r domain.AgentRun) {
	fmt.Fprintln(w, kv("id", r.ID))
	fmt.Fprintln(w, kv("status", statusText(r.Status)))
	fmt.Fprintln(w, kv("phase", string(r.Phase)))
	fmt.Fprintln(w, kv("agent", r.AgentType))
	fmt.Fprintln(w, kv("thread", r.ThreadID))
	if r.SessionID != "" {
		fmt.Fprintln(w, kv("session", r.SessionID))
	}
	fmt.Fprintln(w, kv("prompt", r.Prompt))
	if r.Error != "" {
		fmt.Fprintln(w, kv("error", r.Error))
	}
	if r.Result != "" {
		fmt.Fprintf(w, "\n%s\n", r.Result)
	}
}

func checkpointsTable(cps []ports.CheckpointTuple) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CHECKPOINT", "PARENT", "SOURCE", "STEP", "PHASE", "WRITES")
	for _, cp := range cps {
		parent := ""
		if cp.ParentConfig != nil {
			parent = cp.ParentConfig.CheckpointID
		}
		phase := strings.Trim(string(cp.Checkpoint.ChannelValues["phase"]), `"`)
		t.Row(cp.Config.CheckpointID, parent, cp.Metadata.Source, fmt.Sprint(cp.Metadata.Step), phase, fmt.Sprint(len(cp.PendingWrites)))
	}
	return t.String()
}

func truncate(s string, max int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max-1]) + "…"
}
