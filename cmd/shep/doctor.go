package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelklabo/shep/internal/check"
	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/presets"
	"github.com/joelklabo/shep/internal/store"
)

func newDoctorCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the agent, git tooling and storage are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := doctorSettings(cmd, e)
			if err != nil {
				return err
			}
			results := check.Run(doctorDeps(e.cfg, s))
			missing := printResults(cmd.OutOrStdout(), results)
			if check.Failed(results) {
				return fmt.Errorf("%d required dependencies missing", missing)
			}
			return nil
		},
	}
}

// doctorSettings loads the saved settings. A store held by a running UI
// server is reported and the defaults are checked instead.
func doctorSettings(cmd *cobra.Command, e *env) (domain.Settings, error) {
	c, err := e.app(cmd.Context())
	if errors.Is(err, store.ErrLocked) {
		fmt.Fprintf(cmd.OutOrStdout(), "⚠ %s (store) in use by another shep process, checking default settings\n", e.cfg.Storage.Path)
		return domain.CreateDefaultSettings(time.Now()), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	s, err := c.LoadSettings.Execute(cmd.Context())
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CreateDefaultSettings(time.Now()), nil
	}
	return s, err
}

// doctorDeps lists what the configured agent, merge settings and storage need.
func doctorDeps(cfg *config.Config, s domain.Settings) []check.Dep {
	deps := presets.Deps(s, cfg.Agent.Binary)
	deps = append(deps, check.Dep{
		Name: filepath.Dir(cfg.Storage.Path),
		Type: "dirwrite",
		Hint: "state directory must be writable",
	})
	if cfg.Jokes.CorpusFile != "" {
		deps = append(deps, check.Dep{Name: cfg.Jokes.CorpusFile, Type: "file", Hint: "jokes.corpus_file"})
	}
	if s.Workflow.OpenPROnImplementationComplete {
		deps = append(deps,
			check.Dep{Name: "GH_TOKEN", Type: "env", Optional: true, Hint: "or run gh auth login"},
			check.Dep{Name: "https://api.github.com", Type: "url", Optional: true, Hint: "gh needs to reach GitHub"},
		)
	}
	deps = append(deps, check.Dep{Name: cfg.UI.Addr, Type: "port", Optional: true, Hint: "shep ui is not running"})
	if n := cfg.Notify.Nostr; n.Enable {
		for _, r := range n.Relays {
			deps = append(deps, check.Dep{Name: r, Type: "relay", Optional: true, Hint: "notifications are best effort"})
		}
	}
	return deps
}

func printResults(w io.Writer, results []check.Result) int {
	missing := 0
	for _, r := range results {
		switch r.Status {
		case check.StatusOK:
			fmt.Fprintf(w, "✓ %s (%s) %s\n", r.Name, r.Type, r.Details)
		case check.StatusWarn:
			fmt.Fprintf(w, "⚠ %s (%s) %s\n", r.Name, r.Type, r.Details)
		default:
			if !r.Optional {
				missing++
			}
			fmt.Fprintf(w, "✗ %s (%s) %s\n", r.Name, r.Type, r.Details)
		}
	}
	return missing
}
