package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joelklabo/shep/internal/app"
	"github.com/joelklabo/shep/internal/assets"
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
	"github.com/joelklabo/shep/internal/presets"
	"github.com/joelklabo/shep/internal/usecases"
	"github.com/joelklabo/shep/internal/wizard"
)

func newJokeCmd(e *env) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "joke",
		Short: "Print a random developer joke",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel, err := app.Selector(e.cfg)
			if err != nil {
				return err
			}
			getJoke := usecases.GetJoke{Selector: sel, Logger: e.logger}
			for i := 0; i < count; i++ {
				joke, err := getJoke.Execute(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), joke)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of jokes (drawn with replacement)")
	return cmd
}

func newSettingsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Show or change workflow settings"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print stored settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			s, err := c.LoadSettings.Execute(cmd.Context())
			if errors.Is(err, domain.ErrNotFound) {
				return errors.New("settings not initialized; run: shep settings init")
			}
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(s.Redacted())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	var presetName string
	var interactive, force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create settings from defaults, a preset, or an interactive wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c, err := e.app(ctx)
			if err != nil {
				return err
			}
			var s domain.Settings
			switch {
			case interactive:
				s, err = wizard.Run(ctx, c.Store, nil, cmd.OutOrStdout())
			case presetName != "":
				s, err = presets.Settings(presetName, time.Now())
				if err != nil {
					return err
				}
				if _, loadErr := c.LoadSettings.Execute(ctx); loadErr == nil {
					if !force {
						return errors.New("settings already exist; pass --force to replace them")
					}
					s, err = c.UpdateSettings.Execute(ctx, s)
				} else {
					err = c.Store.Initialize(ctx, s)
				}
			default:
				s, err = c.InitializeSettings.Execute(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "settings ready (agent %s)\n", s.Agent.Type)
			return nil
		},
	}
	initCmd.Flags().StringVar(&presetName, "preset", "", "start from a preset ("+strings.Join(presets.Names(), ", ")+")")
	initCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask questions instead of using defaults")
	initCmd.Flags().BoolVar(&force, "force", false, "replace existing settings when using --preset")

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting, e.g. workflow.allow_plan true",
		Long:  "Keys: " + strings.Join(settingKeys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := e.app(ctx)
			if err != nil {
				return err
			}
			s, err := c.LoadSettings.Execute(ctx)
			if err != nil {
				return err
			}
			if err := applySetting(&s, args[0], args[1]); err != nil {
				return err
			}
			if _, err := c.UpdateSettings.Execute(ctx, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(show, initCmd, set)
	return cmd
}

type setter func(s *domain.Settings, v string) error

func str(dst func(*domain.Settings) *string) setter {
	return func(s *domain.Settings, v string) error {
		*dst(s) = v
		return nil
	}
}

func boolean(dst func(*domain.Settings) *bool) setter {
	return func(s *domain.Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %q is not a boolean", domain.ErrConfiguration, v)
		}
		*dst(s) = b
		return nil
	}
}

var setters = map[string]setter{
	"agent.type":                 str(func(s *domain.Settings) *string { return &s.Agent.Type }),
	"agent.auth_method":          str(func(s *domain.Settings) *string { return &s.Agent.AuthMethod }),
	"models.analyze":             str(func(s *domain.Settings) *string { return &s.Models.Analyze }),
	"models.requirements":        str(func(s *domain.Settings) *string { return &s.Models.Requirements }),
	"models.plan":                str(func(s *domain.Settings) *string { return &s.Models.Plan }),
	"models.implement":           str(func(s *domain.Settings) *string { return &s.Models.Implement }),
	"user.name":                  str(func(s *domain.Settings) *string { return &s.User.Name }),
	"user.email":                 str(func(s *domain.Settings) *string { return &s.User.Email }),
	"user.github_username":       str(func(s *domain.Settings) *string { return &s.User.GitHubUsername }),
	"environment.default_editor": str(func(s *domain.Settings) *string { return &s.Environment.DefaultEditor }),
	"environment.shell":          str(func(s *domain.Settings) *string { return &s.Environment.ShellPreference }),
	"system.log_level":           str(func(s *domain.Settings) *string { return &s.System.LogLevel }),
	"system.auto_update":         boolean(func(s *domain.Settings) *bool { return &s.System.AutoUpdate }),
	"workflow.allow_prd":         boolean(func(s *domain.Settings) *bool { return &s.Workflow.ApprovalGates.AllowPRD }),
	"workflow.allow_plan":        boolean(func(s *domain.Settings) *bool { return &s.Workflow.ApprovalGates.AllowPlan }),
	"workflow.allow_merge":       boolean(func(s *domain.Settings) *bool { return &s.Workflow.ApprovalGates.AllowMerge }),
	"workflow.push":              boolean(func(s *domain.Settings) *bool { return &s.Workflow.PushOnImplementationComplete }),
	"workflow.open_pr":           boolean(func(s *domain.Settings) *bool { return &s.Workflow.OpenPROnImplementationComplete }),
}

func applySetting(s *domain.Settings, key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrConfiguration, key)
	}
	return set(s, value)
}

func settingKeys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func newFeatCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "feat", Short: "Work on features"}
	cmd.AddCommand(&cobra.Command{
		Use:   "new <prompt...>",
		Short: "Start a gated workflow for a feature request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			run, err := c.StartFeature.Execute(cmd.Context(), strings.Join(args, " "))
			if run.ID != "" {
				printRun(cmd.OutOrStdout(), run)
				if run.Status == domain.RunWaitingApproval {
					fmt.Fprintf(cmd.OutOrStdout(), "\nnext: shep runs approve %s\n", run.ID)
				}
			}
			return err
		},
	})
	return cmd
}

func newRunsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Inspect and steer agent runs"}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := ports.ListOptions{Limit: limit}
			if status != "" {
				st, err := domain.ParseAgentRunStatus(status)
				if err != nil {
					return err
				}
				opts.Status = st
			}
			c, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := c.ListAgentRuns.Execute(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), runsTable(runs))
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "only runs with this status")
	list.Flags().IntVar(&limit, "limit", 20, "maximum runs to show (0 for all)")

	byID := func(use, short string, fn func(cmd *cobra.Command, id string) (domain.AgentRun, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <run-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				run, err := fn(cmd, args[0])
				if run.ID != "" {
					printRun(cmd.OutOrStdout(), run)
				}
				return err
			},
		}
	}

	show := byID("show", "Show one run", func(cmd *cobra.Command, id string) (domain.AgentRun, error) {
		c, err := e.app(cmd.Context())
		if err != nil {
			return domain.AgentRun{}, err
		}
		return c.ShowAgentRun.Execute(cmd.Context(), id)
	})
	approve := byID("approve", "Approve the next phase of a paused run", func(cmd *cobra.Command, id string) (domain.AgentRun, error) {
		c, err := e.app(cmd.Context())
		if err != nil {
			return domain.AgentRun{}, err
		}
		return c.ApproveRun.Execute(cmd.Context(), id)
	})
	cancel := byID("cancel", "Cancel a run that has not finished", func(cmd *cobra.Command, id string) (domain.AgentRun, error) {
		c, err := e.app(cmd.Context())
		if err != nil {
			return domain.AgentRun{}, err
		}
		return c.CancelRun.Execute(cmd.Context(), id)
	})

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.DeleteRun.Execute(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, approve, cancel, del)
	return cmd
}

func newCheckpointsCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "checkpoints <run-or-thread-id>",
		Short: "List workflow checkpoints of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			cps, err := c.ListCheckpoints.Execute(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(cps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no checkpoints")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), checkpointsTable(cps))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum checkpoints to show (0 for all)")
	return cmd
}

func newConfigCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print an annotated example config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(assets.ConfigExample)
			return err
		},
	}, &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			shown := *e.cfg
			if shown.Notify.Nostr.PrivateKey != "" {
				shown.Notify.Nostr.PrivateKey = "<redacted>"
			}
			if shown.UI.AuthToken != "" {
				shown.UI.AuthToken = "<redacted>"
			}
			out, err := yaml.Marshal(shown)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}
