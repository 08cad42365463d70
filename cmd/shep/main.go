package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joelklabo/shep/internal/app"
	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/store"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// execute runs one CLI invocation and releases whatever it opened.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...app.Option) error {
	e := &env{opts: opts}
	root := newRootCmd(e)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, e.close())
}

// env is the per-invocation state shared by subcommands.
type env struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	logFile    io.Closer
	container  *app.Container
	opts       []app.Option
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "shep",
		Short:         "Drive a coding agent through gated feature workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load()
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "", "path to config.yaml (default $SHEP_CONFIG or ~/.shep/config.yaml)")

	root.AddCommand(
		newJokeCmd(e),
		newSettingsCmd(e),
		newFeatCmd(e),
		newRunsCmd(e),
		newCheckpointsCmd(e),
		newUICmd(e),
		newDoctorCmd(e),
		newConfigCmd(e),
		newVersionCmd(),
	)
	return root
}

func (e *env) load() error {
	path := e.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = cfg
	logger, closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	e.logger, e.logFile = logger, closer
	return nil
}

// app builds the container on first use so commands like "version" never
// touch storage.
func (e *env) app(ctx context.Context) (*app.Container, error) {
	if e.container != nil {
		return e.container, nil
	}
	c, err := app.Build(ctx, e.cfg, e.logger, e.opts...)
	if errors.Is(err, store.ErrLocked) {
		return nil, fmt.Errorf("%w\nif \"shep ui\" is running, stop it or use its API at http://%s/api", err, e.cfg.UI.Addr)
	}
	if err != nil {
		return nil, err
	}
	e.container = c
	return c, nil
}

func (e *env) close() error {
	var errs []error
	if e.container != nil {
		errs = append(errs, e.container.Close())
		e.container = nil
	}
	if e.logFile != nil {
		errs = append(errs, e.logFile.Close())
		e.logFile = nil
	}
	return errors.Join(errs...)
}

// setupLogger builds the slog handler described by cfg.Logging. The returned
// closer is non-nil when logs go to a file.
func setupLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Logging.Format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h), closer, nil
}

func buildVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the shep version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "shep", buildVersion())
			return nil
		},
	}
}
