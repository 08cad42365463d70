// Package app wires shep's dependencies from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joelklabo/shep/internal/checkpoint"
	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/executor"
	"github.com/joelklabo/shep/internal/jokes"
	"github.com/joelklabo/shep/internal/notify"
	"github.com/joelklabo/shep/internal/ports"
	"github.com/joelklabo/shep/internal/store"
	"github.com/joelklabo/shep/internal/usecases"
	"github.com/joelklabo/shep/internal/workflow"
)

// Container holds every constructed dependency and the use cases built on them.
type Container struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       *store.Store
	Checkpoints *checkpoint.Saver
	Executor    ports.AgentExecutor
	Notifier    ports.Notifier
	Selector    *jokes.Selector
	Workflow    *workflow.Orchestrator

	GetJoke            usecases.GetJoke
	InitializeSettings usecases.InitializeSettings
	LoadSettings       usecases.LoadSettings
	UpdateSettings     usecases.UpdateSettings
	ListAgentRuns      usecases.ListAgentRuns
	ShowAgentRun       usecases.ShowAgentRun
	StartFeature       usecases.StartFeature
	ApproveRun         usecases.ApproveRun
	CancelRun          usecases.CancelRun
	ListCheckpoints    usecases.ListCheckpoints
	DeleteRun          usecases.DeleteRun
}

// Option overrides a collaborator Build would otherwise construct.
type Option func(*Container)

// WithExecutor replaces the executor chosen from settings.
func WithExecutor(ex ports.AgentExecutor) Option {
	return func(c *Container) { c.Executor = ex }
}

// WithNotifier replaces the notifier built from config.
func WithNotifier(n ports.Notifier) Option {
	return func(c *Container) { c.Notifier = n }
}

// Build opens storage and constructs the executor, notifier, joke selector
// and use cases described by cfg. Callers must Close the container.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(c)
	}

	st, err := store.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c.Store = st

	saver, err := checkpoint.Open(cfg.Storage.CheckpointPath)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open checkpoints: %w", err)
	}
	c.Checkpoints = saver

	c.Selector, err = Selector(cfg)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	if c.Executor == nil {
		agentType := domain.AgentCodexCLI
		s, err := st.Load(ctx)
		switch {
		case err == nil:
			agentType = s.Agent.Type
		case !errors.Is(err, domain.ErrNotFound):
			_ = c.Close()
			return nil, fmt.Errorf("load settings: %w", err)
		}
		c.Executor, err = executor.ForAgent(agentType, cfg.Agent)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	if c.Notifier == nil {
		c.Notifier = ports.NopNotifier{}
		if cfg.Notify.Nostr.Enable {
			n, err := notify.New(ctx, cfg.Notify.Nostr)
			if err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("nostr notifier: %w", err)
			}
			c.Notifier = n
			logger.Info("nostr notifications enabled", slog.String("pubkey", n.PubKey()))
		}
	}

	c.Workflow = workflow.New(st, st, saver, c.Executor, logger,
		workflow.WithNotifier(c.Notifier),
		workflow.WithWorkdir(cfg.Agent.WorkingDir),
	)

	if _, err := c.Workflow.RecoverOrphans(ctx, nil); err != nil {
		logger.Warn("recover orphaned runs", slog.String("err", err.Error()))
	}

	c.GetJoke = usecases.GetJoke{Selector: c.Selector, Logger: logger}
	c.InitializeSettings = usecases.InitializeSettings{Repo: st}
	c.LoadSettings = usecases.LoadSettings{Repo: st}
	c.UpdateSettings = usecases.UpdateSettings{Repo: st}
	c.ListAgentRuns = usecases.ListAgentRuns{Repo: st}
	c.ShowAgentRun = usecases.ShowAgentRun{Repo: st}
	c.StartFeature = usecases.StartFeature{Workflow: c.Workflow}
	c.ApproveRun = usecases.ApproveRun{Workflow: c.Workflow}
	c.CancelRun = usecases.CancelRun{Workflow: c.Workflow}
	c.ListCheckpoints = usecases.ListCheckpoints{Runs: st, Checkpoints: saver}
	c.DeleteRun = usecases.DeleteRun{Runs: st, Checkpoints: saver}
	return c, nil
}

// Selector builds the joke selector from cfg without touching storage.
func Selector(cfg *config.Config) (*jokes.Selector, error) {
	corpus := jokes.DefaultCorpus()
	if cfg.Jokes.CorpusFile != "" {
		var err error
		corpus, err = jokes.LoadCorpus(cfg.Jokes.CorpusFile)
		if err != nil {
			return nil, err
		}
	}
	return jokes.NewSelector(corpus), nil
}

// Close releases storage handles.
func (c *Container) Close() error {
	var errs []error
	if c.Checkpoints != nil {
		errs = append(errs, c.Checkpoints.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}
