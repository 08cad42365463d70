package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joelklabo/shep/internal/metrics"
	"github.com/joelklabo/shep/internal/ui"
)

func newUICmd(e *env) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Serve the local web UI until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				e.cfg.UI.Addr = addr
			}
			c, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			printBanner(cmd.OutOrStdout(), e.cfg, buildVersion())

			srv := ui.New(e.cfg.UI, ui.Services{
				GetJoke:         c.GetJoke,
				LoadSettings:    c.LoadSettings,
				UpdateSettings:  c.UpdateSettings,
				ListAgentRuns:   c.ListAgentRuns,
				ShowAgentRun:    c.ShowAgentRun,
				ApproveRun:      c.ApproveRun,
				ListCheckpoints: c.ListCheckpoints,
			}, e.logger)

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return srv.Start(ctx) })
			g.Go(func() error {
				if _, err := metrics.Start(ctx, e.cfg.Metrics.Listen, e.logger); err != nil {
					return err
				}
				<-ctx.Done()
				return ctx.Err()
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ui.addr)")
	return cmd
}
