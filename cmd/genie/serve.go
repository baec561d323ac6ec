package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"genie/internal/server"
)

const shutdownGrace = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			app, err := newApplication(cfg)
			if err != nil {
				return err
			}

			srv := server.New(server.Deps{
				Config:   cfg,
				Pipeline: app.pipeline,
				Store:    app.store,
				Calendar: app.calendar,
				LLM:      app.llm,
				Hub:      app.hub,
				Metrics:  app.obs.Metrics,
				Logger:   app.logger,
				Version:  version,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Run() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				app.logger.Error("Shutdown: %v", err)
			}
			app.close(shutdownCtx)
			return nil
		},
	}
}
