package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/admitpath/admitpath/internal/httpapi"
)

// shutdownGrace bounds the drain on SIGINT/SIGTERM.
const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the background refresh scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "Disable the background refresh jobs")
	return cmd
}

func runServe(ctx context.Context, noScheduler bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var sched = a.scheduler()
	if !noScheduler {
		sched.Start(ctx)
		log.Info().Strs("jobs", sched.JobNames()).Msg("scheduler started")
	}

	server := httpapi.New(a.stores, a.cache, a.classifier, a.calculator,
		a.decomposer, a.riskEngine, a.ledger, a.cfg)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	if !noScheduler {
		sched.Wait()
	}
	return nil
}
