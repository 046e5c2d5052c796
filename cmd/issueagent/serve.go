/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"chainguard.dev/issueagent/reconcilers/githubreconciler/issuereconciler"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/webhook"
	"github.com/chainguard-dev/clog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive GitHub webhooks and resolve labeled issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	log := clog.FromContext(ctx)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if cfg.WebhookSecret == "" {
		return errors.New("WEBHOOK_SECRET is required to serve webhooks")
	}

	shutdown, err := setupTelemetry()
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			log.With("error", err).Warn("Failed to shut down telemetry")
		}
	}()

	policy, err := cfg.policy()
	if err != nil {
		return err
	}
	ctx = withRunChecks(ctx, policy)

	rec, store, err := cfg.reconciler(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher, err := issuereconciler.NewDispatcher(ctx, rec, cfg.MaxConcurrentRuns)
	if err != nil {
		return err
	}
	burst := int(math.Max(1, math.Ceil(cfg.WebhookRPS)))
	hooks, err := webhook.New([]byte(cfg.WebhookSecret), dispatcher, rec, webhook.WithRateLimit(cfg.WebhookRPS, burst))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	servers := []*http.Server{{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           hooks.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}, {
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			log.With("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serving %s: %w", srv.Addr, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if serr := srv.Shutdown(sctx); serr != nil {
			log.With("error", serr).Warn("Failed to shut down server")
		}
	}
	// Runs observe ctx; wait for them to record their outcome.
	dispatcher.Wait()
	return err
}
