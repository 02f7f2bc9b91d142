package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/bfsujason/llm-corpus-annotation/internal/api"
	"github.com/bfsujason/llm-corpus-annotation/pkg/ratelimit"
)

func newServeCmd(withApp appWrapper) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")

	cmd.RunE = withApp(func(cmd *cobra.Command, a *app) error {
		if cmd.Flags().Changed("port") {
			a.cfg.Server.Port = port
		}
		limiter := ratelimit.New(time.Minute)
		defer limiter.Close()

		h := api.NewHandler(a.svc, api.Defaults{TopN: a.cfg.Analysis.TopN, MinDiff: a.cfg.Analysis.MinDiff})
		handler := api.New(h, a.checker, api.Options{
			Metrics:   a.metrics,
			Gatherer:  a.registry,
			Timeout:   a.cfg.Server.WriteTimeout,
			Limiter:   limiter,
			RateLimit: a.cfg.Server.RateLimit,
		})
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  a.cfg.Server.ReadTimeout,
			WriteTimeout: a.cfg.Server.WriteTimeout,
		}
		return listenAndServe(cmd.Context(), server, a)
	})
	return cmd
}

func listenAndServe(ctx context.Context, server *http.Server, a *app) error {
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("corpusdiff api listening",
		"addr", server.Addr,
		"corpus", a.corpus.Path,
		"records", a.corpus.Len(),
		"versions", a.corpus.Versions,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving api: %w", err)
	}
	<-stopped
	slog.Info("corpusdiff api stopped")
	return nil
}
