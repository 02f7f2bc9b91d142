// Command reportsink stores corpusdiff report events.
//
// It consumes the reports topic from Kafka, writes each event to the
// report_snapshots table in PostgreSQL, and serves the stored snapshots at
// GET /api/v1/reports for dashboards.
//
// Usage:
//
//	go run ./cmd/reportsink [-config configs/corpusdiff.yaml] [-port 8091]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bfsujason/llm-corpus-annotation/internal/analysis"
	"github.com/bfsujason/llm-corpus-annotation/internal/api"
	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	"github.com/bfsujason/llm-corpus-annotation/pkg/health"
	"github.com/bfsujason/llm-corpus-annotation/pkg/kafka"
	"github.com/bfsujason/llm-corpus-annotation/pkg/logger"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
	"github.com/bfsujason/llm-corpus-annotation/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.Int("port", 8091, "HTTP listen port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *port); err != nil {
		slog.Error("report sink failed", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("report sink stopped")
}

// run returns only after every resource it opened is closed.
func run(ctx context.Context, cfg *config.Config, port int) error {
	slog.Info("starting report sink", "port", port, "topic", cfg.Kafka.Topics.Reports)

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	slog.Info("postgres connected", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := analysis.NewStore(db, m)

	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Reports, store.Handle)
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("report consumer error", "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(db.Ping, false))
	checker.Register("kafka", health.Ping(consumer.Ping, true))

	handler := api.NewReportsRouter(api.NewReports(store), checker, api.Options{
		Metrics:  m,
		Gatherer: reg,
		Timeout:  cfg.Server.WriteTimeout,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("report sink listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving on %s: %w", server.Addr, err)
	}
	<-stopped
	return nil
}
