package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bfsujason/llm-corpus-annotation/pkg/kafka"
	"github.com/bfsujason/llm-corpus-annotation/pkg/logger"
	"github.com/bfsujason/llm-corpus-annotation/pkg/metrics"
	"github.com/bfsujason/llm-corpus-annotation/pkg/postgres"
)

// Store persists report events in the report_snapshots table created by
// postgres.Client.Migrate.
type Store struct {
	db      *postgres.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewStore(db *postgres.Client, m *metrics.Metrics) *Store {
	return &Store{
		db:      db,
		metrics: m,
		logger:  logger.WithComponent("report-store"),
	}
}

// SaveSnapshot inserts ev. Redelivered events with a known run ID are
// ignored.
func (s *Store) SaveSnapshot(ctx context.Context, ev ReportEvent) error {
	params, result := jsonOrNull(ev.Params), jsonOrNull(ev.Result)
	createdAt := ev.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO report_snapshots (run_id, kind, corpus, params, result, duration_ms, request_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (run_id) DO NOTHING`,
		ev.RunID, string(ev.Kind), ev.Corpus, []byte(params), []byte(result), ev.DurationMs, ev.RequestID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("saving report snapshot %s: %w", ev.RunID, err)
	}

	if s.metrics != nil {
		s.metrics.ReportEventsTotal.WithLabelValues("stored").Inc()
	}
	s.logger.Info("report snapshot saved", "run_id", ev.RunID, "kind", ev.Kind)
	return nil
}

// Recent returns up to limit snapshots, newest first. An empty kind matches
// every kind.
func (s *Store) Recent(ctx context.Context, kind ReportKind, limit int) ([]ReportEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT run_id, kind, corpus, params, result, duration_ms, request_id, created_at
		 FROM report_snapshots
		 WHERE ($1 = '' OR kind = $1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing report snapshots: %w", err)
	}
	defer rows.Close()

	var events []ReportEvent
	for rows.Next() {
		var (
			ev             ReportEvent
			kindStr        string
			params, result []byte
		)
		if err := rows.Scan(&ev.RunID, &kindStr, &ev.Corpus, &params, &result, &ev.DurationMs, &ev.RequestID, &ev.Timestamp); err != nil {
			s.logger.Warn("skipping unreadable snapshot row", "error", err)
			continue
		}
		ev.Kind = ReportKind(kindStr)
		ev.Params = params
		ev.Result = result
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating report snapshots: %w", err)
	}
	return events, nil
}

// Handle is a kafka.MessageHandler that stores one report event per message.
// Undecodable messages are logged and committed so they are not redelivered.
func (s *Store) Handle(ctx context.Context, key, value []byte) error {
	ev, err := decodeEvent(value)
	if err != nil {
		s.logger.Warn("discarding report event", "key", string(key), "error", err)
		return nil
	}
	return s.SaveSnapshot(ctx, ev)
}

func decodeEvent(value []byte) (ReportEvent, error) {
	ev, err := kafka.DecodeJSON[ReportEvent](value)
	if err != nil {
		return ReportEvent{}, fmt.Errorf("decoding report event: %w", err)
	}
	if ev.RunID == "" || ev.Kind == "" {
		return ReportEvent{}, fmt.Errorf("report event missing run_id or kind")
	}
	return ev, nil
}

func jsonOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
