// Package integration contains tests that verify the report pipeline against
// a real PostgreSQL database: the snapshot store, the Kafka message handler
// and the reports API. Tests skip when PostgreSQL is unavailable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfsujason/llm-corpus-annotation/internal/analysis"
	"github.com/bfsujason/llm-corpus-annotation/internal/api"
	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	"github.com/bfsujason/llm-corpus-annotation/pkg/health"
	"github.com/bfsujason/llm-corpus-annotation/pkg/postgres"
)

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	ctx := context.Background()
	db, err := postgres.New(ctx, testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "corpusdiff_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "corpusdiff"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// testKind is unique per run so rows from earlier runs do not interfere.
func testKind() analysis.ReportKind {
	return analysis.ReportKind("it-" + uuid.NewString()[:8])
}

func event(kind analysis.ReportKind, at time.Time) analysis.ReportEvent {
	return analysis.ReportEvent{
		RunID:      uuid.NewString(),
		Kind:       kind,
		Corpus:     "data/output/2_semantic_annotation.jsonl",
		Params:     json.RawMessage(`{"feature":"usas","tags":["S"],"a":"deepseek","b":"human"}`),
		Result:     json.RawMessage(`[{"id":"17","diff":3}]`),
		DurationMs: 12,
		RequestID:  "req-1",
		Timestamp:  at.UTC().Truncate(time.Microsecond),
	}
}

func TestSaveAndListSnapshots(t *testing.T) {
	db := skipIfNoPostgres(t)
	store := analysis.NewStore(db, nil)
	ctx := context.Background()
	kind := testKind()

	base := time.Now()
	older := event(kind, base.Add(-time.Minute))
	newer := event(kind, base)
	require.NoError(t, store.SaveSnapshot(ctx, older))
	require.NoError(t, store.SaveSnapshot(ctx, newer))
	require.NoError(t, store.SaveSnapshot(ctx, newer), "redelivery is ignored")

	got, err := store.Recent(ctx, kind, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.RunID, got[0].RunID)
	assert.Equal(t, older.RunID, got[1].RunID)
	assert.JSONEq(t, string(newer.Params), string(got[0].Params))
	assert.JSONEq(t, string(newer.Result), string(got[0].Result))
	assert.Equal(t, int64(12), got[0].DurationMs)
	assert.True(t, newer.Timestamp.Equal(got[0].Timestamp))

	got, err = store.Recent(ctx, kind, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestHandleStoresKafkaMessage(t *testing.T) {
	db := skipIfNoPostgres(t)
	store := analysis.NewStore(db, nil)
	ctx := context.Background()
	kind := testKind()

	ev := event(kind, time.Now())
	value, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, store.Handle(ctx, []byte(ev.RunID), value))

	got, err := store.Recent(ctx, kind, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev.RunID, got[0].RunID)
}

func TestReportsEndpoint(t *testing.T) {
	db := skipIfNoPostgres(t)
	store := analysis.NewStore(db, nil)
	kind := testKind()
	require.NoError(t, store.SaveSnapshot(context.Background(), event(kind, time.Now())))

	checker := health.NewChecker()
	checker.Register("postgres", health.Ping(db.Ping, false))
	srv := httptest.NewServer(api.NewReportsRouter(api.NewReports(store), checker, api.Options{Timeout: 5 * time.Second}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/reports?kind=" + string(kind))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Reports []analysis.ReportEvent `json:"reports"`
		Count   int                    `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, kind, body.Reports[0].Kind)

	ready, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
