package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) ComponentHealth { return ComponentHealth{Status: StatusUp} }

func TestRunWorstStatusWins(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"all up", map[string]Check{"corpus": up, "embedding": up}, StatusUp},
		{"optional failure", map[string]Check{
			"corpus": up,
			"redis":  Ping(func(context.Context) error { return errors.New("refused") }, true),
		}, StatusDegraded},
		{"required failure", map[string]Check{
			"corpus":   up,
			"redis":    Ping(func(context.Context) error { return errors.New("refused") }, true),
			"postgres": Ping(func(context.Context) error { return errors.New("refused") }, false),
		}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			report := c.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Components, len(tt.checks))
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("redis", Ping(func(context.Context) error { return errors.New("refused") }, true))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "refused", report.Components["redis"].Message)

	c.Register("corpus", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDown, Message: "no records"}
	})
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}
