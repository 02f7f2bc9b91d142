package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bfsujason/llm-corpus-annotation/pkg/config"
	"github.com/bfsujason/llm-corpus-annotation/pkg/postgres"
)

func TestRunReturnsPostgresError(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Postgres.Host = "127.0.0.1"
	cfg.Postgres.Port = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = run(ctx, cfg, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to postgres")
}

// A listen failure must come back as an error so run's deferred closes
// still execute.
func TestRunReturnsListenError(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	db, err := postgres.New(context.Background(), cfg.Postgres)
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	db.Close()

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = run(ctx, cfg, port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serving on")
}
