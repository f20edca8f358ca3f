//go:build linux || darwin

package jrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legamerdc/jrpc/client"
	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/service"
)

func TestOpenAndServe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.Control.Port = 0
	cfg.IdleTimeout = "10ms"

	reg := service.NewRegistry()
	require.NoError(t, reg.Register("ping", func(any) (any, error) { return map[string]any{"pong": true}, nil }))

	s, err := Open(cfg, reg, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	c, err := client.Dial(ctx, s.Addr().String(), client.WithTimeout(3*time.Second))
	require.NoError(t, err)
	res, err := c.Call(ctx, "ping", nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"pong": true}, res)
	require.NoError(t, c.Close())

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, s.Close())
}

func TestListenAndServeBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = "x"
	err := ListenAndServe(context.Background(), cfg, service.NewRegistry(), logx.Nop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestListenAndServeStops(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.Control.Enabled = false

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, ListenAndServe(ctx, cfg, service.NewRegistry(), logx.Nop()))
}
