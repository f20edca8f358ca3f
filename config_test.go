package jrpc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConfigYAML(t *testing.T) {
	cfg, err := ParseConfig("jrpc.yaml", []byte(`
listen: "127.0.0.1:7000"
max_sessions: 16
idle_timeout: 50ms
compression: true
control:
  enabled: false
log:
  level: debug
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:7000", cfg.Listen)
	require.Equal(t, 16, cfg.MaxSessions)
	require.True(t, cfg.Compression)
	require.False(t, cfg.Control.Enabled)
	require.EqualValues(t, 7777, cfg.Control.Port)
	require.Equal(t, "debug", cfg.Log.Level)
	// 未出现的字段保持默认值
	require.Equal(t, 10, cfg.Backlog)
	require.Equal(t, 1024, cfg.BufferSize)

	sc, err := cfg.ServerConfig()
	require.NoError(t, err)
	require.Equal(t, 50*time.Millisecond, sc.IdleTimeout)
	require.Equal(t, "127.0.0.1:7000", sc.Address)
}

func TestParseConfigJSON(t *testing.T) {
	cfg, err := ParseConfig("jrpc.json", []byte(`{"listen":":6001","control":{"enabled":true,"port":7001}}`))
	require.NoError(t, err)
	require.Equal(t, ":6001", cfg.Listen)
	require.EqualValues(t, 7001, cfg.Control.Port)
	require.Equal(t, "200ms", cfg.IdleTimeout)
}

func TestParseConfigEmptyYAML(t *testing.T) {
	cfg, err := ParseConfig("jrpc.yml", nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"jrpc.json": `{"listen":":6000","unknown":1}`,
		"a.json":    `{"listen":":6000"} {}`,
		"b.yaml":    "idle_timeout: soon\n",
		"c.yaml":    "poller: io_uring\n",
		"d.yaml":    "buffer_size: 1\n",
		"e.yaml":    "listen: [\n",
	}
	for name, body := range cases {
		_, err := ParseConfig(name, []byte(body))
		require.ErrorIs(t, err, ErrInvalidConfig, name)
	}
}

func TestWatchConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, path, func(cfg Config, err error) {
			if err == nil {
				got <- cfg
			}
		})
	}()

	// 等待 watcher 就绪后再修改
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644)
		select {
		case cfg := <-got:
			return cfg.Log.Level == "debug"
		case <-time.After(300 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchConfig did not return")
	}
}
