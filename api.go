// Package jrpc 是单线程 reactor 驱动的长度前缀 JSON-RPC 服务的入口：
// 配置文件加载/热加载，以及按配置启动服务。
package jrpc

import (
	"time"

	"github.com/pkg/errors"

	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/poller"
	"github.com/legamerdc/jrpc/protocol"
	"github.com/legamerdc/jrpc/scheduler"
	"github.com/legamerdc/jrpc/server"
)

// Config 为配置文件格式（json / yaml）
type Config struct {
	Listen      string        `json:"listen"`
	Backlog     int           `json:"backlog"`
	MaxSessions int           `json:"max_sessions"`
	IdleTimeout string        `json:"idle_timeout"` // Go duration，如 "200ms"
	BufferSize  int           `json:"buffer_size"`
	Poller      string        `json:"poller"`
	Compression bool          `json:"compression"`
	AcceptRate  float64       `json:"accept_rate"`
	Control     ControlConfig `json:"control"`
	Log         LogConfig     `json:"log"`
	StatsCron   string        `json:"stats_cron"` // 为空不启用
}

type ControlConfig struct {
	Enabled bool   `json:"enabled"`
	Port    uint16 `json:"port"`
}

type LogConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

// DefaultConfig 返回一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		Listen:      ":6000",
		Backlog:     server.DefaultBacklog,
		MaxSessions: server.DefaultMaxSessions,
		IdleTimeout: server.DefaultIdleTimeout.String(),
		BufferSize:  protocol.DefaultBufferSize,
		Control:     ControlConfig{Enabled: true, Port: scheduler.DefaultIPCPort},
		Log:         LogConfig{Level: "info", Console: true},
	}
}

// Validate 检查取值范围
func (c Config) Validate() error {
	_, err := c.ServerConfig()
	return err
}

// ServerConfig 转换为 server.Config
func (c Config) ServerConfig() (server.Config, error) {
	idle, err := time.ParseDuration(c.IdleTimeout)
	if err != nil {
		return server.Config{}, errors.Wrapf(ErrInvalidConfig, "idle_timeout %q", c.IdleTimeout)
	}
	switch c.Poller {
	case poller.KindNative, poller.KindEpoll, poller.KindKqueue, poller.KindSelect:
	default:
		return server.Config{}, errors.Wrapf(ErrInvalidConfig, "poller %q", c.Poller)
	}
	if c.Backlog < 0 || c.MaxSessions < 0 || c.AcceptRate < 0 {
		return server.Config{}, errors.Wrap(ErrInvalidConfig, "negative limit")
	}
	if c.BufferSize != 0 && (c.BufferSize <= protocol.HeaderLen || c.BufferSize > protocol.MaxFrame+1) {
		return server.Config{}, errors.Wrapf(ErrInvalidConfig, "buffer_size %d", c.BufferSize)
	}
	return server.Config{
		Address:     c.Listen,
		Backlog:     c.Backlog,
		MaxSessions: c.MaxSessions,
		IdleTimeout: idle,
		BufferSize:  c.BufferSize,
		Poller:      c.Poller,
		Compression: c.Compression,
		AcceptRate:  c.AcceptRate,
		Control:     server.ControlConfig{Enabled: c.Control.Enabled, Port: c.Control.Port},
	}, nil
}

// Logger 按 log 段创建 logger
func (c Config) Logger() logx.Logger {
	return logx.New(logx.Config{Level: c.Log.Level, Console: c.Log.Console})
}
