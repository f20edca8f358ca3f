package server

import (
	"time"

	"github.com/pkg/errors"

	"github.com/legamerdc/jrpc/protocol"
	"github.com/legamerdc/jrpc/scheduler"
)

var ErrInvalidConfig = errors.New("server: invalid config")

// ControlConfig 回环 UDP 控制通道
type ControlConfig struct {
	Enabled bool
	Port    uint16 // 0 表示由内核分配
}

type Config struct {
	Address     string        // 监听地址，如 ":6000"
	Backlog     int           // listen backlog
	MaxSessions int           // 超过后新连接被接受并立即关闭
	IdleTimeout time.Duration // 无事件时 reactor 单步的最长等待
	BufferSize  int           // 会话接收缓冲区容量，声明长度 >= 它的请求被拒绝
	Poller      string        // "" / epoll / kqueue / select
	Compression bool          // 接受 zstd 压缩的请求 body
	AcceptRate  float64       // 每秒接受连接数，0 为不限
	Control     ControlConfig
}

const (
	DefaultPort        = 6000
	DefaultBacklog     = 10
	DefaultMaxSessions = 4
	DefaultIdleTimeout = 200 * time.Millisecond
)

func DefaultConfig() Config {
	return Config{
		Address:     ":6000",
		Backlog:     DefaultBacklog,
		MaxSessions: DefaultMaxSessions,
		IdleTimeout: DefaultIdleTimeout,
		BufferSize:  protocol.DefaultBufferSize,
		Control:     ControlConfig{Enabled: true, Port: scheduler.DefaultIPCPort},
	}
}

// normalize 补齐零值字段并校验
func (c *Config) normalize() error {
	if c.Address == "" {
		c.Address = ":6000"
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = protocol.DefaultBufferSize
	}
	if c.BufferSize <= protocol.HeaderLen || c.BufferSize > protocol.MaxFrame+1 {
		return errors.Wrapf(ErrInvalidConfig, "buffer size %d", c.BufferSize)
	}
	if c.AcceptRate < 0 {
		return errors.Wrapf(ErrInvalidConfig, "accept rate %v", c.AcceptRate)
	}
	return nil
}
