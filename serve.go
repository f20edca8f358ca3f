//go:build linux || darwin

package jrpc

import (
	"context"

	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/server"
	"github.com/legamerdc/jrpc/service"
)

// Open 按配置创建服务（尚未开始处理事件）
func Open(cfg Config, reg *service.Registry, log logx.Logger) (*server.Server, error) {
	sc, err := cfg.ServerConfig()
	if err != nil {
		return nil, err
	}
	reg.SetLogger(log)
	return server.Open(sc, reg, log)
}

// ListenAndServe 启动服务并阻塞直到 ctx 结束；返回前释放所有会话与 socket
func ListenAndServe(ctx context.Context, cfg Config, reg *service.Registry, log logx.Logger) error {
	s, err := Open(cfg, reg, log)
	if err != nil {
		return err
	}
	err = s.Start(ctx)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}
