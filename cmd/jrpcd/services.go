package main

import (
	"time"

	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/scheduler"
	"github.com/legamerdc/jrpc/service"
)

// 控制通道可按 id 调用的过程
const procLogStats uint64 = 1

type statsSource interface {
	Stats() scheduler.Stats
}

// registerBuiltins 注册内置方法。stats 在 reactor 线程中读取计数，不需要加锁。
func registerBuiltins(reg *service.Registry, src func() statsSource, now func() time.Time) error {
	builtins := []struct {
		name string
		h    service.Handler
	}{
		{"echo", func(params any) (any, error) {
			if params == nil {
				return map[string]any{}, nil
			}
			return params, nil
		}},
		{"ping", func(any) (any, error) { return map[string]any{"pong": true}, nil }},
		{"time", func(any) (any, error) { return map[string]any{"unix_ms": now().UnixMilli()}, nil }},
		{"stats", func(any) (any, error) {
			s := src()
			if s == nil {
				return nil, nil
			}
			return s.Stats(), nil
		}},
	}
	for _, b := range builtins {
		if err := reg.Register(b.name, b.h); err != nil {
			return err
		}
	}
	return nil
}

func logStats(log logx.Logger, st scheduler.Stats) {
	log.Info("scheduler stats",
		logx.Int("handlers", st.Handlers),
		logx.Int("tasks", st.Tasks),
		logx.Int("width", st.Width),
		logx.Uint64("steps", st.Steps),
		logx.Uint64("fired", st.Fired),
		logx.Uint64("handled", st.Handled),
		logx.Uint64("commands", st.Commands))
}
