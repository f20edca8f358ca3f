package scheduler

import "time"

// TickMax 为毫秒 tick 的最大值，tick 在 2^32 处回绕
const TickMax uint32 = 0xffffffff

// halfTick 以“当前时刻”为中心把 tick 空间划分为过去/未来各 2^31 毫秒；
// 延时任务的延时不能超过它，否则回绕比较会产生歧义
const halfTick = TickMax / 2

// maxIdleMsec 默认空闲等待上限（约 11.5 天）
const maxIdleMsec uint32 = 1000000000

// Clock 单调毫秒计数器，允许在 2^32 处回绕
type Clock interface {
	Tick() uint32
}

type monotonicClock struct {
	start time.Time
	base  uint32
}

func newMonotonicClock() *monotonicClock {
	now := time.Now()
	return &monotonicClock{start: now, base: uint32(now.UnixMilli())}
}

func (c *monotonicClock) Tick() uint32 {
	return c.base + uint32(time.Since(c.start).Milliseconds())
}

// tickDue 判断 deadline 是否已到（含回绕）
func tickDue(now, deadline uint32) bool {
	return now-deadline < halfTick
}

// tickAfter 判断 a 是否严格晚于 b（含回绕）
func tickAfter(a, b uint32) bool {
	return a != b && a-b < halfTick
}

// tickRemaining 返回距 deadline 的剩余毫秒，已过期返回 0
func tickRemaining(now, deadline uint32) uint32 {
	if tickDue(now, deadline) {
		return 0
	}
	return deadline - now
}
