// Package scheduler 实现单线程事件 reactor：socket 读就绪分发 + 有序延时任务队列。
//
// 每次 SingleStep 最多调用一个就绪 handler（从上次处理的 fd 之后继续轮询），
// 然后执行远程命令，最后处理所有已到期的延时任务。
// 除 *Remote 系列方法与 Wake 外，所有方法只能在 reactor 线程调用。
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/poller"
)

// DefaultIPCPort 控制通道默认 UDP 端口
const DefaultIPCPort = 7777

// Param 为 scheduler 参数
type Param struct {
	EnableIPC  bool          // 开启 trampoline：进程内命令队列 + 回环 UDP 控制通道
	IPCPort    uint16        // 控制通道端口（主机字节序），0 表示由内核分配
	Poller     poller.Poller // 为 nil 时按 PollerKind 创建
	PollerKind string
	Clock      Clock            // 为 nil 时使用单调时钟
	Now        func() time.Time // cron 任务使用的墙上时钟，默认 time.Now
	Logger     logx.Logger
}

// Stats 为 scheduler 的运行计数
type Stats struct {
	Handlers int    `json:"handlers"`
	Tasks    int    `json:"tasks"`
	Width    int    `json:"width"`
	Steps    uint64 `json:"steps"`
	Fired    uint64 `json:"fired"`
	Handled  uint64 `json:"handled"`
	Commands uint64 `json:"commands"`
}

// Scheduler 由创建者独占
type Scheduler struct {
	handlers    *handlerRegistry
	delayQ      delayQueue
	lastHandled int

	poller poller.Poller
	clock  Clock
	now    func() time.Time
	log    logx.Logger

	ready     []int
	readyMark map[int]struct{}
	faultLog  rate.Sometimes

	enableIPC   bool
	ipcFD       int
	ipcPort     int
	cmds        commandQueue
	remoteProcs map[uint64]Proc

	stats  Stats
	closed bool
}

// Open 创建 scheduler；开启 IPC 时绑定回环 UDP 端口并注册为读 handler
func Open(p Param) (*Scheduler, error) {
	s := &Scheduler{
		handlers:    newHandlerRegistry(),
		lastHandled: -1,
		poller:      p.Poller,
		clock:       p.Clock,
		now:         p.Now,
		log:         p.Logger.With(logx.String("component", "scheduler")),
		ready:       make([]int, 128),
		readyMark:   make(map[int]struct{}),
		faultLog:    rate.Sometimes{Interval: time.Second},
		ipcFD:       -1,
		remoteProcs: make(map[uint64]Proc),
	}
	if s.clock == nil {
		s.clock = newMonotonicClock()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.poller == nil {
		pl, err := poller.Open(p.PollerKind)
		if err != nil {
			return nil, errors.Wrapf(ErrSocket, "open poller: %v", err)
		}
		s.poller = pl
	}
	s.cmds.init()
	if p.EnableIPC {
		s.enableIPC = true
		if err := s.addIPCHandler(p.IPCPort); err != nil {
			s.poller.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close 注销所有 handler、取消所有延时任务（依次调用各自的 cleanup），然后释放 poller。
// 调用方在 Close 之后不得再使用 scheduler。
func (s *Scheduler) Close() error {
	if s.closed {
		return ErrClosed
	}
	for s.handlers.Len() > 0 {
		_ = s.UnhandleRead(s.handlers.list[0].fd)
	}
	for _, t := range s.delayQ.tasks() {
		_, _ = s.UndelayTask(t.handle)
	}
	s.closed = true
	s.cmds.close(func(c command) {
		// 尚未执行的 DELAY 命令从未成为任务，只需要释放资源
		if c.kind == CmdDelay && c.cleanup != nil {
			c.cleanup()
		}
	})
	return s.poller.Close()
}

// HandleRead 注册或更新 fd 的读 handler；已注册的 fd 原地替换回调，不改变轮询顺序
func (s *Scheduler) HandleRead(fd int, proc, cleanup Proc) error {
	if s.closed {
		return ErrClosed
	}
	if fd < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative fd %d", fd)
	}
	d := s.handlers.lookup(fd)
	if d == nil {
		if err := s.poller.Add(fd); err != nil {
			return errors.Wrapf(ErrSocket, "poller add fd=%d: %v", fd, err)
		}
		d = &descriptor{fd: fd}
		s.handlers.add(d)
		// 就绪数组必须能容纳所有 handler，否则高位 fd 永远轮不到
		if n := s.handlers.Len(); n > len(s.ready) {
			s.ready = make([]int, 2*n)
		}
	}
	d.proc = proc
	d.cleanup = cleanup
	return nil
}

// UnhandleRead 删除 fd 的 handler 并调用其 cleanup
func (s *Scheduler) UnhandleRead(fd int) error {
	d := s.handlers.remove(fd)
	if d == nil {
		return errors.Wrapf(ErrDescriptorNotFound, "fd=%d", fd)
	}
	if err := s.poller.Remove(fd); err != nil {
		s.log.Debug("poller remove failed", logx.Int("fd", fd), logx.Err(err))
	}
	if d.cleanup != nil {
		d.cleanup()
	}
	return nil
}

// DelayTask 在 msec 毫秒后执行 proc。Periodic 模式下每次触发后 deadline 前进 msec。
// msec 不能超过 TickMax/2，周期任务的 msec 不能为 0。
func (s *Scheduler) DelayTask(msec uint32, mode Mode, proc, cleanup Proc) (Handle, error) {
	if s.closed {
		return Handle{}, ErrClosed
	}
	if msec > halfTick {
		return Handle{}, errors.Wrapf(ErrInvalidArgument, "delay %dms exceeds %dms", msec, halfTick)
	}
	switch mode {
	case Oneshot:
	case Periodic:
		if msec == 0 {
			return Handle{}, errors.Wrap(ErrInvalidArgument, "periodic task with zero period")
		}
	default:
		return Handle{}, errors.Wrapf(ErrInvalidArgument, "unknown %s", mode)
	}
	t := &task{
		proc:     proc,
		cleanup:  cleanup,
		deadline: s.clock.Tick() + msec,
		period:   msec,
		mode:     mode,
	}
	h := s.delayQ.alloc(t)
	s.delayQ.insert(t)
	return h, nil
}

// UndelayTask 取消任务并调用其 cleanup，返回剩余毫秒数（已过期为 0）
func (s *Scheduler) UndelayTask(h Handle) (uint32, error) {
	t := s.delayQ.lookup(h)
	if t == nil {
		return 0, errors.Wrapf(ErrTaskNotFound, "handle %s", h)
	}
	remaining := tickRemaining(s.clock.Tick(), t.deadline)
	s.delayQ.remove(t)
	s.delayQ.release(h)
	t.cancelled = true
	if t.cleanup != nil {
		t.cleanup()
	}
	return remaining, nil
}

// SingleStep 执行一轮 reactor：等待就绪、最多调用一个 handler、执行远程命令、处理到期任务。
// 就绪等待失败时返回 ErrPoll，由调用方决定是否继续。
func (s *Scheduler) SingleStep(defaultMsec uint32) error {
	if s.closed {
		return ErrClosed
	}
	if defaultMsec > maxIdleMsec {
		defaultMsec = maxIdleMsec
		s.log.Debug("idle timeout clamped", logx.Uint32("msec", maxIdleMsec))
	}
	s.stats.Steps++

	timeout := defaultMsec
	if t := s.delayQ.head(); t != nil {
		timeout = tickRemaining(s.clock.Tick(), t.deadline)
	}
	if s.cmds.pending() {
		timeout = 0
	}

	n, err := s.poller.Wait(s.handlers.width, int(timeout), s.ready)
	if err != nil {
		s.log.Error("poll failed", logx.Err(err))
		return errors.Wrapf(ErrPoll, "%v", err)
	}

	clear(s.readyMark)
	for _, fd := range s.ready[:n] {
		s.readyMark[fd] = struct{}{}
	}
	if !s.dispatchOne() {
		s.lastHandled = -1
		if n > 0 {
			s.faultLog.Do(func() {
				s.log.Warn("ready sockets without handler", logx.Int("ready", n))
			})
		}
	}

	// 到期任务在 handler 之后处理，保证任务回调能看到 handler 对 socket 集合的修改
	s.drainCommands()
	s.handleTimeout()
	return nil
}

// dispatchOne 从 lastHandled 之后开始寻找一个就绪 handler 并调用；必要时回绕到开头
func (s *Scheduler) dispatchOne() bool {
	if len(s.readyMark) == 0 {
		return false
	}
	start := 0
	if s.lastHandled >= 0 {
		if i := s.handlers.index(s.lastHandled); i >= 0 {
			start = i + 1
		} else {
			s.lastHandled = -1
		}
	}
	if s.tryRange(start, s.handlers.Len()) {
		return true
	}
	return start > 0 && s.tryRange(0, start)
}

func (s *Scheduler) tryRange(from, to int) bool {
	for i := from; i < to && i < s.handlers.Len(); i++ {
		d := s.handlers.list[i]
		if _, ok := s.readyMark[d.fd]; !ok || d.proc == nil {
			continue
		}
		// 先更新游标再调用：handler 可能修改注册表（包括删除自己）
		s.lastHandled = d.fd
		s.stats.Handled++
		d.proc()
		return true
	}
	return false
}

// handleTimeout 处理所有到期任务。每个周期任务在一轮中最多触发一次。
func (s *Scheduler) handleTimeout() {
	var rearm []*task
	for {
		t := s.delayQ.head()
		if t == nil || !tickDue(s.clock.Tick(), t.deadline) {
			break
		}
		// 先出队，回调中可能访问队列
		s.delayQ.remove(t)
		s.stats.Fired++
		if t.mode == Oneshot {
			s.delayQ.release(t.handle)
			if t.proc != nil {
				t.proc()
			}
			if t.cleanup != nil {
				t.cleanup()
			}
			continue
		}
		if t.proc != nil {
			t.proc()
		}
		if !t.cancelled {
			t.deadline += t.period
			rearm = append(rearm, t)
		}
	}
	for _, t := range rearm {
		if !t.cancelled {
			s.delayQ.insert(t)
		}
	}
}

// Run 以 idle 为默认空闲超时循环执行 SingleStep，直到 ctx 结束或单步失败
func (s *Scheduler) Run(ctx context.Context, idle time.Duration) error {
	stop := context.AfterFunc(ctx, func() { _ = s.poller.Wake() })
	defer stop()
	msec := uint32(idle / time.Millisecond)
	for ctx.Err() == nil {
		if err := s.SingleStep(msec); err != nil {
			return err
		}
	}
	return nil
}

// Wake 打断阻塞中的 SingleStep，可在任意 goroutine 调用
func (s *Scheduler) Wake() error { return s.poller.Wake() }

// Width 返回当前多路复用宽度
func (s *Scheduler) Width() int { return s.handlers.width }

// Stats 返回运行计数快照
func (s *Scheduler) Stats() Stats {
	st := s.stats
	st.Handlers = s.handlers.Len()
	st.Tasks = s.delayQ.Len()
	st.Width = s.handlers.width
	return st
}

// Remaining 返回任务剩余毫秒数，不修改队列
func (s *Scheduler) Remaining(h Handle) (uint32, error) {
	t := s.delayQ.lookup(h)
	if t == nil {
		return 0, errors.Wrapf(ErrTaskNotFound, "handle %s", h)
	}
	return tickRemaining(s.clock.Tick(), t.deadline), nil
}
