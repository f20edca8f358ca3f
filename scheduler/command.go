package scheduler

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/pkg/errors"

	"github.com/legamerdc/jrpc/logx"
)

// Command 为 trampoline 命令类型，取值与控制报文一致
type Command uint32

const (
	CmdDelay        Command = 1
	CmdUndelay      Command = 2
	CmdHandleRead   Command = 3
	CmdUnhandleRead Command = 4
)

func (c Command) String() string {
	switch c {
	case CmdDelay:
		return "delay"
	case CmdUndelay:
		return "undelay"
	case CmdHandleRead:
		return "handle_read"
	case CmdUnhandleRead:
		return "unhandle_read"
	}
	return "unknown"
}

// command 为一次待在 reactor 线程执行的 scheduler 修改
type command struct {
	kind    Command
	msec    uint32
	mode    Mode
	fd      int
	handle  Handle
	proc    Proc
	cleanup Proc
	done    func(Handle, error)
}

// commandQueue 进程内命令队列：任意 goroutine 入队，reactor 每轮取出一次
type commandQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
}

func (cq *commandQueue) init() { cq.q = queue.New() }

func (cq *commandQueue) push(c command) error {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.closed {
		return ErrClosed
	}
	cq.q.Add(c)
	return nil
}

func (cq *commandQueue) pending() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.q.Length() > 0
}

// take 取出当前所有命令；执行期间新入队的命令留到下一轮
func (cq *commandQueue) take() []command {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	n := cq.q.Length()
	if n == 0 {
		return nil
	}
	out := make([]command, 0, n)
	for cq.q.Length() > 0 {
		out = append(out, cq.q.Remove().(command))
	}
	return out
}

func (cq *commandQueue) close(fn func(command)) {
	cq.mu.Lock()
	cq.closed = true
	var rest []command
	for cq.q.Length() > 0 {
		rest = append(rest, cq.q.Remove().(command))
	}
	cq.mu.Unlock()
	for _, c := range rest {
		fn(c)
	}
}

func (s *Scheduler) post(c command) error {
	if !s.enableIPC {
		return ErrTrampolineDisabled
	}
	if err := s.cmds.push(c); err != nil {
		return err
	}
	return s.poller.Wake()
}

// DelayTaskRemote 把 DelayTask 交给 reactor 线程执行，可在任意 goroutine 调用。
// done 不为 nil 时在 reactor 线程回调任务句柄或错误。
func (s *Scheduler) DelayTaskRemote(msec uint32, mode Mode, proc, cleanup Proc, done func(Handle, error)) error {
	return s.post(command{kind: CmdDelay, msec: msec, mode: mode, proc: proc, cleanup: cleanup, done: done})
}

// UndelayTaskRemote 把 UndelayTask 交给 reactor 线程执行
func (s *Scheduler) UndelayTaskRemote(h Handle) error {
	return s.post(command{kind: CmdUndelay, handle: h})
}

// HandleReadRemote 把 HandleRead 交给 reactor 线程执行
func (s *Scheduler) HandleReadRemote(fd int, proc, cleanup Proc) error {
	if fd < 0 {
		return errors.Wrapf(ErrInvalidArgument, "negative fd %d", fd)
	}
	return s.post(command{kind: CmdHandleRead, fd: fd, proc: proc, cleanup: cleanup})
}

// UnhandleReadRemote 把 UnhandleRead 交给 reactor 线程执行
func (s *Scheduler) UnhandleReadRemote(fd int) error {
	return s.post(command{kind: CmdUnhandleRead, fd: fd})
}

func (s *Scheduler) drainCommands() {
	if !s.enableIPC {
		return
	}
	for _, c := range s.cmds.take() {
		s.exec(c)
	}
}

// exec 在 reactor 线程执行一条命令；结果通过 done 回调，失败同时记录日志
func (s *Scheduler) exec(c command) {
	s.stats.Commands++
	var (
		h   Handle
		err error
	)
	switch c.kind {
	case CmdDelay:
		h, err = s.DelayTask(c.msec, c.mode, c.proc, c.cleanup)
		if err != nil && c.cleanup != nil {
			c.cleanup()
		}
	case CmdUndelay:
		_, err = s.UndelayTask(c.handle)
	case CmdHandleRead:
		err = s.HandleRead(c.fd, c.proc, c.cleanup)
	case CmdUnhandleRead:
		err = s.UnhandleRead(c.fd)
	default:
		err = errors.Errorf("scheduler: unknown command %d", uint32(c.kind))
	}
	if err != nil {
		s.log.Debug("remote command failed", logx.String("cmd", c.kind.String()), logx.Err(err))
	}
	if c.done != nil {
		c.done(h, err)
	}
}
