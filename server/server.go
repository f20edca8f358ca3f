//go:build linux || darwin

// Package server 在单个 reactor 上运行长度前缀 JSON-RPC 服务。
// 监听 socket 与每个会话都是 scheduler 的读 handler；除 Start 所在 goroutine 外，
// 只有 NumSessions 与 Addr 可以并发调用。
package server

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/legamerdc/jrpc/internal/netutil"
	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/scheduler"
	"github.com/legamerdc/jrpc/service"
)

type Server struct {
	cfg   Config
	reg   *service.Registry
	log   logx.Logger
	lfd   int
	addr  *net.TCPAddr
	sched *scheduler.Scheduler

	sessions []*Session // 按接受顺序
	count    atomic.Int32
	nextID   uint64

	limiter *rate.Limiter
	granted bool
	paused  bool
	closed  bool
}

// Open 绑定监听端口、创建 scheduler 并注册监听 handler；不会开始处理事件
func Open(cfg Config, reg *service.Registry, log logx.Logger) (*Server, error) {
	if reg == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil service registry")
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg: cfg,
		reg: reg,
		log: log.With(logx.String("component", "server")),
		lfd: -1,
	}
	if cfg.AcceptRate > 0 {
		burst := int(cfg.AcceptRate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}

	lfd, err := netutil.ListenTCP(cfg.Address, cfg.Backlog)
	if err != nil {
		return nil, err
	}
	s.lfd = lfd
	if s.addr, err = netutil.LocalAddr(lfd); err != nil {
		netutil.Close(lfd)
		return nil, errors.Wrap(err, "server: local addr")
	}

	s.sched, err = scheduler.Open(scheduler.Param{
		EnableIPC:  cfg.Control.Enabled,
		IPCPort:    cfg.Control.Port,
		PollerKind: cfg.Poller,
		Logger:     log,
	})
	if err != nil {
		netutil.Close(lfd)
		return nil, err
	}
	if err := s.sched.HandleRead(lfd, s.onAccept, nil); err != nil {
		s.sched.Close()
		netutil.Close(lfd)
		return nil, err
	}
	s.log.Info("server listening",
		logx.String("addr", s.addr.String()),
		logx.Int("control_port", s.sched.ControlPort()),
		logx.Int("max_sessions", cfg.MaxSessions))
	return s, nil
}

// Start 运行 reactor 直到 ctx 结束或单步失败
func (s *Server) Start(ctx context.Context) error {
	if s.closed {
		return scheduler.ErrClosed
	}
	err := s.sched.Run(ctx, s.cfg.IdleTimeout)
	if err != nil {
		s.log.Error("reactor stopped", logx.Err(err))
	}
	return err
}

// Close 关闭所有会话、scheduler 和监听 socket。必须在 Start 返回后调用。
func (s *Server) Close() error {
	if s.closed {
		return scheduler.ErrClosed
	}
	for len(s.sessions) > 0 {
		s.sessions[0].Close()
	}
	s.closed = true
	err := s.sched.Close()
	netutil.Close(s.lfd)
	s.log.Info("server closed")
	return err
}

func (s *Server) Addr() *net.TCPAddr { return s.addr }

func (s *Server) Config() Config { return s.cfg }

func (s *Server) Scheduler() *scheduler.Scheduler { return s.sched }

func (s *Server) Registry() *service.Registry { return s.reg }

// NumSessions 当前会话数，可并发调用
func (s *Server) NumSessions() int { return int(s.count.Load()) }

// FindSession 按 id 查找会话
func (s *Server) FindSession(id uint64) *Session {
	for _, sess := range s.sessions {
		if sess.id == id {
			return sess
		}
	}
	return nil
}

// onAccept 每次只接受一个连接
func (s *Server) onAccept() {
	if s.limiter != nil {
		if s.granted {
			s.granted = false
		} else if d := s.limiter.Reserve().Delay(); d > 0 {
			// 令牌已预留，恢复后直接接受
			s.granted = true
			s.pauseAccept(d)
			return
		}
	}
	fd, err := netutil.Accept(s.lfd)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EINTR && err != unix.ECONNABORTED {
			s.log.Warn("accept failed", logx.Err(err))
		}
		return
	}
	if len(s.sessions) >= s.cfg.MaxSessions {
		s.log.Warn("too many sessions, connection dropped", logx.Int("sessions", len(s.sessions)))
		netutil.Close(fd)
		return
	}
	if _, err := s.openSession(fd); err != nil {
		s.log.Warn("open session failed", logx.Err(err))
		netutil.Close(fd)
	}
}

// pauseAccept 暂停监听 handler，d 之后恢复，期间新连接留在 backlog 中
func (s *Server) pauseAccept(d time.Duration) {
	if s.paused {
		return
	}
	if err := s.sched.UnhandleRead(s.lfd); err != nil {
		return
	}
	s.paused = true
	msec := uint32((d + time.Millisecond - 1) / time.Millisecond)
	_, err := s.sched.DelayTask(msec, scheduler.Oneshot, s.resumeAccept, nil)
	if err != nil {
		s.resumeAccept()
		return
	}
	s.log.Debug("accept paused", logx.Duration("delay", d))
}

func (s *Server) resumeAccept() {
	if !s.paused || s.closed {
		return
	}
	s.paused = false
	if err := s.sched.HandleRead(s.lfd, s.onAccept, nil); err != nil {
		s.log.Error("resume accept failed", logx.Err(err))
	}
}

func (s *Server) openSession(fd int) (*Session, error) {
	s.nextID++
	sess := newSession(s, s.nextID, fd)
	if err := s.sched.HandleRead(fd, sess.onReadable, nil); err != nil {
		return nil, err
	}
	_ = netutil.SetNoDelay(fd, true)
	s.sessions = append(s.sessions, sess)
	s.count.Add(1)
	s.log.Debug("session opened", logx.Uint64("sid", sess.id), logx.Int("fd", fd))
	return sess, nil
}

func (s *Server) removeSession(sess *Session) {
	for i, x := range s.sessions {
		if x == sess {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			s.count.Add(-1)
			return
		}
	}
}
