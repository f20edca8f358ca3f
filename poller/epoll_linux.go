//go:build linux

package poller

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	efd    int
	wfd    int // eventfd，用于唤醒
	events []unix.EpollEvent
	closed atomic.Bool
}

// New 创建 epoll poller
func New() (Poller, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(efd)
		return nil, err
	}
	p := &epollPoller{efd: efd, wfd: wfd, events: make([]unix.EpollEvent, 256)}
	// 注册 wakeup fd
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(wfd)
		unix.Close(efd)
		return nil, err
	}
	return p, nil
}

func (p *epollPoller) Add(fd FD) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_ADD, fd, ev)
}

func (p *epollPoller) Remove(fd FD) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return unix.EpollCtl(p.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(width int, timeoutMs int, ready []FD) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	// 多留一个位置给 wakeup fd
	limit := len(ready) + 1
	if limit > len(p.events) {
		limit = len(p.events)
	}
	n, err := unix.EpollWait(p.efd, p.events[:limit], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	cnt := 0
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wfd {
			p.drainWake()
			continue
		}
		if cnt < len(ready) {
			// EPOLLERR/EPOLLHUP 同样视为可读，由 handler 在 read 时拿到错误/EOF
			ready[cnt] = fd
			cnt++
		}
	}
	return cnt, nil
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wfd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wfd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *epollPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(p.wfd)
	return unix.Close(p.efd)
}
