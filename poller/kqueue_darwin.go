//go:build darwin

package poller

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kq     int
	wfd    int // 写端，用于唤醒
	rfd    int // 读端，注册到 kqueue
	events []unix.Kevent_t
	closed atomic.Bool
}

// New 创建 kqueue poller
func New() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	// 使用管道作为唤醒
	rfd, wfd, err := wakePipe()
	if err != nil {
		unix.Close(kq)
		return nil, err
	}
	kev := unix.Kevent_t{
		Ident:  uint64(rfd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err = unix.Kevent(kq, []unix.Kevent_t{kev}, nil, nil); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(kq)
		return nil, err
	}
	return &kqueuePoller{kq: kq, wfd: wfd, rfd: rfd, events: make([]unix.Kevent_t, 256)}, nil
}

func (p *kqueuePoller) Add(fd FD) error {
	if p.closed.Load() {
		return ErrClosed
	}
	// 不带 EV_CLEAR，保持水平触发
	kev := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (p *kqueuePoller) Remove(fd FD) error {
	if p.closed.Load() {
		return ErrClosed
	}
	kev := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (p *kqueuePoller) Wait(width int, timeoutMs int, ready []FD) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	limit := len(ready) + 1
	if limit > len(p.events) {
		limit = len(p.events)
	}
	n, err := unix.Kevent(p.kq, nil, p.events[:limit], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	cnt := 0
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Ident)
		if fd == p.rfd {
			drainPipe(p.rfd)
			continue
		}
		// EV_EOF 同样视为可读，由 handler 的 read 得到 0
		if cnt < len(ready) {
			ready[cnt] = fd
			cnt++
		}
	}
	return cnt, nil
}

func (p *kqueuePoller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	return wakeWrite(p.wfd)
}

func (p *kqueuePoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(p.rfd)
	unix.Close(p.wfd)
	return unix.Close(p.kq)
}
