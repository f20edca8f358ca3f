//go:build linux || darwin

package poller

import (
	"sort"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// fdSetSize 为 select(2) 能表示的最大 fd
const fdSetSize = 1024

// selectPoller 基于 select(2)，需要调用方提供多路复用宽度
type selectPoller struct {
	fds    map[int]struct{}
	order  []int
	dirty  bool
	rfd    int
	wfd    int
	closed atomic.Bool
}

// NewSelect 创建 select poller
func NewSelect() (Poller, error) {
	rfd, wfd, err := wakePipe()
	if err != nil {
		return nil, err
	}
	if rfd >= fdSetSize {
		unix.Close(rfd)
		unix.Close(wfd)
		return nil, ErrFDOutOfRange
	}
	return &selectPoller{fds: make(map[int]struct{}), rfd: rfd, wfd: wfd}, nil
}

func (p *selectPoller) Add(fd FD) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if fd < 0 || fd >= fdSetSize {
		return ErrFDOutOfRange
	}
	p.fds[fd] = struct{}{}
	p.dirty = true
	return nil
}

func (p *selectPoller) Remove(fd FD) error {
	if p.closed.Load() {
		return ErrClosed
	}
	delete(p.fds, fd)
	p.dirty = true
	return nil
}

func (p *selectPoller) Wait(width int, timeoutMs int, ready []FD) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if p.dirty {
		p.order = p.order[:0]
		for fd := range p.fds {
			p.order = append(p.order, fd)
		}
		sort.Ints(p.order)
		p.dirty = false
	}
	var rset unix.FdSet
	rset.Zero()
	for _, fd := range p.order {
		rset.Set(fd)
	}
	rset.Set(p.rfd)
	nfd := width
	if p.rfd+1 > nfd {
		nfd = p.rfd + 1
	}
	var tv *unix.Timeval
	if timeoutMs >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMs) * 1e6)
		tv = &t
	}
	n, err := unix.Select(nfd, &rset, nil, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	if rset.IsSet(p.rfd) {
		drainPipe(p.rfd)
	}
	cnt := 0
	for _, fd := range p.order {
		if cnt == len(ready) {
			break
		}
		if fd < nfd && rset.IsSet(fd) {
			ready[cnt] = fd
			cnt++
		}
	}
	return cnt, nil
}

func (p *selectPoller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	return wakeWrite(p.wfd)
}

func (p *selectPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(p.wfd)
	return unix.Close(p.rfd)
}
