//go:build linux || darwin

package poller

import "golang.org/x/sys/unix"

func wakePipe() (rfd, wfd int, err error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return -1, -1, err
		}
	}
	return p[0], p[1], nil
}

func wakeWrite(wfd int) error {
	var b [1]byte
	b[0] = 1
	_, err := unix.Write(wfd, b[:])
	if err == unix.EAGAIN {
		// 管道已满说明唤醒尚未被消费，无需重复写入
		return nil
	}
	return err
}

func drainPipe(rfd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(rfd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
