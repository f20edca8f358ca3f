//go:build linux

package netutil

import "golang.org/x/sys/unix"

const sockCloexec = unix.SOCK_CLOEXEC

// Accept 取出一个待处理连接，返回的 fd 已设置为非阻塞
func Accept(lfd int) (int, error) {
	fd, _, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return fd, nil
}
