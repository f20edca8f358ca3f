//go:build darwin

package netutil

import "golang.org/x/sys/unix"

// darwin 不支持 SOCK_CLOEXEC 标志位，依赖 fork/exec 时的 CloseOnExec
const sockCloexec = 0

// Accept 取出一个待处理连接，返回的 fd 已设置为非阻塞
func Accept(lfd int) (int, error) {
	fd, _, err := unix.Accept(lfd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
