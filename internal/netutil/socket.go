//go:build linux || darwin

package netutil

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ListenTCP 创建非阻塞 TCP 监听 fd（IPv4，或地址为 IPv6 时使用 AF_INET6）
func ListenTCP(address string, backlog int) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, errors.Wrapf(err, "netutil: resolve %q", address)
	}
	sa, fam := sockaddr(addr.IP, addr.Port)
	fd, err := unix.Socket(fam, unix.SOCK_STREAM|sockCloexec, unix.IPPROTO_TCP)
	if err != nil {
		return -1, errors.Wrap(err, "netutil: socket")
	}
	_ = SetReuseAddr(fd, true)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "netutil: nonblock")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "netutil: bind %s", address)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "netutil: listen")
	}
	return fd, nil
}

// ListenUDP 绑定非阻塞 UDP fd
func ListenUDP(address string) (int, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return -1, errors.Wrapf(err, "netutil: resolve %q", address)
	}
	sa, fam := sockaddr(addr.IP, addr.Port)
	fd, err := unix.Socket(fam, unix.SOCK_DGRAM|sockCloexec, unix.IPPROTO_UDP)
	if err != nil {
		return -1, errors.Wrap(err, "netutil: socket")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "netutil: nonblock")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "netutil: bind %s", address)
	}
	return fd, nil
}

// LocalPort 返回 fd 实际绑定的端口（监听端口为 0 时由内核分配）
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return v.Port, nil
	case *unix.SockaddrInet6:
		return v.Port, nil
	}
	return 0, errors.New("netutil: unexpected sockaddr")
}

// LocalAddr 返回 fd 的本地地址
func LocalAddr(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]).To16(), Port: v.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}, nil
	}
	return nil, errors.New("netutil: unexpected sockaddr")
}

func Close(fd int) error { return unix.Close(fd) }

func sockaddr(ip net.IP, port int) (unix.Sockaddr, int) {
	if ip != nil && ip.To4() == nil {
		var sa6 unix.SockaddrInet6
		copy(sa6.Addr[:], ip.To16())
		sa6.Port = port
		return &sa6, unix.AF_INET6
	}
	var sa4 unix.SockaddrInet4
	if ip != nil {
		copy(sa4.Addr[:], ip.To4())
	}
	sa4.Port = port
	return &sa4, unix.AF_INET
}
