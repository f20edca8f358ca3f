package scheduler

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/jrpc/internal/netutil"
	"github.com/legamerdc/jrpc/logx"
)

const (
	// Magic 控制报文标识
	Magic uint32 = 0x01DADA10
	// MessageSize 控制报文固定长度：magic + cmd + ret + 7 个参数
	MessageSize = 4 + 4 + 4 + 7*8
	// ParamNum 控制报文参数个数
	ParamNum = 7
)

// Message 为回环 UDP 控制报文，所有字段按网络字节序编码。
// 参数只携带可序列化的值（毫秒、模式、fd、句柄、过程 id），不携带内存引用：
//
//	DELAY         p0=msec p1=mode p2=proc id
//	UNDELAY       p0=handle
//	HANDLE_READ   p0=fd   p1=proc id
//	UNHANDLE_READ p0=fd
type Message struct {
	Command Command
	Ret     int32
	Params  [ParamNum]uint64
}

func (m Message) MarshalBinary() ([]byte, error) {
	b := make([]byte, MessageSize)
	binary.BigEndian.PutUint32(b[0:], Magic)
	binary.BigEndian.PutUint32(b[4:], uint32(m.Command))
	binary.BigEndian.PutUint32(b[8:], uint32(m.Ret))
	for i, p := range m.Params {
		binary.BigEndian.PutUint64(b[12+i*8:], p)
	}
	return b, nil
}

func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) != MessageSize {
		return errors.Wrapf(ErrBadMessage, "size %d", len(b))
	}
	if magic := binary.BigEndian.Uint32(b[0:]); magic != Magic {
		return errors.Wrapf(ErrBadMessage, "magic %#x", magic)
	}
	m.Command = Command(binary.BigEndian.Uint32(b[4:]))
	m.Ret = int32(binary.BigEndian.Uint32(b[8:]))
	for i := range m.Params {
		m.Params[i] = binary.BigEndian.Uint64(b[12+i*8:])
	}
	return nil
}

// SendControl 向本机 port 上的 scheduler 发送一条控制报文
func SendControl(port uint16, m Message) error {
	b, _ := m.MarshalBinary()
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)})
	if err != nil {
		return errors.Wrap(err, "scheduler: dial control")
	}
	defer conn.Close()
	if _, err := conn.Write(b); err != nil {
		return errors.Wrap(err, "scheduler: send control")
	}
	return nil
}

// RegisterRemoteProc 为控制报文登记可按 id 调用的过程，重复登记覆盖旧值
func (s *Scheduler) RegisterRemoteProc(id uint64, proc Proc) error {
	if proc == nil {
		return errors.Wrap(ErrInvalidArgument, "nil remote proc")
	}
	s.remoteProcs[id] = proc
	return nil
}

// ControlPort 返回控制通道实际绑定的端口，未开启时返回 0
func (s *Scheduler) ControlPort() int { return s.ipcPort }

func (s *Scheduler) addIPCHandler(port uint16) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
	fd, err := netutil.ListenUDP(addr)
	if err != nil {
		return errors.Wrapf(ErrSocket, "bind control %s: %v", addr, err)
	}
	bound, err := netutil.LocalPort(fd)
	if err != nil {
		netutil.Close(fd)
		return errors.Wrapf(ErrSocket, "control port: %v", err)
	}
	buf := make([]byte, MessageSize+1)
	err = s.HandleRead(fd, func() { s.onControl(fd, buf) }, func() {
		netutil.Close(fd)
		s.ipcFD, s.ipcPort = -1, 0
	})
	if err != nil {
		netutil.Close(fd)
		return err
	}
	s.ipcFD, s.ipcPort = fd, bound
	s.log.Debug("control channel bound", logx.Int("port", bound))
	return nil
}

// onControl 每次读取一个报文；错误报文直接丢弃
func (s *Scheduler) onControl(fd int, buf []byte) {
	n, _, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		if err != unix.EAGAIN && err != unix.EINTR {
			s.log.Debug("control recv failed", logx.Err(err))
		}
		return
	}
	var m Message
	if err := m.UnmarshalBinary(buf[:n]); err != nil {
		s.log.Debug("control message dropped", logx.Err(err))
		return
	}
	c, err := s.commandFromMessage(m)
	if err != nil {
		s.log.Debug("control message dropped", logx.Err(err))
		return
	}
	s.exec(c)
}

func (s *Scheduler) commandFromMessage(m Message) (command, error) {
	p := m.Params
	c := command{kind: m.Command}
	switch m.Command {
	case CmdDelay:
		proc, ok := s.remoteProcs[p[2]]
		if !ok {
			return c, errors.Wrapf(ErrNotFound, "remote proc %d", p[2])
		}
		if p[0] > uint64(halfTick) {
			return c, errors.Wrapf(ErrInvalidArgument, "delay %d", p[0])
		}
		c.msec, c.mode, c.proc = uint32(p[0]), Mode(p[1]), proc
	case CmdUndelay:
		c.handle = HandleFromUint64(p[0])
	case CmdHandleRead:
		proc, ok := s.remoteProcs[p[1]]
		if !ok {
			return c, errors.Wrapf(ErrNotFound, "remote proc %d", p[1])
		}
		c.fd, c.proc = int(p[0]), proc
	case CmdUnhandleRead:
		c.fd = int(p[0])
	default:
		return c, errors.Wrapf(ErrBadMessage, "command %d", uint32(m.Command))
	}
	return c, nil
}
