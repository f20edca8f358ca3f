//go:build linux || darwin

package server

import (
	"golang.org/x/sys/unix"

	"github.com/legamerdc/jrpc/internal/netutil"
	"github.com/legamerdc/jrpc/internal/ring"
	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/protocol"
	"github.com/legamerdc/jrpc/scheduler"
	"github.com/legamerdc/jrpc/service"
)

const (
	// outboundSize 至少能容纳一个最大响应帧
	outboundSize = protocol.MaxFrame + protocol.HeaderLen
	// resendDelay 写缓冲已满时重试发送的间隔（毫秒）
	resendDelay = 1
)

// Session 为一条连接的分帧状态机。expect == 0 时等待 2 字节长度头，否则等待 body。
// 所有方法只能在 reactor 线程调用。
type Session struct {
	id  uint64
	fd  int
	srv *Server
	log logx.Logger

	buf    []byte // 容量固定，跨请求复用
	pos    int
	expect int

	out      *ring.Buffer
	sendTask scheduler.Handle
	sending  bool
	closed   bool
}

func newSession(s *Server, id uint64, fd int) *Session {
	return &Session{
		id:  id,
		fd:  fd,
		srv: s,
		log: s.log.With(logx.Uint64("sid", id)),
		buf: make([]byte, s.cfg.BufferSize),
		out: ring.New(outboundSize),
	}
}

func (c *Session) ID() uint64 { return c.id }

func (c *Session) FD() int { return c.fd }

// Pending 返回尚未写出的响应字节数
func (c *Session) Pending() int { return c.out.Len() }

// onReadable 每次就绪只读一次；未读完的数据留给下一轮
func (c *Session) onReadable() {
	if c.expect == 0 {
		c.readHeader()
		return
	}
	c.readBody()
}

func (c *Session) readHeader() {
	n, ok := c.read(c.buf[c.pos:protocol.HeaderLen])
	if !ok {
		return
	}
	c.pos += n
	if c.pos < protocol.HeaderLen {
		return
	}
	length, _ := protocol.ParseHeader(c.buf)
	c.pos = 0
	if length >= len(c.buf) {
		c.log.Warn("request too large", logx.Int("length", length), logx.Int("limit", len(c.buf)))
		c.Close()
		return
	}
	// 长度为 0 的帧直接跳过，继续等待下一个长度头
	c.expect = length
}

func (c *Session) readBody() {
	n, ok := c.read(c.buf[c.pos:c.expect])
	if !ok {
		return
	}
	c.pos += n
	if c.pos < c.expect {
		return
	}
	body := c.buf[:c.expect]
	c.pos, c.expect = 0, 0
	c.serve(body)
}

// read 返回读到的字节数；没有数据时 ok 为 false；连接关闭或出错时关闭会话
func (c *Session) read(p []byte) (int, bool) {
	n, err := unix.Read(c.fd, p)
	if err == unix.EAGAIN || err == unix.EINTR {
		return 0, false
	}
	if n <= 0 || err != nil {
		if err != nil {
			c.log.Debug("read failed", logx.Err(err))
		}
		c.Close()
		return 0, false
	}
	return n, true
}

func (c *Session) serve(body []byte) {
	compressed := false
	if c.srv.cfg.Compression && protocol.IsCompressed(body) {
		plain, err := protocol.Decompress(body, len(c.buf)-1)
		if err != nil {
			c.log.Warn("bad compressed request", logx.Err(err))
			c.Close()
			return
		}
		body, compressed = plain, true
	}
	doc, err := protocol.Unmarshal(body)
	if err != nil {
		c.log.Warn("bad request", logx.Err(err))
		c.Close()
		return
	}
	c.respond(c.srv.reg.Invoke(doc), compressed)
}

// respond 把响应放入发送缓冲，由零延时任务在本轮的任务阶段写出
func (c *Session) respond(doc any, compressed bool) {
	payload, err := protocol.Marshal(doc)
	if err != nil {
		c.log.Warn("marshal response failed", logx.Err(err))
		payload, _ = protocol.Marshal(service.Envelope(service.RetUnknown))
	}
	if compressed {
		payload = protocol.Compress(payload)
	}
	frame, err := protocol.EncodeFrame(payload)
	if err != nil {
		c.log.Warn("response too large", logx.Int("length", len(payload)))
		payload, _ = protocol.Marshal(service.Envelope(service.RetUnknown))
		frame, _ = protocol.EncodeFrame(payload)
	}
	if _, err := c.out.Write(frame); err != nil {
		c.log.Warn("outbound buffer overflow", logx.Int("pending", c.out.Len()))
		c.Close()
		return
	}
	c.scheduleSend(0)
}

func (c *Session) scheduleSend(msec uint32) {
	if c.sending {
		return
	}
	h, err := c.srv.sched.DelayTask(msec, scheduler.Oneshot, c.flush, nil)
	if err != nil {
		c.log.Error("schedule send failed", logx.Err(err))
		c.Close()
		return
	}
	c.sendTask, c.sending = h, true
}

func (c *Session) flush() {
	c.sending = false
	for c.out.Len() > 0 {
		p := c.out.Head()
		n, err := unix.Write(c.fd, p)
		if n > 0 {
			c.out.Discard(n)
		}
		if err == unix.EAGAIN || (err == nil && n < len(p)) {
			c.scheduleSend(resendDelay)
			return
		}
		if err != nil && err != unix.EINTR {
			c.log.Debug("write failed", logx.Err(err))
			c.Close()
			return
		}
	}
}

// Close 注销 handler、取消待发送任务并关闭 socket；重复调用无效果
func (c *Session) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.sending {
		_, _ = c.srv.sched.UndelayTask(c.sendTask)
		c.sending = false
	}
	_ = c.srv.sched.UnhandleRead(c.fd)
	c.srv.removeSession(c)
	netutil.Close(c.fd)
	c.out.Reset()
	c.log.Debug("session closed")
}
