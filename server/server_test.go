//go:build linux || darwin

package server

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/legamerdc/jrpc/client"
	"github.com/legamerdc/jrpc/logx"
	"github.com/legamerdc/jrpc/protocol"
	"github.com/legamerdc/jrpc/scheduler"
	"github.com/legamerdc/jrpc/service"
)

const blobSize = 20000

func testRegistry() *service.Registry {
	reg := service.NewRegistry()
	_ = reg.Register("echo", func(params any) (any, error) { return params, nil })
	_ = reg.Register("big", func(any) (any, error) {
		b := make([]byte, protocol.MaxFrame)
		for i := range b {
			b[i] = 'a'
		}
		return map[string]any{"data": string(b)}, nil
	})
	_ = reg.Register("blob", func(any) (any, error) {
		return strings.Repeat("x", blobSize), nil
	})
	return reg
}

func startServer(t *testing.T, mut func(*Config)) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.Control.Port = 0
	cfg.IdleTimeout = 20 * time.Millisecond
	if mut != nil {
		mut(&cfg)
	}
	s, err := Open(cfg, testRegistry(), logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, s.Close())
	})
	return s
}

func dialRaw(t *testing.T, s *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	require.NoError(t, c.SetDeadline(time.Now().Add(3*time.Second)))
	t.Cleanup(func() { c.Close() })
	return c
}

func requireClosed(t *testing.T, c net.Conn) {
	t.Helper()
	var b [1]byte
	_, err := c.Read(b[:])
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		require.False(t, ne.Timeout(), "expected connection close, got timeout")
	}
}

func TestEchoRaw(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	require.NoError(t, protocol.WriteFrame(c, []byte(`{"call":{"function":"echo","params":{"x":1}}}`)))
	resp, err := protocol.ReadFrame(c, 0)
	require.NoError(t, err)
	require.Equal(t, `{"x":1}`, string(resp))

	require.NoError(t, protocol.WriteFrame(c, []byte(`{"call":{"function":"missing"}}`)))
	resp, err = protocol.ReadFrame(c, 0)
	require.NoError(t, err)
	require.Equal(t, `{"ret":{"code":-3,"desc":"Call Not Found"}}`, string(resp))
	require.Equal(t, 1, s.NumSessions())
}

func TestClientCall(t *testing.T) {
	s := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	res, err := c.Call(ctx, "echo", map[string]any{"x": 1, "s": "hi"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"x": json.Number("1"), "s": "hi"}, res)

	_, err = c.Call(ctx, "missing", nil)
	var re *client.RetError
	require.ErrorAs(t, err, &re)
	require.Equal(t, service.RetNotFound, re.Code)
	require.Equal(t, "Call Not Found", re.Desc)

	res, err = c.Do(ctx, map[string]any{"nocall": true})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ret": map[string]any{"code": json.Number("-2"), "desc": "Call Invalid"}}, res)
}

func TestSplitWrites(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	frame, err := protocol.EncodeFrame([]byte(`{"call":{"function":"echo","params":[1,2,3]}}`))
	require.NoError(t, err)
	for _, chunk := range [][]byte{frame[:1], frame[1:2], frame[2:10], frame[10:]} {
		_, err := c.Write(chunk)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := protocol.ReadFrame(c, 0)
	require.NoError(t, err)
	require.Equal(t, `[1,2,3]`, string(resp))
}

func TestPipelinedAndZeroLengthFrames(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	var stream []byte
	stream, _ = protocol.AppendFrame(stream, nil)
	stream, _ = protocol.AppendFrame(stream, []byte(`{"call":{"function":"echo","params":"a"}}`))
	stream, _ = protocol.AppendFrame(stream, []byte(`{"call":{"function":"echo","params":"b"}}`))
	_, err := c.Write(stream)
	require.NoError(t, err)

	for _, want := range []string{`"a"`, `"b"`} {
		resp, err := protocol.ReadFrame(c, 0)
		require.NoError(t, err)
		require.Equal(t, want, string(resp))
	}
}

func TestOversizedHeaderClosesSession(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	// 声明长度等于缓冲区容量，不发送 body
	_, err := c.Write([]byte{0x04, 0x00})
	require.NoError(t, err)
	requireClosed(t, c)
	require.Eventually(t, func() bool { return s.NumSessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedJSONClosesSession(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	require.NoError(t, protocol.WriteFrame(c, []byte(`{"call":`)))
	requireClosed(t, c)
}

func TestResponseTooLarge(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	require.NoError(t, protocol.WriteFrame(c, []byte(`{"call":{"function":"big"}}`)))
	resp, err := protocol.ReadFrame(c, 0)
	require.NoError(t, err)
	require.Equal(t, `{"ret":{"code":-1,"desc":"Unknown Error"}}`, string(resp))
}

func TestMaxSessions(t *testing.T) {
	s := startServer(t, func(c *Config) { c.MaxSessions = 2 })

	for i := 0; i < 2; i++ {
		c := dialRaw(t, s)
		require.NoError(t, protocol.WriteFrame(c, []byte(`{"call":{"function":"echo","params":1}}`)))
		_, err := protocol.ReadFrame(c, 0)
		require.NoError(t, err)
	}
	require.Equal(t, 2, s.NumSessions())

	extra := dialRaw(t, s)
	requireClosed(t, extra)
	require.Equal(t, 2, s.NumSessions())
}

func TestCompression(t *testing.T) {
	s := startServer(t, func(c *Config) { c.Compression = true })
	c := dialRaw(t, s)

	require.NoError(t, protocol.WriteFrame(c, protocol.Compress([]byte(`{"call":{"function":"echo","params":{"z":true}}}`))))
	resp, err := protocol.ReadFrame(c, 0)
	require.NoError(t, err)
	require.True(t, protocol.IsCompressed(resp))
	plain, err := protocol.Decompress(resp, protocol.MaxFrame)
	require.NoError(t, err)
	require.Equal(t, `{"z":true}`, string(plain))

	// 未压缩的请求得到未压缩的响应
	require.NoError(t, protocol.WriteFrame(c, []byte(`{"call":{"function":"echo","params":1}}`)))
	resp, err = protocol.ReadFrame(c, 0)
	require.NoError(t, err)
	require.Equal(t, `1`, string(resp))

	ctx := context.Background()
	cl, err := client.Dial(ctx, s.Addr().String(), client.WithCompression(true), client.WithTimeout(3*time.Second))
	require.NoError(t, err)
	defer cl.Close()
	res, err := cl.Call(ctx, "echo", "zz")
	require.NoError(t, err)
	require.Equal(t, "zz", res)
}

func TestCompressionDisabledRejectsZstd(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)

	require.NoError(t, protocol.WriteFrame(c, protocol.Compress([]byte(`{"call":{"function":"echo"}}`))))
	requireClosed(t, c)
}

func TestFindSessionOnReactor(t *testing.T) {
	s := startServer(t, nil)
	c := dialRaw(t, s)
	require.NoError(t, protocol.WriteFrame(c, []byte(`{"call":{"function":"echo","params":1}}`)))
	_, err := protocol.ReadFrame(c, 0)
	require.NoError(t, err)

	type result struct {
		first, missing bool
		fd, pending    int
	}
	ch := make(chan result, 1)
	err = s.Scheduler().DelayTaskRemote(0, scheduler.Oneshot, func() {
		r := result{missing: s.FindSession(99) == nil}
		if sess := s.FindSession(1); sess != nil {
			r.first, r.fd, r.pending = true, sess.FD(), sess.Pending()
		}
		ch <- r
	}, nil, nil)
	require.NoError(t, err)

	select {
	case r := <-ch:
		require.True(t, r.first)
		require.True(t, r.missing)
		require.Positive(t, r.fd)
		require.Zero(t, r.pending)
	case <-time.After(2 * time.Second):
		t.Fatal("remote task did not run")
	}
}

// 客户端接收缓冲很小且读得慢，响应在发送环中积压并跨越环尾
func TestSlowReaderOutboundWrap(t *testing.T) {
	s := startServer(t, nil)

	d := net.Dialer{Control: func(_, _ string, rc syscall.RawConn) error {
		var serr error
		err := rc.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, 4096)
		})
		if err != nil {
			return err
		}
		return serr
	}}
	c, err := d.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(10*time.Second)))

	// 在途请求不超过 window 个，积压的响应总能放进发送环
	const (
		total  = 40
		window = 4
	)
	req := []byte(`{"call":{"function":"blob"}}`)
	sent := 0
	for ; sent < window; sent++ {
		require.NoError(t, protocol.WriteFrame(c, req))
	}
	want := `"` + strings.Repeat("x", blobSize) + `"`
	for got := 0; got < total; got++ {
		time.Sleep(2 * time.Millisecond)
		resp, err := protocol.ReadFrame(c, 0)
		require.NoError(t, err)
		require.Equal(t, want, string(resp))
		if sent < total {
			require.NoError(t, protocol.WriteFrame(c, req))
			sent++
		}
	}
	require.Equal(t, 1, s.NumSessions())
}

func TestConfigAndRegistryAccessors(t *testing.T) {
	s := startServer(t, func(c *Config) { c.MaxSessions = 3 })
	require.Equal(t, 3, s.Config().MaxSessions)
	_, ok := s.Registry().Lookup("echo")
	require.True(t, ok)
}

func TestAcceptRate(t *testing.T) {
	s := startServer(t, func(c *Config) {
		c.AcceptRate = 20
		c.MaxSessions = 8
	})
	for i := 0; i < 4; i++ {
		c := dialRaw(t, s)
		require.NoError(t, protocol.WriteFrame(c, []byte(`{"call":{"function":"echo","params":1}}`)))
		resp, err := protocol.ReadFrame(c, 0)
		require.NoError(t, err)
		require.Equal(t, `1`, string(resp))
	}
}

func TestOpenInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cfg.BufferSize = 1
	_, err := Open(cfg, service.NewRegistry(), logx.Nop())
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(DefaultConfig(), nil, logx.Nop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}
