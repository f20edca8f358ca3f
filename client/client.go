// Package client 是同步的 JSON-RPC 客户端：一条连接同一时刻只有一个请求。
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/legamerdc/jrpc/protocol"
	"github.com/legamerdc/jrpc/service"
)

// RetError 为服务端返回的错误信封
type RetError struct {
	Code service.RetCode
	Desc string
}

func (e *RetError) Error() string {
	return fmt.Sprintf("client: call failed: code=%d desc=%q", int(e.Code), e.Desc)
}

type Option func(*Client)

// WithCompression 以 zstd 压缩请求 body；服务端需开启 compression
func WithCompression(on bool) Option { return func(c *Client) { c.compress = on } }

// WithTimeout 为没有 deadline 的 ctx 设置单次调用超时
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

type Client struct {
	conn     net.Conn
	mu       sync.Mutex
	compress bool
	timeout  time.Duration
}

func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "client: dial %s", address)
	}
	c := &Client{conn: nc}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Call 调用 function；服务端返回错误信封时返回 *RetError
func (c *Client) Call(ctx context.Context, function string, params any) (any, error) {
	call := map[string]any{"function": function}
	if params != nil {
		call["params"] = params
	}
	res, err := c.Do(ctx, map[string]any{"call": call})
	if err != nil {
		return nil, err
	}
	if re := retError(res); re != nil {
		return nil, re
	}
	return res, nil
}

// Do 发送任意请求文档并返回原始响应文档
func (c *Client) Do(ctx context.Context, req any) (any, error) {
	body, err := protocol.Marshal(req)
	if err != nil {
		return nil, err
	}
	if c.compress {
		body = protocol.Compress(body)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "client: set deadline")
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := protocol.WriteFrame(c.conn, body); err != nil {
		return nil, c.wrap(ctx, err, "write")
	}
	resp, err := protocol.ReadFrame(c.conn, 0)
	if err != nil {
		return nil, c.wrap(ctx, err, "read")
	}
	if protocol.IsCompressed(resp) {
		if resp, err = protocol.Decompress(resp, protocol.MaxFrame); err != nil {
			return nil, err
		}
	}
	return protocol.Unmarshal(resp)
}

func (c *Client) wrap(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), "client: %s", op)
	}
	return errors.Wrapf(err, "client: %s", op)
}

func (c *Client) Close() error { return c.conn.Close() }

func retError(res any) *RetError {
	root, ok := res.(map[string]any)
	if !ok || len(root) != 1 {
		return nil
	}
	ret, ok := root["ret"].(map[string]any)
	if !ok {
		return nil
	}
	num, ok := ret["code"].(interface{ Int64() (int64, error) })
	if !ok {
		return nil
	}
	code, err := num.Int64()
	if err != nil || code == int64(service.RetOK) {
		return nil
	}
	desc, _ := ret["desc"].(string)
	return &RetError{Code: service.RetCode(code), Desc: desc}
}
