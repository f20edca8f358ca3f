// Package protocol 定义 RPC 的线上格式：2 字节大端长度头 + JSON 文本。
// 请求与响应使用相同的帧格式；连接上同一时刻只有一个请求，响应按顺序匹配。
package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// HeaderLen 长度头字节数
	HeaderLen = 2
	// DefaultBufferSize 会话接收缓冲区容量；声明长度 >= 容量的请求被拒绝
	DefaultBufferSize = 1024
	// MaxFrame 长度头能表示的最大 body
	MaxFrame = 1<<16 - 1
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrShortHeader   = errors.New("protocol: short header")
	ErrMalformed     = errors.New("protocol: malformed json")
)

// PutHeader 把 n 以大端写入 b[:2]
func PutHeader(b []byte, n int) error {
	if n < 0 || n > MaxFrame {
		return errors.Wrapf(ErrFrameTooLarge, "length %d", n)
	}
	if len(b) < HeaderLen {
		return ErrShortHeader
	}
	binary.BigEndian.PutUint16(b, uint16(n))
	return nil
}

// ParseHeader 解析长度头
func ParseHeader(b []byte) (int, error) {
	if len(b) < HeaderLen {
		return 0, ErrShortHeader
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

// EncodeFrame 返回 头部 + payload
func EncodeFrame(payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderLen+len(payload)), payload)
}

// AppendFrame 把一帧追加到 dst
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxFrame {
		return dst, errors.Wrapf(ErrFrameTooLarge, "length %d", len(payload))
	}
	var h [HeaderLen]byte
	binary.BigEndian.PutUint16(h[:], uint16(len(payload)))
	dst = append(dst, h[:]...)
	return append(dst, payload...), nil
}
