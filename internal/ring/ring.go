package ring

import (
	"github.com/pkg/errors"
)

var ErrTooLarge = errors.New("ring: write too large")

// Buffer 是固定容量的环形字节缓冲，不会扩容。
// 仅在 reactor 线程中使用，不做并发保护。
type Buffer struct {
	buf      []byte
	mask     int
	readPos  int
	writePos int
}

// New 返回容量为 2 的幂次的环形缓冲。若 cap 非 2 的幂则向上取整。
func New(capacity int) *Buffer {
	capPow2 := 1
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	return &Buffer{buf: make([]byte, capPow2), mask: capPow2 - 1}
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.writePos - b.readPos }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// Write 整体写入 p；剩余空间不足时不写入任何字节并返回 ErrTooLarge。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		return 0, ErrTooLarge
	}
	n := len(p)
	start := b.writePos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(b.buf[start:end], p)
	} else {
		l := len(b.buf) - start
		copy(b.buf[start:], p[:l])
		copy(b.buf[:n-l], p[l:])
	}
	b.writePos += n
	return n, nil
}

// Head 返回读指针处连续的一段可读数据（不拷贝、不前进读指针）。
// 数据跨越环尾时只返回到环尾为止的部分，调用方 Discard 后再次 Head 取剩余部分。
func (b *Buffer) Head() []byte {
	ln := b.Len()
	if ln == 0 {
		return nil
	}
	start := b.readPos & b.mask
	end := start + ln
	if end > len(b.buf) {
		end = len(b.buf)
	}
	return b.buf[start:end]
}

// Discard 前进读指针。
func (b *Buffer) Discard(n int) int {
	ln := b.Len()
	if n > ln {
		n = ln
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.readPos, b.writePos = 0, 0
	}
	return n
}

// Reset 丢弃全部数据
func (b *Buffer) Reset() { b.readPos, b.writePos = 0, 0 }
