// Package poller 提供 reactor 使用的就绪等待原语。
// 各实现均为水平触发：本轮未处理的就绪 fd 在下一轮 Wait 中会再次报告。
package poller

import (
	"strings"

	"github.com/pkg/errors"
)

// FD 表示文件描述符。
type FD = int

var (
	ErrPlatformNotSupported = errors.New("poller: platform not supported")
	ErrClosed               = errors.New("poller: closed")
	ErrFDOutOfRange         = errors.New("poller: fd out of range")
)

// Poller 监听一组 fd 的可读事件。
// Add/Remove/Wait 只能在 reactor 线程调用；Wake 可在任意 goroutine 调用。
type Poller interface {
	Add(fd FD) error
	Remove(fd FD) error
	// Wait 最多阻塞 timeoutMs 毫秒（<0 表示无限），把就绪 fd 写入 ready 并返回数量。
	// width 为多路复用宽度（最大 fd + 1），仅 select 实现使用。
	// 被 Wake 唤醒或被信号打断时返回 0。
	Wait(width int, timeoutMs int, ready []FD) (int, error)
	Wake() error
	Close() error
}

const (
	KindNative = ""
	KindEpoll  = "epoll"
	KindKqueue = "kqueue"
	KindSelect = "select"
)

// Open 按名称创建 poller；空字符串为当前平台的原生实现
func Open(kind string) (Poller, error) {
	switch strings.ToLower(kind) {
	case KindNative, KindEpoll, KindKqueue:
		return New()
	case KindSelect:
		return NewSelect()
	}
	return nil, errors.Errorf("poller: unknown kind %q", kind)
}
