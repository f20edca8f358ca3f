package scheduler

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument 参数非法：负 fd、超过半个 tick 空间的延时、周期为 0 的周期任务等
	ErrInvalidArgument = errors.New("scheduler: invalid argument")

	// ErrNotFound 句柄或 fd 未注册
	ErrNotFound = errors.New("scheduler: not found")

	// ErrTaskNotFound 延时任务不存在（已触发、已取消或句柄过期）
	ErrTaskNotFound = errors.Wrap(ErrNotFound, "delay task")

	// ErrDescriptorNotFound fd 没有注册读事件 handler
	ErrDescriptorNotFound = errors.Wrap(ErrNotFound, "handler descriptor")

	// ErrSocket 创建或绑定 socket 失败
	ErrSocket = errors.New("scheduler: socket error")

	// ErrPoll 就绪等待失败，single step 失败
	ErrPoll = errors.New("scheduler: poll failed")

	// ErrTrampolineDisabled 未开启 IPC 时调用 *Remote 接口
	ErrTrampolineDisabled = errors.New("scheduler: trampoline disabled")

	// ErrClosed scheduler 已关闭
	ErrClosed = errors.New("scheduler: closed")

	// ErrBadMessage 控制报文长度或 magic 不正确
	ErrBadMessage = errors.New("scheduler: bad control message")
)
