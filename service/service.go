// Package service 是 RPC 方法注册表与分发器。
//
// 请求格式 {"call":{"function":"<name>","params":{...}}}；成功时返回 handler 的结果本身，
// 失败时返回 {"ret":{"code":<int>,"desc":<string>}} 信封。
package service

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/legamerdc/jrpc/logx"
)

var (
	ErrInvalidArgument = errors.New("service: invalid argument")
	ErrNotFound        = errors.New("service: not found")
)

// RetCode 为信封中的返回码
type RetCode int

const (
	RetOK       RetCode = 0
	RetUnknown  RetCode = -1
	RetInvalid  RetCode = -2
	RetNotFound RetCode = -3
)

func (c RetCode) Desc() string {
	switch c {
	case RetOK:
		return "Call Succeeded"
	case RetUnknown:
		return "Unknown Error"
	case RetInvalid:
		return "Call Invalid"
	case RetNotFound:
		return "Call Not Found"
	}
	return fmt.Sprintf("Code %d", int(c))
}

// Envelope 构造返回码信封
func Envelope(code RetCode) map[string]any {
	return map[string]any{
		"ret": map[string]any{
			"code": int(code),
			"desc": code.Desc(),
		},
	}
}

// Handler 处理一次调用，params 为 call.params（缺省时为 nil）。
// 成功调用必须返回非 nil 结果（可以是空对象）；返回 nil 或 error 时调用方收到 Unknown 信封。
type Handler func(params any) (any, error)

type entry struct {
	name    string
	handler Handler
}

// Registry 方法表，按注册顺序保存；同名方法以先注册者为准
type Registry struct {
	mu       sync.RWMutex
	services []entry
	log      logx.Logger
}

func NewRegistry() *Registry { return &Registry{} }

// SetLogger 设置分发日志输出
func (r *Registry) SetLogger(l logx.Logger) {
	r.mu.Lock()
	r.log = l.With(logx.String("component", "service"))
	r.mu.Unlock()
}

// Register 追加一个方法；不检查重名
func (r *Registry) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.Wrapf(ErrInvalidArgument, "register %q", name)
	}
	r.mu.Lock()
	r.services = append(r.services, entry{name: name, handler: h})
	r.mu.Unlock()
	return nil
}

// Deregister 删除第一个同名方法
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.services {
		if e.name == name {
			r.services = append(r.services[:i], r.services[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "deregister %q", name)
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.services {
		if e.name == name {
			return e.handler, true
		}
	}
	return nil, false
}

// Names 按注册顺序返回方法名（含重名）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.services))
	for i, e := range r.services {
		out[i] = e.name
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Reset 清空方法表
func (r *Registry) Reset() {
	r.mu.Lock()
	r.services = nil
	r.mu.Unlock()
}

// Invoke 分发一个已解析的请求文档，总是返回一个响应文档
func (r *Registry) Invoke(req any) any {
	root, _ := req.(map[string]any)
	call, ok := root["call"].(map[string]any)
	if !ok {
		r.logger().Debug("request without call")
		return Envelope(RetInvalid)
	}
	fn, ok := call["function"].(string)
	if !ok {
		r.logger().Debug("call without function")
		return Envelope(RetInvalid)
	}
	h, ok := r.Lookup(fn)
	if !ok {
		r.logger().Debug("function not found", logx.String("function", fn))
		return Envelope(RetNotFound)
	}
	res, err := r.call(fn, h, call["params"])
	if err != nil {
		r.logger().Warn("call failed", logx.String("function", fn), logx.Err(err))
		return Envelope(RetUnknown)
	}
	if res == nil {
		return Envelope(RetUnknown)
	}
	return res
}

// call 调用 handler，panic 转换为错误，不影响 reactor
func (r *Registry) call(fn string, h Handler, params any) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, errors.Errorf("service: %s panicked: %v", fn, p)
		}
	}()
	return h(params)
}

func (r *Registry) logger() logx.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.log
}
