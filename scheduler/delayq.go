package scheduler

import (
	"container/list"
	"fmt"
)

// Proc 为 reactor 回调；客户端数据由闭包捕获
type Proc func()

// Mode 延时任务模式
type Mode uint32

const (
	Oneshot Mode = iota
	Periodic
)

func (m Mode) String() string {
	switch m {
	case Oneshot:
		return "oneshot"
	case Periodic:
		return "periodic"
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

// Handle 标识一个延时任务。带代数校验：任务触发（oneshot）或取消后旧句柄失效，
// 即使槽位被复用也不会误命中新任务。零值为无效句柄。
type Handle struct {
	index uint32
	gen   uint32
}

func (h Handle) Valid() bool { return h.gen != 0 }

// Uint64 把句柄编码为可序列化的整数（控制报文使用）
func (h Handle) Uint64() uint64 { return uint64(h.gen)<<32 | uint64(h.index) }

func (h Handle) String() string { return fmt.Sprintf("%d.%d", h.index, h.gen) }

// HandleFromUint64 为 Uint64 的逆操作
func HandleFromUint64(v uint64) Handle {
	return Handle{index: uint32(v), gen: uint32(v >> 32)}
}

type task struct {
	proc      Proc
	cleanup   Proc
	deadline  uint32
	period    uint32
	mode      Mode
	handle    Handle
	elem      *list.Element // 为 nil 表示不在队列中（正在触发或等待重新插入）
	cancelled bool
}

type slot struct {
	gen uint32
	t   *task
}

// delayQueue 按 deadline 升序（回绕安全）排列的任务链表；句柄经由 slot 表 O(1) 定位
type delayQueue struct {
	l     list.List
	slots []slot
	free  []uint32
}

func (q *delayQueue) Len() int { return q.l.Len() }

func (q *delayQueue) head() *task {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*task)
}

// alloc 为任务分配句柄
func (q *delayQueue) alloc(t *task) Handle {
	var idx uint32
	if n := len(q.free); n > 0 {
		idx = q.free[n-1]
		q.free = q.free[:n-1]
	} else {
		idx = uint32(len(q.slots))
		q.slots = append(q.slots, slot{})
	}
	s := &q.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.t = t
	t.handle = Handle{index: idx, gen: s.gen}
	return t.handle
}

func (q *delayQueue) lookup(h Handle) *task {
	if !h.Valid() || int(h.index) >= len(q.slots) {
		return nil
	}
	s := &q.slots[h.index]
	if s.gen != h.gen || s.t == nil {
		return nil
	}
	return s.t
}

// release 作废句柄并回收槽位
func (q *delayQueue) release(h Handle) {
	if q.lookup(h) == nil {
		return
	}
	s := &q.slots[h.index]
	s.t = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	q.free = append(q.free, h.index)
}

// insert 按 deadline 插入：放在第一个 deadline 不早于它的任务之前，
// 因此 deadline 相同时后插入的任务先触发
func (q *delayQueue) insert(t *task) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		cur := e.Value.(*task)
		if !tickAfter(t.deadline, cur.deadline) {
			t.elem = q.l.InsertBefore(t, e)
			return
		}
	}
	t.elem = q.l.PushBack(t)
}

func (q *delayQueue) remove(t *task) {
	if t.elem != nil {
		q.l.Remove(t.elem)
		t.elem = nil
	}
}

// tasks 返回队列快照（按触发顺序）
func (q *delayQueue) tasks() []*task {
	out := make([]*task, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*task))
	}
	return out
}
