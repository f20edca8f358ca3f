package scheduler

// descriptor 一个 fd 的读事件 handler
type descriptor struct {
	fd      int
	proc    Proc
	cleanup Proc
}

// handlerRegistry 按注册顺序保存 descriptor；轮询公平性依赖这个顺序
type handlerRegistry struct {
	list  []*descriptor
	byFD  map[int]*descriptor
	width int // 多路复用宽度：max(fd)+1
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{byFD: make(map[int]*descriptor)}
}

func (r *handlerRegistry) Len() int { return len(r.list) }

func (r *handlerRegistry) lookup(fd int) *descriptor { return r.byFD[fd] }

func (r *handlerRegistry) index(fd int) int {
	for i, d := range r.list {
		if d.fd == fd {
			return i
		}
	}
	return -1
}

// add 注册新 fd 并扩展宽度；调用方保证 fd 尚未注册
func (r *handlerRegistry) add(d *descriptor) {
	r.list = append(r.list, d)
	r.byFD[d.fd] = d
	if d.fd+1 > r.width {
		r.width = d.fd + 1
	}
}

// remove 删除 fd。宽度只在删除的正好是当前最大 fd 时减一，不会重新扫描真实最大值，
// 因此某些删除顺序下宽度会大于实际需要（但不会小于）。
func (r *handlerRegistry) remove(fd int) *descriptor {
	d := r.byFD[fd]
	if d == nil {
		return nil
	}
	delete(r.byFD, fd)
	if i := r.index(fd); i >= 0 {
		copy(r.list[i:], r.list[i+1:])
		r.list[len(r.list)-1] = nil
		r.list = r.list[:len(r.list)-1]
	}
	if fd+1 == r.width {
		r.width--
	}
	return d
}
