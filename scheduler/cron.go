package scheduler

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/legamerdc/jrpc/logx"
)

// cronSlack 允许 tick 时钟与墙上时钟之间的误差
const cronSlack = time.Millisecond

// CronTask 按 cron 表达式重复执行的任务。每次只在延时队列中挂一个 oneshot 任务，
// 触发后按下一次激活时间重新挂载。
type CronTask struct {
	s       *Scheduler
	sched   cron.Schedule
	proc    Proc
	handle  Handle
	next    time.Time
	stopped bool
}

// DelayCron 按标准 5 段 cron 表达式（或 @every/@hourly 等描述符）调度 proc
func (s *Scheduler) DelayCron(spec string, proc Proc) (*CronTask, error) {
	if proc == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "nil cron proc")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "cron %q: %v", spec, err)
	}
	ct := &CronTask{s: s, sched: sched, proc: proc}
	if err := ct.arm(); err != nil {
		return nil, err
	}
	return ct, nil
}

// Next 返回下一次激活时间；已停止时为零值
func (ct *CronTask) Next() time.Time {
	if ct.stopped {
		return time.Time{}
	}
	return ct.next
}

// Stop 取消任务，之后不再触发。只能在 reactor 线程调用。
func (ct *CronTask) Stop() {
	if ct.stopped {
		return
	}
	ct.stopped = true
	_, _ = ct.s.UndelayTask(ct.handle)
}

func (ct *CronTask) arm() error {
	now := ct.s.now()
	if ct.next.IsZero() || !ct.next.After(now.Add(cronSlack)) {
		ct.next = ct.sched.Next(now)
	}
	if ct.next.IsZero() {
		ct.stopped = true
		return nil
	}
	d := ct.next.Sub(now)
	msec := uint64((d + time.Millisecond - 1) / time.Millisecond)
	// 超过半个 tick 空间时先挂一个中间任务，醒来后再重新计算
	if msec > uint64(halfTick) {
		msec = uint64(halfTick)
	}
	h, err := ct.s.DelayTask(uint32(msec), Oneshot, ct.fire, nil)
	if err != nil {
		return err
	}
	ct.handle = h
	return nil
}

func (ct *CronTask) fire() {
	if ct.stopped {
		return
	}
	if !ct.s.now().Add(cronSlack).Before(ct.next) {
		ct.next = time.Time{}
		ct.proc()
		if ct.stopped {
			return
		}
	}
	if err := ct.arm(); err != nil {
		ct.stopped = true
		ct.s.log.Warn("cron task re-arm failed", logx.Err(err))
	}
}
