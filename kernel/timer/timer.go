// Package timer implements the per-task real interval timer, the
// POSIX timers array, and timerfd ticking. The scheduler tick drives
// it by calling Sweep once per jiffy. Sweep indexes each task's own
// PosixTimers array by its own index, not the task table's.
package timer

import (
	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/task"
)

// ITimerReal is the only setitimer(2) "which" value this core
// implements; others report ENOSYS.
const ITimerReal = 0

const (
	SigAlrm = 14

	// NotifySignal matches SIGEV_SIGNAL for timer_create's sigevent
	// notify mode.
	NotifySignal = 0
)

// Raiser delivers a signal to a task. Dispatch itself is out of
// scope here; this core only flips the pending bit.
type Raiser interface {
	Raise(t *task.Task, sig int32)
}

// SignalBitRaiser sets the corresponding bit in Task.Pending directly,
// the minimal "dispatch hook" this core needs without modeling a real
// signal-delivery subsystem.
type SignalBitRaiser struct{}

func (SignalBitRaiser) Raise(t *task.Task, sig int32) {
	t.Pending |= 1 << uint(sig)
}

// Sweep advances every live task's timers by one jiffy (now is the
// table's current jiffy count) and is meant to be called once per
// tick from the scheduler. tfds may be nil when no timerfd registry is
// wired.
func Sweep(tb *task.Table, raiser Raiser, tfds *TimerFDs, now uint64) {
	tb.Each(func(t *task.Task) {
		sweepItimerReal(t, raiser, now)
		sweepPosixTimers(t, raiser, now)
		if tfds != nil {
			tfds.sweepTask(t, now)
		}
	})
}

func sweepItimerReal(t *task.Task, raiser Raiser, now uint64) {
	if t.ItimerReal.At == 0 || t.ItimerReal.At > now {
		return
	}
	raiser.Raise(t, SigAlrm)
	if t.State() == task.Blocking {
		t.Unblock(SigAlrm)
	}
	if t.ItimerReal.Reset != 0 {
		t.ItimerReal.At = now + t.ItimerReal.Reset
	} else {
		t.ItimerReal.At = 0
	}
}

func sweepPosixTimers(t *task.Task, raiser Raiser, now uint64) {
	for i := range t.PosixTimers {
		pt := &t.PosixTimers[i]
		if !pt.Live || pt.ExpireAt == 0 || pt.ExpireAt > now {
			continue
		}
		raiser.Raise(t, pt.Signal)
		if pt.Interval != 0 {
			pt.ExpireAt = now + pt.Interval
		} else {
			pt.ExpireAt = 0
		}
	}
}

// ITimerVal is the timeval-pair argument/result of setitimer/getitimer,
// expressed directly in jiffies by this core (a real syscall facade
// converts to/from struct timeval at the ABI boundary).
type ITimerVal struct {
	Value    uint64
	Interval uint64
}

// SetITimer implements setitimer(2) for which == ITIMER_REAL; any
// other which returns ENOSYS.
func SetITimer(t *task.Task, which int, v ITimerVal, now uint64) (ITimerVal, error) {
	if which != ITimerReal {
		return ITimerVal{}, errno.ENOSYS
	}
	old := ITimerVal{}
	if t.ItimerReal.At != 0 {
		old.Value = t.ItimerReal.At - now
	}
	old.Interval = t.ItimerReal.Reset

	if v.Value == 0 {
		t.ItimerReal.At = 0
	} else {
		t.ItimerReal.At = now + v.Value
	}
	t.ItimerReal.Reset = v.Interval
	return old, nil
}

// GetITimer implements getitimer(2) for ITIMER_REAL.
func GetITimer(t *task.Task, now uint64) ITimerVal {
	var v ITimerVal
	if t.ItimerReal.At != 0 && t.ItimerReal.At > now {
		v.Value = t.ItimerReal.At - now
	}
	v.Interval = t.ItimerReal.Reset
	return v
}

// CreateTimer implements timer_create(2): allocates the lowest free
// POSIX timer slot and records its signal and notify mode.
func CreateTimer(t *task.Task, signal int32, notify int32) (int32, error) {
	for i := range t.PosixTimers {
		if !t.PosixTimers[i].Live {
			t.PosixTimers[i] = task.PosixTimer{Live: true, Signal: signal, Notify: notify}
			return int32(i), nil
		}
	}
	return 0, errno.ENOMEM
}

// SetTimer implements timer_settime(2).
func SetTimer(t *task.Task, id int32, v ITimerVal, now uint64) (ITimerVal, error) {
	pt, err := timerSlot(t, id)
	if err != nil {
		return ITimerVal{}, err
	}
	old := ITimerVal{Interval: pt.Interval}
	if pt.ExpireAt != 0 {
		old.Value = pt.ExpireAt - now
	}
	if v.Value == 0 {
		pt.ExpireAt = 0
	} else {
		pt.ExpireAt = now + v.Value
	}
	pt.Interval = v.Interval
	return old, nil
}

// GetTimer implements timer_gettime(2).
func GetTimer(t *task.Task, id int32, now uint64) (ITimerVal, error) {
	pt, err := timerSlot(t, id)
	if err != nil {
		return ITimerVal{}, err
	}
	var v ITimerVal
	if pt.ExpireAt != 0 && pt.ExpireAt > now {
		v.Value = pt.ExpireAt - now
	}
	v.Interval = pt.Interval
	return v, nil
}

func timerSlot(t *task.Task, id int32) (*task.PosixTimer, error) {
	if id < 0 || int(id) >= task.MaxPosixTimers || !t.PosixTimers[id].Live {
		return nil, errno.EINVAL
	}
	return &t.PosixTimers[id], nil
}
