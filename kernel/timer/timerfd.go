package timer

import (
	"sync"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/fdtable"
	"github.com/wenxuanjun/naos/kernel/task"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

// TimerFD is the state behind one timerfd: an expiration counter
// readable as a 64-bit word, plus the same {expires, interval} jiffy
// pair the other timers here use.
type TimerFD struct {
	Count    uint64
	ExpireAt uint64
	Interval uint64
}

// TimerFDs maps a timerfd's backing VFS node to its state. Keying by
// node rather than by descriptor slot means dup and fork (which share
// the node) see the same counter, while the per-tick sweep still walks
// descriptor tables so every timerfd-bound FD is visited.
type TimerFDs struct {
	mu     sync.Mutex
	byNode map[vfs.Node]*TimerFD
}

func NewTimerFDs() *TimerFDs {
	return &TimerFDs{byNode: make(map[vfs.Node]*TimerFD)}
}

// Bind registers n as a timerfd node with a disarmed timer, the
// timerfd_create(2) half of the lifecycle.
func (r *TimerFDs) Bind(n vfs.Node) *TimerFD {
	r.mu.Lock()
	defer r.mu.Unlock()
	tfd := &TimerFD{}
	r.byNode[n] = tfd
	return tfd
}

// Unbind drops n's timerfd state, for close(2) of the last descriptor.
func (r *TimerFDs) Unbind(n vfs.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byNode, n)
}

func (r *TimerFDs) lookupLocked(n vfs.Node) (*TimerFD, error) {
	tfd, ok := r.byNode[n]
	if !ok {
		return nil, errno.EINVAL
	}
	return tfd, nil
}

// SetTime arms or disarms n's timer, timerfd_settime(2) style, and
// returns the previous setting.
func (r *TimerFDs) SetTime(n vfs.Node, v ITimerVal, now uint64) (ITimerVal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tfd, err := r.lookupLocked(n)
	if err != nil {
		return ITimerVal{}, err
	}
	old := ITimerVal{Interval: tfd.Interval}
	if tfd.ExpireAt != 0 && tfd.ExpireAt > now {
		old.Value = tfd.ExpireAt - now
	}
	if v.Value == 0 {
		tfd.ExpireAt = 0
	} else {
		tfd.ExpireAt = now + v.Value
	}
	tfd.Interval = v.Interval
	return old, nil
}

// GetTime reports n's current setting, timerfd_gettime(2) style.
func (r *TimerFDs) GetTime(n vfs.Node, now uint64) (ITimerVal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tfd, err := r.lookupLocked(n)
	if err != nil {
		return ITimerVal{}, err
	}
	var v ITimerVal
	if tfd.ExpireAt != 0 && tfd.ExpireAt > now {
		v.Value = tfd.ExpireAt - now
	}
	v.Interval = tfd.Interval
	return v, nil
}

// ReadCount returns and clears n's expiration counter, the read(2)
// semantics a timerfd descriptor has.
func (r *TimerFDs) ReadCount(n vfs.Node) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tfd, err := r.lookupLocked(n)
	if err != nil {
		return 0, err
	}
	c := tfd.Count
	tfd.Count = 0
	return c, nil
}

// sweepTask ticks every timerfd-bound FD in t's descriptor table:
// expired timers increment the counter and rearm with the interval or
// clear.
func (r *TimerFDs) sweepTask(t *task.Task, now uint64) {
	if t.FDs == nil {
		return
	}
	t.FDs.ForEachFrom(0, func(fd int, h *fdtable.Handle) {
		r.mu.Lock()
		defer r.mu.Unlock()
		tfd, ok := r.byNode[h.Node]
		if !ok || tfd.ExpireAt == 0 || tfd.ExpireAt > now {
			return
		}
		tfd.Count++
		if tfd.Interval != 0 {
			tfd.ExpireAt += tfd.Interval
		} else {
			tfd.ExpireAt = 0
		}
	})
}
