package syscalls

import (
	"context"

	"github.com/wenxuanjun/naos/kernel/arch"
	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/flock"
	"github.com/wenxuanjun/naos/kernel/futex"
	"github.com/wenxuanjun/naos/kernel/klog"
	"github.com/wenxuanjun/naos/kernel/task"
)

// Flock implements flock(2) by resolving fd to its node and
// delegating to kernel/flock.
func Flock(w *flock.Waiters, t *task.Task, fd int, op int) error {
	h, err := t.FDs.Get(fd)
	if err != nil {
		return err
	}
	return w.Flock(h.Node, t.PID, op)
}

// FUTEX_* operations this core understands; anything else reports
// ENOSYS.
const (
	FutexWait = 0
	FutexWake = 1
)

// Futex implements futex(2)'s WAIT/WAKE subset.
func Futex(ctx context.Context, ft *futex.Table, w futex.Word, t *task.Task, uaddr uint64, op int32, val uint32, timeoutNanos int64) (int32, error) {
	if err := CheckUserRange(uaddr, 4); err != nil {
		return 0, err
	}
	switch op {
	case FutexWait:
		if err := ft.Wait(ctx, w, t.PID, uaddr, val, timeoutNanos); err != nil {
			return 0, err
		}
		return 0, nil
	case FutexWake:
		return ft.Wake(uaddr, int32(val)), nil
	default:
		klog.Syscall(t.PID, "futex").WithField("op", op).Debug("unsupported op")
		return 0, errno.ENOSYS
	}
}

// Nanosleep implements one tick of nanosleep(2)'s signal-cancellation
// check: it polls SignalsPending once via poller and returns EINTR if
// a signal is pending, leaving *remaining untouched; otherwise it sets
// *remaining (when non-nil) to 0 and returns nil. It tracks no sleep
// duration itself, so it never reports a non-zero remaining time.
// Real tick-driven sleeping is done by the caller looping this call,
// so it composes with whatever drives the tick in the embedding
// program.
func Nanosleep(poller arch.SignalPoller, pid int32, remaining *uint64) error {
	if poller.SignalsPending(pid) {
		return errno.EINTR
	}
	if remaining != nil {
		*remaining = 0
	}
	return nil
}
