package task

import (
	"context"
	"strings"

	"github.com/wenxuanjun/naos/kernel/arch"
	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/fdtable"
	"github.com/wenxuanjun/naos/kernel/klog"
)

// inheritCommon copies the fields fork and clone both inherit from
// parent into child: identity, termios, rlimits, signal state.
func inheritCommon(parent, child *Task) {
	child.Name = parent.Name
	child.Cmdline = parent.Cmdline
	child.UID, child.GID = parent.UID, parent.GID
	child.EUID, child.EGID = parent.EUID, parent.EGID
	child.PGID = parent.PGID
	child.CWD = parent.CWD
	child.Term = parent.Term
	child.Rlim = parent.Rlim
	child.Actions = parent.Actions
	child.Blocked = parent.Blocked
	child.Pending = parent.Pending
	child.TmpRecV = parent.TmpRecV
}

func (tb *Table) allocChildStacks() (kstack, sstack uint64, err error) {
	kstack, err = tb.Frames.AllocStackTop(StackSize)
	if err != nil {
		return 0, 0, err
	}
	sstack, err = tb.Frames.AllocStackTop(StackSize)
	if err != nil {
		tb.Frames.FreeStack(kstack, StackSize)
		return 0, 0, err
	}
	return kstack, sstack, nil
}

// Fork implements fork(2)/vfork(2). When vfork is true
// the arch layer shares the parent's page table (CLONE_VM) and the FD
// table starts with only stdio reopened; otherwise FDs 3..N are duped
// from the parent via the VFS.
func (tb *Table) Fork(ctx context.Context, parent *Task, vfork bool) (*Task, error) {
	tb.mu.Lock()
	child, err := tb.newSlotLocked()
	tb.mu.Unlock()
	if err != nil {
		return nil, err
	}

	kstack, sstack, err := tb.allocChildStacks()
	if err != nil {
		return nil, err
	}

	var flags arch.CloneFlags
	if vfork {
		flags |= arch.CloneVM
	}
	child.KernelStack = kstack
	child.SyscallStack = sstack
	child.ArchContext = tb.Layer.CopyContext(parent.ArchContext, kstack, flags)
	child.PPID = parent.PID
	inheritCommon(parent, child)

	child.FDs = fdtable.New()
	child.FDs.SetLocks(tb.locks)
	if err := installStdio(ctx, tb.Backend, child.FDs); err != nil {
		return nil, err
	}
	if !vfork {
		cloned, err := parent.FDs.Clone(ctx, tb.Backend)
		if err != nil {
			return nil, err
		}
		cloned.ForEachFrom(3, func(fd int, h *fdtable.Handle) {
			child.FDs.AllocAt(fd, h)
		})
	}

	child.setState(Ready)
	child.CurrentState = Ready
	tb.Sockets.OnNewTask(child.PID)
	klog.Task(child.PID).WithField("ppid", parent.PID).WithField("vfork", vfork).Info("forked")
	return child, nil
}

// Clone implements clone(2). Unlike Fork it is driven
// by explicit flags, dups the whole FD table (0..N, not just 3..N),
// optionally overrides the child's user stack pointer, sets TLS, and
// honors CLONE_SIGHAND/CLONE_PARENT_SETTID/CLONE_CHILD_SETTID.
func (tb *Table) Clone(ctx context.Context, parent *Task, flags arch.CloneFlags, newsp, tls uint64, parentTID, childTID *int32) (*Task, error) {
	tb.mu.Lock()
	child, err := tb.newSlotLocked()
	tb.mu.Unlock()
	if err != nil {
		return nil, err
	}

	kstack, sstack, err := tb.allocChildStacks()
	if err != nil {
		return nil, err
	}
	child.KernelStack = kstack
	child.SyscallStack = sstack
	child.ArchContext = tb.Layer.CopyContext(parent.ArchContext, kstack, flags)
	if newsp != 0 {
		child.ArchContext.SetUserStack(newsp)
	}
	if flags&arch.CloneSetTLS != 0 {
		child.ArchContext.SetTLS(tls)
	}

	child.PPID = parent.PID
	inheritCommon(parent, child)

	if flags&arch.CloneSighand != 0 {
		child.Actions = parent.Actions
		child.Pending = parent.Pending
		child.Blocked = parent.Blocked
	} else {
		child.Actions = [numSignals]SigAction{}
	}

	dup, err := parent.FDs.CloneFull(ctx, tb.Backend)
	if err != nil {
		return nil, err
	}
	child.FDs = dup

	if flags&arch.CloneParentSettid != 0 && parentTID != nil {
		*parentTID = child.PID
	}
	if flags&arch.CloneChildSettid != 0 && childTID != nil {
		*childTID = child.PID
	}

	child.setState(Ready)
	child.CurrentState = Ready
	tb.Sockets.OnNewTask(child.PID)
	klog.Task(child.PID).WithField("ppid", parent.PID).Info("cloned")
	return child, nil
}

// Exit implements exit(2): free resources, store the
// encoded status, wake a waitpid-blocked parent, mark DIED, and pick
// the next runnable task on this CPU.
func (tb *Table) Exit(t *Task, code int32) *Task {
	t.ArchContext.Free()
	tb.Frames.FreeStack(t.KernelStack, StackSize)
	tb.Frames.FreeStack(t.SyscallStack, StackSize)
	t.FDs.CloseAll(t.PID)

	status := encodeExitStatus(code)

	t.mu.Lock()
	t.Status = status
	waiter := t.WaitPID
	t.state = Died
	t.CurrentState = Died
	t.mu.Unlock()

	if waiter != 0 {
		if p := tb.Get(waiter); p != nil {
			p.Unblock(t.PID)
		}
	}
	t.Cmdline = ""
	tb.Sockets.OnTaskExit(t.PID)
	klog.Task(t.PID).WithField("status", status).Info("exited")

	next := tb.Search(Ready, t.CPUID, t.PID)
	return next
}

// encodeExitStatus applies the POSIX-style packing: (status & 0xff)
// << 8 for a normal exit below 128, or (status-128) | (0x80 << 8) to
// encode death by signal.
func encodeExitStatus(status int32) int32 {
	if status < 128 {
		return (status & 0xff) << 8
	}
	return (status - 128) | (0x80 << 8)
}

// Waitpid implements waitpid(2). pid == -1 means any
// child, 0 means any child sharing the caller's pgid, >0 a specific
// PID. WNOHANG is the only option bit this core interprets.
const WNOHANG = 1

func (tb *Table) Waitpid(caller *Task, pid int32, nohang bool) (reapedPID int32, status int32, err error) {
	for {
		var match *Task
		var anyChild bool

		// One pass under the table lock: find a reapable child, or mark
		// every matching live child's waitpid field before the lock
		// drops. Marking in the same pass means a child that dies the
		// instant after the scan already knows who to unblock.
		tb.mu.Lock()
		for _, cand := range tb.tasks {
			if cand == nil || cand == caller || cand.PPID != caller.PID {
				continue
			}
			if pid > 0 && cand.PID != pid {
				continue
			}
			if pid == 0 && cand.PGID != caller.PGID {
				continue
			}
			anyChild = true
			if cand.observeOrSubscribe(caller.PID, nohang) {
				match = cand
				break
			}
		}
		tb.mu.Unlock()

		if !anyChild {
			return 0, 0, errno.ECHILD
		}
		if match != nil {
			tb.reap(match)
			return match.PID, match.Status, nil
		}
		if nohang {
			return 0, 0, nil
		}

		caller.Block()
	}
}

// observeOrSubscribe atomically checks whether t has died and, if it
// hasn't, records waiter as the PID exit must unblock. Exit marks
// DIED and reads the waiter field in one critical section on the same
// lock, so it either sees the subscription or is seen as dead; there
// is no window where both miss each other.
func (t *Task) observeOrSubscribe(waiter int32, nohang bool) (died bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Died {
		return true
	}
	if !nohang {
		t.WaitPID = waiter
	}
	return false
}

// buildExecCmdline joins argv the way exec sets Task.Cmdline.
func buildExecCmdline(argv []string) string {
	return strings.Join(argv, " ")
}
