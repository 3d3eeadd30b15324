// Package flock implements process-granularity advisory whole-file
// locking: LOCK_SH/LOCK_EX/LOCK_UN, optionally combined with LOCK_NB.
// Lock state itself lives on the vfs.Node (vfs.FileLock); this package
// only holds the blocking/wake machinery, a condition variable per
// vfs.Node rather than a busy-wait loop on a flag.
package flock

import (
	"sync"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

const (
	LockSH = 1
	LockEX = 2
	LockNB = 4
	LockUN = 8
)

// Waiters hands out a condition variable per node so Unlock can wake
// blocked Lock callers without a busy-wait.
type Waiters struct {
	mu   sync.Mutex
	cond map[vfs.Node]*sync.Cond
}

func NewWaiters() *Waiters {
	return &Waiters{cond: make(map[vfs.Node]*sync.Cond)}
}

func (w *Waiters) condFor(n vfs.Node) *sync.Cond {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.cond[n]
	if !ok {
		c = sync.NewCond(&sync.Mutex{})
		w.cond[n] = c
	}
	return c
}

// available reports whether op can be granted immediately given the
// lock currently held on n: SH is blocked only by another PID's EX;
// EX is blocked by any other lock at all.
func available(lk *vfs.FileLock, pid int32, op int) bool {
	if lk.Type == vfs.FUnlck || lk.PID == pid {
		return true
	}
	if op == LockSH {
		return lk.Type != vfs.FWrlck
	}
	return false
}

// Lock implements flock(2)'s acquire path. It returns EWOULDBLOCK
// immediately for a non-blocking request that cannot be granted, and
// otherwise waits on the node's condition variable until the lock is
// released or already owned by pid.
func (w *Waiters) Lock(n vfs.Node, pid int32, op int) error {
	mode := op &^ LockNB
	nonBlocking := op&LockNB != 0

	lk := n.Lock()
	c := w.condFor(n)

	c.L.Lock()
	defer c.L.Unlock()
	for !available(lk, pid, mode) {
		if nonBlocking {
			return errno.EWOULDBLOCK
		}
		c.Wait()
	}
	if mode == LockSH {
		lk.Type = vfs.FRdlck
	} else {
		lk.Type = vfs.FWrlck
	}
	lk.PID = pid
	return nil
}

// ReleaseOwned drops any lock pid holds on n and wakes blocked Lock
// callers. close(2) routes through here rather than Unlock: releasing
// on close is a no-op when pid does not own the lock, not EACCES, and
// it must still broadcast so a waiter does not sleep past the release.
func (w *Waiters) ReleaseOwned(n vfs.Node, pid int32) {
	lk := n.Lock()
	c := w.condFor(n)

	c.L.Lock()
	defer c.L.Unlock()
	if lk.Type == vfs.FUnlck || lk.PID != pid {
		return
	}
	lk.Type = vfs.FUnlck
	lk.PID = 0
	c.Broadcast()
}

// Unlock implements flock(2)'s LOCK_UN path: only the owning PID may
// release, and doing so wakes anyone blocked in Lock for this node.
func (w *Waiters) Unlock(n vfs.Node, pid int32) error {
	lk := n.Lock()
	c := w.condFor(n)

	c.L.Lock()
	defer c.L.Unlock()
	if lk.Type == vfs.FUnlck {
		return nil
	}
	if lk.PID != pid {
		return errno.EACCES
	}
	lk.Type = vfs.FUnlck
	lk.PID = 0
	c.Broadcast()
	return nil
}

// Flock dispatches an flock(2) call by op bits.
func (w *Waiters) Flock(n vfs.Node, pid int32, op int) error {
	if op&LockUN != 0 {
		return w.Unlock(n, pid)
	}
	switch op &^ LockNB {
	case LockSH, LockEX:
		return w.Lock(n, pid, op)
	default:
		return errno.EINVAL
	}
}
