// Package futex implements FUTEX_WAIT/FUTEX_WAKE. A hash table keyed
// by user address replaces an intrusive linked list walked under a
// single spinlock; this package keeps the externally observable
// contract (FIFO wake order among waiters on the same address, WAKE
// unblocking up to val matches) while using a map-of-queues guarded by
// one mutex instead.
package futex

import (
	"context"
	"sync"

	"github.com/wenxuanjun/naos/kernel/errno"
)

// Word reads the current value of the user word at addr. A real
// kernel backs this with a checked user-memory read; this core takes
// it as a collaborator so callers can supply either a real
// address-space reader or, in tests, a plain map.
type Word interface {
	Load(addr uint64) (uint32, error)
}

type waiter struct {
	pid  int32
	addr uint64
	wake chan struct{}
}

// Table is the futex wait-queue table: one FIFO queue per address,
// guarded by a single mutex rather than a spinlock over one shared
// list.
type Table struct {
	mu    sync.Mutex
	queue map[uint64][]*waiter
}

func New() *Table {
	return &Table{queue: make(map[uint64][]*waiter)}
}

// Wait implements FUTEX_WAIT: if the word at addr does not equal val,
// returns EWOULDBLOCK immediately; otherwise enqueues this waiter and
// blocks until woken or ctx is done. timeout is accepted for
// signature compatibility but intentionally not consulted.
func (t *Table) Wait(ctx context.Context, w Word, pid int32, addr uint64, val uint32, timeoutNanos int64) error {
	cur, err := w.Load(addr)
	if err != nil {
		return err
	}
	if cur != val {
		return errno.EWOULDBLOCK
	}

	wt := &waiter{pid: pid, addr: addr, wake: make(chan struct{})}
	t.mu.Lock()
	t.queue[addr] = append(t.queue[addr], wt)
	t.mu.Unlock()

	select {
	case <-wt.wake:
		return nil
	case <-ctx.Done():
		t.remove(wt)
		return errno.EINTR
	}
}

func (t *Table) remove(target *waiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queue[target.addr]
	for i, w := range q {
		if w == target {
			t.queue[target.addr] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// Wake implements FUTEX_WAKE: unblocks up to val waiters on addr, in
// enqueue order, and reports how many were woken.
func (t *Table) Wake(addr uint64, val int32) int32 {
	t.mu.Lock()
	q := t.queue[addr]
	n := val
	if int32(len(q)) < n {
		n = int32(len(q))
	}
	woken := q[:n]
	t.queue[addr] = q[n:]
	t.mu.Unlock()

	for _, w := range woken {
		close(w.wake)
	}
	return n
}
