// Package fdtable implements the per-task descriptor table: the
// mapping from a small integer FD to an open-file handle, and the
// open/openat/close/dup family/fcntl operations. Read/write/seek and
// the rest of the file I/O surface live in kernel/syscalls, which is
// built on top of this package.
package fdtable

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/flock"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

// MaxFD is MAX_FD_NUM: the hard upper bound on simultaneously open
// descriptors for one task.
const MaxFD = 256

// stdio slots are reserved; allocation always starts at 3.
const firstAllocatable = 3

// Handle is the open-file handle a descriptor-table slot holds. Node
// is borrowed from the owning Backend and reference-counted on the
// VFS side; Offset and Flags are owned by this handle alone.
type Handle struct {
	Node   vfs.Node
	Offset int64
	Flags  uint32
}

// O_* flag bits this core interprets directly (it forwards the rest
// of the low bits to the VFS backend uninterpreted).
const (
	OCloexec   = 0o2000000
	ONonblock  = 0o4000
	OAppend    = 0o2000
	ODirect    = 0o40000
	ONoatime   = 0o1000000
	OCreat     = 0o100
	ODirectory = 0o200000
)

// Table is one task's descriptor table: a fixed MaxFD array of handle
// references, slots 0/1/2 preassigned to stdin/stdout/stderr. A
// weighted semaphore bounds live slots at MaxFD the same way a task's
// NOFILE rlimit does, so allocation failure and rlimit exhaustion
// report through the same path.
type Table struct {
	mu    sync.Mutex
	slots [MaxFD]*Handle
	sem   *semaphore.Weighted
	live  int64
	locks *flock.Waiters
}

// New returns an empty table. Callers install stdio via SetStdio
// immediately after, matching task_create/task_fork's fresh
// /dev/std{in,out,err} opens.
func New() *Table {
	return &Table{sem: semaphore.NewWeighted(MaxFD), locks: flock.NewWaiters()}
}

// SetLocks points the table at a shared flock wait structure, so that
// close-time lock release broadcasts to the same condition variables
// the flock(2) path blocks on. The task table installs its own
// instance into every descriptor table it creates; cloned tables
// inherit it.
func (t *Table) SetLocks(w *flock.Waiters) {
	t.locks = w
}

// Locks returns the flock wait structure this table releases through.
func (t *Table) Locks() *flock.Waiters {
	return t.locks
}

// SetStdio installs stdin, stdout, stderr handles at slots 0, 1, 2.
func (t *Table) SetStdio(stdin, stdout, stderr *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.installLocked(0, stdin)
	t.installLocked(1, stdout)
	t.installLocked(2, stderr)
}

func (t *Table) installLocked(slot int, h *Handle) {
	if t.slots[slot] == nil && h != nil {
		t.sem.Acquire(context.Background(), 1)
		t.live++
	}
	t.slots[slot] = h
}

// Get returns the handle at fd, or EBADF if fd is out of range or the
// slot is empty.
func (t *Table) Get(fd int) (*Handle, error) {
	if fd < 0 || fd >= MaxFD {
		return nil, errno.EBADF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.slots[fd]
	if h == nil {
		return nil, errno.EBADF
	}
	return h, nil
}

// Alloc finds the lowest free slot at index >= firstAllocatable,
// installs h there, and returns the slot number. It returns EMFILE
// when the table (or the semaphore standing in for NOFILE) is full.
func (t *Table) Alloc(h *Handle) (int, error) {
	if !t.sem.TryAcquire(1) {
		return 0, errno.EMFILE
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := firstAllocatable; i < MaxFD; i++ {
		if t.slots[i] == nil {
			t.slots[i] = h
			t.live++
			return i, nil
		}
	}
	t.sem.Release(1)
	return 0, errno.EMFILE
}

// AllocAt installs h at an exact slot, used by dup2/dup3 once the
// target has been validated and vacated. The caller must have already
// closed any previous occupant of fd.
func (t *Table) AllocAt(fd int, h *Handle) error {
	if fd < 0 || fd >= MaxFD {
		return errno.EBADF
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slots[fd] == nil {
		if !t.sem.TryAcquire(1) {
			return errno.EMFILE
		}
		t.live++
	}
	t.slots[fd] = h
	return nil
}

// Close releases the handle at fd: drops any lock owned by pid
// (waking anyone blocked in flock for the node), decrements the
// node's VFS refcount, and nulls the slot.
func (t *Table) Close(fd int, pid int32) error {
	if fd < 0 || fd >= MaxFD {
		return errno.EBADF
	}
	t.mu.Lock()
	h := t.slots[fd]
	if h == nil {
		t.mu.Unlock()
		return errno.EBADF
	}
	t.slots[fd] = nil
	t.live--
	t.mu.Unlock()
	t.sem.Release(1)

	t.locks.ReleaseOwned(h.Node, pid)
	h.Node.Unref()
	return nil
}

// CloseAll closes every live slot, used by exit(2) and (for the
// O_CLOEXEC subset) exec(2).
func (t *Table) CloseAll(pid int32) {
	for i := 0; i < MaxFD; i++ {
		t.Close(i, pid)
	}
}

// CloseExec closes every slot whose handle has OCloexec set, matching
// exec(2)'s "closes FDs with O_CLOEXEC set, keeps the rest".
func (t *Table) CloseExec(pid int32) {
	for i := 0; i < MaxFD; i++ {
		t.mu.Lock()
		h := t.slots[i]
		t.mu.Unlock()
		if h != nil && h.Flags&OCloexec != 0 {
			t.Close(i, pid)
		}
	}
}

// Clone returns a new Table with every live slot 3..N duped through
// backend (fresh stdio must be installed separately by the caller),
// matching fork's non-vfork path.
func (t *Table) Clone(ctx context.Context, backend vfs.Backend) (*Table, error) {
	return t.cloneFrom(ctx, backend, firstAllocatable)
}

// CloneFull is Clone but starting at slot 0: clone(2) dups the full
// FD table and, unlike fork, does not reopen fresh stdio.
func (t *Table) CloneFull(ctx context.Context, backend vfs.Backend) (*Table, error) {
	return t.cloneFrom(ctx, backend, 0)
}

func (t *Table) cloneFrom(ctx context.Context, backend vfs.Backend, from int) (*Table, error) {
	out := New()
	out.locks = t.locks
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := from; i < MaxFD; i++ {
		h := t.slots[i]
		if h == nil {
			continue
		}
		dup, err := backend.Dup(ctx, h.Node)
		if err != nil {
			return nil, err
		}
		out.slots[i] = &Handle{Node: dup, Offset: h.Offset, Flags: h.Flags}
		out.sem.Acquire(ctx, 1)
		out.live++
	}
	return out, nil
}

// ForEachFrom calls fn for every live slot at index >= from, in slot
// order. Used to graft one table's duped handles into another's
// already-initialized stdio slots (kernel/task's fork path).
func (t *Table) ForEachFrom(from int, fn func(fd int, h *Handle)) {
	t.mu.Lock()
	type entry struct {
		fd int
		h  *Handle
	}
	var entries []entry
	for i := from; i < MaxFD; i++ {
		if t.slots[i] != nil {
			entries = append(entries, entry{i, t.slots[i]})
		}
	}
	t.mu.Unlock()
	for _, e := range entries {
		fn(e.fd, e.h)
	}
}

// Live reports the number of occupied slots, for tests and ps-style
// introspection.
func (t *Table) Live() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}
