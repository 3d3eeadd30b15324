package task

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/wenxuanjun/naos/kernel/arch"
	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/fdtable"
	"github.com/wenxuanjun/naos/kernel/flock"
	"github.com/wenxuanjun/naos/kernel/klog"
	"github.com/wenxuanjun/naos/kernel/vfs"

	"github.com/google/uuid"
)

// MaxTaskNum and MaxCPUNum size the fixed task-table arrays.
const (
	MaxTaskNum = 4096
	MaxCPUNum  = 32
)

// StackSize is the fixed kernel/syscall stack size task_create
// allocates.
const StackSize = 64 * 1024

// execLock serializes exec as a real sleep lock rather than a
// busy-wait spin gate. Token is an opaque per-acquisition id, useful
// only for log correlation.
type execLock struct {
	mu     sync.Mutex
	holder int32
	token  uuid.UUID
}

func (l *execLock) acquire(pid int32) {
	l.mu.Lock()
	l.holder = pid
	l.token = uuid.New()
	klog.Task(pid).WithField("exec_token", l.token).Debug("exec lock acquired")
}

func (l *execLock) release() {
	l.holder = 0
	l.mu.Unlock()
}

// Table is the task table: a fixed tasks[MaxTaskNum] array plus one
// idle task per CPU, alongside the external collaborators the
// lifecycle operations drive (arch layer, frame allocator, VFS
// backend, socket notifier).
type Table struct {
	mu     sync.Mutex
	tasks  [MaxTaskNum]*Task
	idle   [MaxCPUNum]*Task
	cpuIdx uint32
	numCPU int

	// sem bounds live numbered PID slots at MaxTaskNum-1 (PID 0 is
	// reserved for idle tasks), so slot exhaustion and the NPROC rlimit
	// ceiling report through the same path the descriptor table uses
	// for NOFILE.
	sem *semaphore.Weighted

	canSchedule bool
	jiffies     uint64

	// BootID identifies this bring-up of the table in logs, stamped
	// once at construction.
	BootID uuid.UUID

	Backend vfs.Backend
	Layer   arch.Layer
	Frames  arch.FrameAllocator
	Sockets arch.SocketNotifier

	exec  execLock
	locks *flock.Waiters

	kernelPageTableRoot uint64
}

// NewTable wires the task table to its external collaborators. Pass
// numCPU as the number of logical CPUs to bring up idle tasks for.
func NewTable(numCPU int, backend vfs.Backend, layer arch.Layer, frames arch.FrameAllocator, sockets arch.SocketNotifier) *Table {
	tb := &Table{
		numCPU:      numCPU,
		sem:         semaphore.NewWeighted(MaxTaskNum - 1),
		canSchedule: true,
		BootID:      uuid.New(),
		Backend:     backend,
		Layer:       layer,
		Frames:      frames,
		Sockets:     sockets,
		locks:       flock.NewWaiters(),
	}
	klog.L.WithField("boot_id", tb.BootID).Info("task table initialized")
	return tb
}

// LockWaiters returns the flock wait machinery shared by every task
// this table creates. The flock(2) syscall path and close-time lock
// release both go through it, so a release from either side wakes the
// same blocked callers.
func (tb *Table) LockWaiters() *flock.Waiters {
	return tb.locks
}

// newSlotLocked implements the task table's slot allocator:
// lowest-index free slot, preferring an idle-task slot (pid 0) if the
// bring-up phase hasn't filled every CPU's yet, otherwise the first
// free non-zero PID index. Must be called with mu held.
func (tb *Table) newSlotLocked() (*Task, error) {
	for cpu := 0; cpu < tb.numCPU; cpu++ {
		if tb.idle[cpu] == nil {
			t := &Task{PID: 0, CPUID: uint32(cpu)}
			t.cond = sync.NewCond(&t.mu)
			tb.idle[cpu] = t
			return t, nil
		}
	}
	if !tb.sem.TryAcquire(1) {
		return nil, errno.ENOMEM
	}
	for pid := 1; pid < MaxTaskNum; pid++ {
		if tb.tasks[pid] == nil {
			t := &Task{PID: int32(pid)}
			t.CPUID = tb.cpuIdx % uint32(tb.numCPU)
			tb.cpuIdx++
			t.cond = sync.NewCond(&t.mu)
			tb.tasks[pid] = t
			return t, nil
		}
	}
	tb.sem.Release(1)
	return nil, errno.ENOMEM
}

// Get returns the live task at pid, or nil.
func (tb *Table) Get(pid int32) *Task {
	if pid < 0 || int(pid) >= MaxTaskNum {
		return nil
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.tasks[pid]
}

// Idle returns the idle task for a CPU.
func (tb *Table) Idle(cpu int) *Task {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if cpu < 0 || cpu >= MaxCPUNum {
		return nil
	}
	return tb.idle[cpu]
}

// reap nulls a DIED task's slot (or its idle slot, though idle tasks
// are never reaped in practice), matching waitpid's "null its slot"
// step.
func (tb *Table) reap(t *Task) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if t.PID == 0 {
		for cpu, it := range tb.idle {
			if it == t {
				tb.idle[cpu] = nil
			}
		}
		return
	}
	if int(t.PID) < MaxTaskNum && tb.tasks[t.PID] == t {
		tb.tasks[t.PID] = nil
		tb.sem.Release(1)
	}
}

func defaultRlimits() [numRlimits]Rlimit {
	var r [numRlimits]Rlimit
	r[RlimitNPROC] = Rlimit{Cur: 0, Max: MaxTaskNum}
	r[RlimitNOFILE] = Rlimit{Cur: fdtable.MaxFD, Max: fdtable.MaxFD}
	r[RlimitCore] = Rlimit{Cur: 0, Max: 0}
	return r
}

// installStdio opens /dev/stdin, /dev/stdout, /dev/stderr against the
// backend and installs them as t's FDs 0/1/2.
func installStdio(ctx context.Context, backend vfs.Backend, fds *fdtable.Table) error {
	names := []string{"/dev/stdin", "/dev/stdout", "/dev/stderr"}
	handles := make([]*fdtable.Handle, 3)
	for i, name := range names {
		n, err := backend.Resolve(ctx, backend.Root(), name)
		if err != nil {
			return err
		}
		n.Ref()
		handles[i] = &fdtable.Handle{Node: n}
	}
	fds.SetStdio(handles[0], handles[1], handles[2])
	return nil
}

// Create implements task_create: a self-parented kernel task, state
// READY, default termios and rlimits, CWD at the backend root.
func (tb *Table) Create(name string, kernelEntry, arg uint64) (*Task, error) {
	tb.mu.Lock()
	t, err := tb.newSlotLocked()
	tb.mu.Unlock()
	if err != nil {
		return nil, err
	}

	kstack, err := tb.Frames.AllocStackTop(StackSize)
	if err != nil {
		return nil, err
	}
	sstack, err := tb.Frames.AllocStackTop(StackSize)
	if err != nil {
		tb.Frames.FreeStack(kstack, StackSize)
		return nil, err
	}

	t.Name = truncName(name)
	t.PPID = t.PID
	t.PGID = t.PID
	t.KernelStack = kstack
	t.SyscallStack = sstack
	t.ArchContext = tb.Layer.NewKernelContext(tb.kernelPageTableRoot, kernelEntry, kstack, arg)
	t.setState(Ready)
	t.CurrentState = Ready
	t.CWD = tb.Backend.Root()
	t.FDs = fdtable.New()
	t.FDs.SetLocks(tb.locks)
	if err := installStdio(context.Background(), tb.Backend, t.FDs); err != nil {
		return nil, err
	}
	t.Term = defaultTermios()
	t.Rlim = defaultRlimits()

	tb.Sockets.OnNewTask(t.PID)
	klog.Task(t.PID).WithField("name", t.Name).Info("task created")
	return t, nil
}

func truncName(name string) string {
	if len(name) > TaskNameMax {
		return name[:TaskNameMax]
	}
	return name
}

// Boot brings up numCPU idle tasks (their PIDs are all reserved as 0)
// and then one init task, matching task_init's bring-up order: idle
// slots fill first because newSlotLocked prefers them. Idle tasks come
// up RUNNING on their own CPU; only init starts READY.
func (tb *Table) Boot(idleEntry, initEntry uint64) (*Task, error) {
	for cpu := 0; cpu < tb.numCPU; cpu++ {
		idle, err := tb.Create("idle", idleEntry, 0)
		if err != nil {
			return nil, err
		}
		idle.setState(Running)
		idle.CurrentState = Running
	}
	return tb.Create("init", initEntry, 0)
}

// SetCanSchedule gates preemption: the tick handler consults it
// before switching tasks, so critical sections can fence the scheduler
// off without touching the arch interrupt mask.
func (tb *Table) SetCanSchedule(v bool) {
	tb.mu.Lock()
	tb.canSchedule = v
	tb.mu.Unlock()
}

// CanSchedule reports whether the scheduler tick may preempt.
func (tb *Table) CanSchedule() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.canSchedule
}

// Tick advances the global jiffy counter and returns the new value.
// It does not fire timers itself: kernel/timer's Sweep, called by the
// tick driver, walks the table's live tasks via Each.
func (tb *Table) Tick() uint64 {
	tb.mu.Lock()
	tb.jiffies++
	j := tb.jiffies
	tb.mu.Unlock()
	return j
}

func (tb *Table) Jiffies() uint64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.jiffies
}

// Each calls fn for every live (non-nil) task, idle tasks included.
// Used by kernel/timer's per-tick sweep.
func (tb *Table) Each(fn func(*Task)) {
	tb.mu.Lock()
	snapshot := make([]*Task, 0, MaxTaskNum)
	for _, t := range tb.tasks {
		if t != nil {
			snapshot = append(snapshot, t)
		}
	}
	for _, t := range tb.idle {
		if t != nil {
			snapshot = append(snapshot, t)
		}
	}
	tb.mu.Unlock()
	for _, t := range snapshot {
		fn(t)
	}
}
