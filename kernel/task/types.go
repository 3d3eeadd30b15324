// Package task implements the Task Table, the per-task execution and
// identity state, and the process lifecycle and scheduler hook
// surface.
package task

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wenxuanjun/naos/kernel/arch"
	"github.com/wenxuanjun/naos/kernel/fdtable"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

// State is one of the four points in the task lifecycle state
// machine: READY -> RUNNING -> {READY, BLOCKING, DIED}; BLOCKING ->
// READY via Unblock; DIED is terminal until reaped.
type State int32

const (
	Ready State = iota
	Running
	Blocking
	Died
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocking:
		return "BLOCKING"
	case Died:
		return "DIED"
	default:
		return "UNKNOWN"
	}
}

// RlimitResource indexes Task.Rlim.
type RlimitResource int

const (
	RlimitNPROC RlimitResource = iota
	RlimitNOFILE
	RlimitCore
	numRlimits
)

// Rlimit is a soft/hard resource limit pair.
type Rlimit struct {
	Cur uint64
	Max uint64
}

// NCCS is the number of termios control-character slots.
const NCCS = 32

// Termios mirrors the subset of struct termios this core cares about:
// canonical defaults with ECHO|ICANON|IEXTEN|ISIG set and the
// standard control-character codes for INTR/EOF/KILL/etc.
type Termios struct {
	Iflag uint32
	Oflag uint32
	Cflag uint32
	Lflag uint32
	Line  uint8
	Cc    [NCCS]byte
}

// defaultTermios reproduces task_create's termios initialization
// exactly, including which control characters are set and which are
// left zero.
func defaultTermios() Termios {
	var t Termios
	t.Iflag = unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
	t.Oflag = unix.OPOST
	t.Cflag = unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Lflag = unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
	t.Cc[unix.VINTR] = 3
	t.Cc[unix.VQUIT] = 28
	t.Cc[unix.VERASE] = 127
	t.Cc[unix.VKILL] = 21
	t.Cc[unix.VEOF] = 4
	t.Cc[unix.VTIME] = 0
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VSTART] = 17
	t.Cc[unix.VSTOP] = 19
	t.Cc[unix.VSUSP] = 26
	t.Cc[unix.VREPRINT] = 18
	t.Cc[unix.VDISCARD] = 15
	t.Cc[unix.VWERASE] = 23
	t.Cc[unix.VLNEXT] = 22
	return t
}

// SigAction is one entry of a task's per-signal action table. Signal
// dispatch itself is out of scope here; the core only stores and
// inherits this table across fork/clone.
type SigAction struct {
	Handler uintptr
	Flags   uint64
	Mask    uint64
}

const numSignals = 64

// MaxPosixTimers bounds the per-task POSIX timer array.
const MaxPosixTimers = 16

// PosixTimer is one timer_create(2)/timer_settime(2) slot.
type PosixTimer struct {
	Live     bool
	Signal   int32
	Notify   int32
	ExpireAt uint64 // jiffies
	Interval uint64 // jiffies
}

// Itimer is a real interval timer expressed in jiffies as an
// `{at, reset}` pair.
type Itimer struct {
	At    uint64
	Reset uint64
}

// TaskNameMax bounds Task.Name, matching TASK_NAME_MAX.
const TaskNameMax = 64

// Task is the process descriptor: one per live process, stored by PID
// (the task table index).
type Task struct {
	mu sync.Mutex

	PID  int32
	PPID int32
	PGID int32
	UID  uint32
	GID  uint32
	EUID uint32
	EGID uint32

	Name    string
	Cmdline string

	CPUID        uint32
	state        State
	CurrentState State
	Jiffies      uint64

	KernelStack  uint64
	SyscallStack uint64
	ArchContext  arch.Context

	MmapStart uint64
	BrkStart  uint64
	BrkEnd    uint64
	LoadStart uint64
	LoadEnd   uint64

	CWD vfs.Node
	FDs *fdtable.Table

	Pending uint64
	Blocked uint64
	Actions [numSignals]SigAction
	WaitPID int32
	Status  int32

	// TmpRecV is an opaque scratch word the signal-return path owns.
	// The core only zeroes it at creation and carries it across fork
	// and clone.
	TmpRecV uint64

	Term Termios

	Rlim [numRlimits]Rlimit

	ItimerReal  Itimer
	PosixTimers [MaxPosixTimers]PosixTimer

	cond        *sync.Cond
	wakePending bool
}

// State returns the task's current scheduling state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
