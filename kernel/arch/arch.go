// Package arch declares the architecture-layer and physical-frame
// collaborators this kernel core depends on but does not implement:
// context save/restore, page-table cloning, interrupt enable/disable,
// user-mode transfer, and the fixed-size stack/page allocator. Real
// boot glue supplies concrete implementations; the core only ever
// holds these as external collaborators, referenced by interface
// only.
package arch

// Context is the opaque saved machine state the arch layer owns
// (registers, page-table root, TLS pointer). The core never inspects
// its contents; it only asks the arch layer to create, copy, and
// eventually free one.
type Context interface {
	// SetTLS sets the thread-local-storage base register used by
	// CLONE_SETTLS.
	SetTLS(addr uint64)

	// SetUserStack overrides the user stack pointer the context will
	// resume at, used when clone(2) is given an explicit new stack.
	SetUserStack(sp uint64)

	// Free releases any resources (e.g. save areas) held by ctx.
	Free()
}

// CloneFlags mirrors the subset of Linux's clone(2) flags this core
// interprets directly; the remainder pass through to the arch layer
// uninterpreted.
type CloneFlags uint64

const (
	CloneVM           CloneFlags = 1 << 8
	CloneSighand      CloneFlags = 1 << 11
	CloneParentSettid CloneFlags = 1 << 20
	CloneSetTLS       CloneFlags = 1 << 19
	CloneChildSettid  CloneFlags = 1 << 24
)

// Layer is the architecture abstraction: context lifecycle,
// interrupt gating, and the transfer of control to user mode. A
// kernel-thread entry point and a user-mode entry point are both
// represented as opaque addresses (uint64) since the core never
// executes them itself.
type Layer interface {
	// NewKernelContext builds a context for a kernel thread created by
	// task.Create: it resumes at kernelEntry on kernelStackTop with a
	// single argument, using the kernel's own page-table root.
	NewKernelContext(kernelPageTableRoot, kernelEntry, kernelStackTop, arg uint64) Context

	// CopyContext clones parent into a context usable by a forked or
	// cloned child whose kernel stack top is childKernelStackTop.
	// flags carries CLONE_VM and friends through to the arch layer,
	// which decides whether the child's page table is shared or
	// copy-on-write cloned.
	CopyContext(parent Context, childKernelStackTop uint64, flags CloneFlags) Context

	// ReplaceImage discards ctx's current user-mode mappings (exec's
	// address-space replacement) and prepares ctx to resume at
	// userEntry with stack pointer userStack. Used only by exec.
	ReplaceImage(ctx Context, userEntry, userStack uint64)

	// DisableInterrupts and EnableInterrupts mask and unmask
	// interrupts on the local CPU. The task and descriptor tables in
	// this module guard their state with their own mutexes and do not
	// call them. A hosted Go build has no real interrupt mask; see
	// kernel/task.HostedLayer for the mutex-backed stand-in used by
	// tests.
	DisableInterrupts()
	EnableInterrupts()

	// Pause yields the CPU briefly without blocking the task;
	// task.Table.Yield delegates to it.
	Pause()
}

// AddressSpace is the page-mapping collaborator exec(2) drives while
// loading an ELF image: map pages at a virtual address with the given
// protection, and copy/zero-fill their contents. Decoding itself
// happens in kernel/elf, which calls back into this interface only to
// place bytes in the address space.
type AddressSpace interface {
	// MapUserPages maps [vaddr, vaddr+length) as readable user pages,
	// writable and executable as the two flags request, page-aligning
	// length up. It must be safe to call with length
	// spanning multiple pages.
	MapUserPages(vaddr, length uint64, writable, executable bool) error

	// Write copies data into the address space at vaddr. The range
	// must already be mapped by MapUserPages.
	Write(vaddr uint64, data []byte) error

	// Zero zero-fills [vaddr, vaddr+length) in the address space.
	Zero(vaddr, length uint64) error
}

// FrameAllocator supplies the fixed-size stack regions task.Create,
// task.Fork, and task.Clone need. AllocStackTop returns the top-of-stack
// address of a freshly zero-filled region of the given size, matching
// an `alloc_frames_bytes(STACK_SIZE) + STACK_SIZE` convention.
type FrameAllocator interface {
	AllocStackTop(size uint64) (top uint64, err error)
	FreeStack(top uint64, size uint64)
}

// SocketNotifier is notified of task lifecycle events the socket and
// pipe subsystems care about.
type SocketNotifier interface {
	OnNewTask(pid int32)
	OnTaskExit(pid int32)
}

// SignalPoller backs nanosleep's signal-cancellation check:
// signals_pending reports whether the given task has a deliverable
// signal waiting, without performing dispatch (dispatch is out of
// scope here).
type SignalPoller interface {
	SignalsPending(pid int32) bool
}
