package task

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/wenxuanjun/naos/kernel/arch"
	"github.com/wenxuanjun/naos/kernel/klog"
)

// hostedContext is the arch.Context stand-in used when no real
// architecture layer is wired (tests, cmd/naosctl's simulated
// session). It only remembers the values a real context would carry
// registers for.
type hostedContext struct {
	tls   uint64
	sp    uint64
	entry uint64
}

func (c *hostedContext) SetTLS(addr uint64)     { c.tls = addr }
func (c *hostedContext) SetUserStack(sp uint64) { c.sp = sp }
func (c *hostedContext) Free()                  {}

// HostedLayer is a mutex-backed stand-in for arch.Layer: it has no
// real interrupt mask or register file, so DisableInterrupts and
// EnableInterrupts lock and unlock a mutex. The task/lifecycle logic
// in this package does not call them; it guards its state with the
// table's and each task's own mutexes.
type HostedLayer struct {
	mu sync.Mutex
}

func NewHostedLayer() *HostedLayer { return &HostedLayer{} }

func (l *HostedLayer) NewKernelContext(kernelPageTableRoot, kernelEntry, kernelStackTop, arg uint64) arch.Context {
	return &hostedContext{sp: kernelStackTop, entry: kernelEntry}
}

func (l *HostedLayer) CopyContext(parent arch.Context, childKernelStackTop uint64, flags arch.CloneFlags) arch.Context {
	p, _ := parent.(*hostedContext)
	child := &hostedContext{sp: childKernelStackTop}
	if p != nil {
		child.entry = p.entry
		child.tls = p.tls
	}
	return child
}

func (l *HostedLayer) ReplaceImage(ctx arch.Context, userEntry, userStack uint64) {
	c, ok := ctx.(*hostedContext)
	if !ok {
		return
	}
	c.entry = userEntry
	c.sp = userStack
}

func (l *HostedLayer) DisableInterrupts() { l.mu.Lock() }
func (l *HostedLayer) EnableInterrupts()  { l.mu.Unlock() }
func (l *HostedLayer) Pause()             { runtime.Gosched() }

// HostedFrames hands out monotonically increasing fake stack-top
// addresses; it never actually backs them with memory, which is fine
// since the hosted build never dereferences them.
type HostedFrames struct {
	next uint64
}

func NewHostedFrames(base uint64) *HostedFrames { return &HostedFrames{next: base} }

func (f *HostedFrames) AllocStackTop(size uint64) (uint64, error) {
	top := atomic.AddUint64(&f.next, size)
	return top, nil
}

func (f *HostedFrames) FreeStack(top uint64, size uint64) {}

// HostedSockets logs lifecycle notifications instead of waking a real
// socket/pipe subsystem.
type HostedSockets struct{}

func (HostedSockets) OnNewTask(pid int32)  { klog.Task(pid).Debug("socket subsystem notified: new task") }
func (HostedSockets) OnTaskExit(pid int32) { klog.Task(pid).Debug("socket subsystem notified: task exit") }
