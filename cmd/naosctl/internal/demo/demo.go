// Package demo runs a scripted session against the task/file-descriptor
// core using the in-memory reference VFS backend and the hosted arch
// stand-ins: an exit-code round trip through fork/exit/waitpid, flock
// contention, a ticking timerfd, and a futex ping.
package demo

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wenxuanjun/naos/kernel/fdtable"
	"github.com/wenxuanjun/naos/kernel/flock"
	"github.com/wenxuanjun/naos/kernel/futex"
	"github.com/wenxuanjun/naos/kernel/task"
	"github.com/wenxuanjun/naos/kernel/timer"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

func Run(numCPU int, out io.Writer) error {
	ctx := context.Background()
	backend := vfs.NewMemBackend()
	layer := task.NewHostedLayer()
	frames := task.NewHostedFrames(0x1000_0000)
	sockets := task.HostedSockets{}

	tb := task.NewTable(numCPU, backend, layer, frames, sockets)

	init, err := tb.Boot(0x1000, 0x2000)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "booted %d idle task(s), init pid=%d\n", numCPU, init.PID)

	child, err := tb.Fork(ctx, init, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "forked child pid=%d ppid=%d fds_live=%d\n", child.PID, child.PPID, child.FDs.Live())

	tb.Exit(child, 7)

	pid, status, err := tb.Waitpid(init, child.PID, false)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "waitpid reaped pid=%d status=%d (want %d)\n", pid, status, 7<<8)

	w := tb.LockWaiters()
	h, err := init.FDs.Get(1)
	if err != nil {
		return err
	}
	if err := w.Flock(h.Node, init.PID, flock.LockEX|flock.LockNB); err != nil {
		return err
	}
	otherErr := w.Flock(h.Node, 999, flock.LockEX|flock.LockNB)
	fmt.Fprintf(out, "flock contention from another pid: %v (want EWOULDBLOCK)\n", otherErr)
	if err := w.Unlock(h.Node, init.PID); err != nil {
		return err
	}

	tfds := timer.NewTimerFDs()
	tfdNode, err := backend.Create(ctx, backend.Root(), "tfd", 0600, false)
	if err != nil {
		return err
	}
	tfdNode.Ref()
	if _, err := init.FDs.Alloc(&fdtable.Handle{Node: tfdNode}); err != nil {
		return err
	}
	tfds.Bind(tfdNode)
	if _, err := tfds.SetTime(tfdNode, timer.ITimerVal{Value: 2, Interval: 1}, tb.Jiffies()); err != nil {
		return err
	}
	for i := 0; i < 5; i++ {
		now := tb.Tick()
		timer.Sweep(tb, timer.SignalBitRaiser{}, tfds, now)
	}
	expirations, err := tfds.ReadCount(tfdNode)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "timerfd expirations after 5 jiffies=%d\n", expirations)

	ft := futex.New()
	word := futex.NewMapWord()
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- ft.Wait(ctx, word, init.PID, 0x4000, 0, 0)
	}()
	time.Sleep(10 * time.Millisecond) // let the waiter enqueue before we wake it
	word.Store(0x4000, 1)
	woken := ft.Wake(0x4000, 1)
	fmt.Fprintf(out, "futex wake count=%d, wait result=%v\n", woken, <-waitDone)

	return nil
}
