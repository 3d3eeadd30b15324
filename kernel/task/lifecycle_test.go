package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/fdtable"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

func newTestTable(t *testing.T, numCPU int) *Table {
	return NewTable(numCPU, vfs.NewMemBackend(), NewHostedLayer(), NewHostedFrames(0x1000), HostedSockets{})
}

func TestBootReservesIdleThenInit(t *testing.T) {
	tb := newTestTable(t, 2)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)
	require.NotZero(t, init.PID)
	require.Equal(t, init.PID, init.PPID)
	require.Equal(t, Ready, init.State())

	for cpu := 0; cpu < 2; cpu++ {
		idle := tb.Idle(cpu)
		require.NotNil(t, idle)
		require.EqualValues(t, 0, idle.PID)
	}
}

func TestForkNonVforkDupsFDsFromThree(t *testing.T) {
	ctx := context.Background()
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)

	f, err := tb.Backend.Create(ctx, tb.Backend.Root(), "inherited", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := init.FDs.Alloc(&fdtable.Handle{Node: f})
	require.NoError(t, err)

	child, err := tb.Fork(ctx, init, false)
	require.NoError(t, err)
	require.Equal(t, init.PID, child.PPID)
	require.NotEqual(t, init.PID, child.PID)
	require.Equal(t, Ready, child.State())

	h, err := child.FDs.Get(fd)
	require.NoError(t, err)
	require.Same(t, f, h.Node)
}

func TestForkVforkStartsWithOnlyStdio(t *testing.T) {
	ctx := context.Background()
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)

	child, err := tb.Fork(ctx, init, true)
	require.NoError(t, err)
	require.Equal(t, init.PID, child.PPID)
	// vfork skips duping FDs 3..N; only fresh stdio is present.
	require.EqualValues(t, 3, child.FDs.Live())
}

func TestExitEncodesNormalStatus(t *testing.T) {
	ctx := context.Background()
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)
	child, err := tb.Fork(ctx, init, false)
	require.NoError(t, err)

	tb.Exit(child, 7)
	require.Equal(t, Died, child.State())
	require.EqualValues(t, 7<<8, child.Status)
}

func TestExitEncodesSignalDeath(t *testing.T) {
	ctx := context.Background()
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)
	child, err := tb.Fork(ctx, init, false)
	require.NoError(t, err)

	// 128+9 is the conventional "killed by SIGKILL" exit code.
	tb.Exit(child, 137)
	require.EqualValues(t, (137-128)|(0x80<<8), child.Status)
}

func TestWaitpidReapsSpecificChild(t *testing.T) {
	ctx := context.Background()
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)
	child, err := tb.Fork(ctx, init, false)
	require.NoError(t, err)

	tb.Exit(child, 7)
	pid, status, err := tb.Waitpid(init, child.PID, false)
	require.NoError(t, err)
	require.Equal(t, child.PID, pid)
	require.EqualValues(t, 7<<8, status)

	// The slot is reaped; a second wait for the same PID has no child.
	_, _, err = tb.Waitpid(init, child.PID, true)
	require.Equal(t, errno.ECHILD, err)
}

func TestWaitpidNoHangReturnsZeroWithoutBlocking(t *testing.T) {
	ctx := context.Background()
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)
	_, err = tb.Fork(ctx, init, false)
	require.NoError(t, err)

	pid, status, err := tb.Waitpid(init, -1, true)
	require.NoError(t, err)
	require.EqualValues(t, 0, pid)
	require.EqualValues(t, 0, status)
}

func TestWaitpidNoChildrenIsECHILD(t *testing.T) {
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)
	_, _, err = tb.Waitpid(init, -1, false)
	require.Equal(t, errno.ECHILD, err)
}

func TestWaitpidBlocksThenWakesOnExit(t *testing.T) {
	ctx := context.Background()
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)
	child, err := tb.Fork(ctx, init, false)
	require.NoError(t, err)

	done := make(chan struct{})
	var gotPID, gotStatus int32
	go func() {
		gotPID, gotStatus, _ = tb.Waitpid(init, -1, false)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	tb.Exit(child, 3)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitpid did not wake up after child exit")
	}
	require.Equal(t, child.PID, gotPID)
	require.EqualValues(t, 3<<8, gotStatus)
}

func TestCloneDupsFullFDTableIncludingStdio(t *testing.T) {
	ctx := context.Background()
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)

	child, err := tb.Clone(ctx, init, 0, 0, 0, nil, nil)
	require.NoError(t, err)
	require.Equal(t, init.PID, child.PPID)
	require.EqualValues(t, init.FDs.Live(), child.FDs.Live())
}
