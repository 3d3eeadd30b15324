package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockUnblockRoundTrip(t *testing.T) {
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		init.Block()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, Blocking, init.State())
	init.Unblock(42)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Block did not return after Unblock")
	}
	require.Equal(t, Ready, init.State())
	require.EqualValues(t, 42, init.Status)
}

func TestSearchFallsBackToIdleWhenNoReadyTask(t *testing.T) {
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)

	found := tb.Search(Ready, init.CPUID, init.PID)
	require.NotNil(t, found)
	require.EqualValues(t, 0, found.PID)
}

func TestSearchPrefersLowestJiffies(t *testing.T) {
	tb := newTestTable(t, 1)
	init, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)
	child, err := tb.Fork(context.Background(), init, false)
	require.NoError(t, err)

	init.Jiffies = 10
	child.Jiffies = 1

	found := tb.Search(Ready, init.CPUID, -1)
	require.Same(t, child, found)
}
