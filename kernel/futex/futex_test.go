package futex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wenxuanjun/naos/kernel/errno"
)

func TestWaitReturnsEWouldBlockOnMismatch(t *testing.T) {
	ft := New()
	w := NewMapWord()
	w.Store(0x1000, 5)
	err := ft.Wait(context.Background(), w, 1, 0x1000, 9, 0)
	require.Equal(t, errno.EWOULDBLOCK, err)
}

func TestWakeUnblocksMatchingWaiter(t *testing.T) {
	ft := New()
	w := NewMapWord()
	w.Store(0x2000, 0)

	done := make(chan error, 1)
	go func() { done <- ft.Wait(context.Background(), w, 1, 0x2000, 0, 0) }()
	time.Sleep(10 * time.Millisecond)

	woken := ft.Wake(0x2000, 1)
	require.EqualValues(t, 1, woken)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Wake")
	}
}

func TestWakeFIFOOrderAndCount(t *testing.T) {
	ft := New()
	w := NewMapWord()
	w.Store(0x3000, 0)

	n := 3
	order := make(chan int, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			_ = ft.Wait(context.Background(), w, int32(i), 0x3000, 0, 0)
			order <- i
		}()
		time.Sleep(5 * time.Millisecond) // enforce enqueue order
	}

	woken := ft.Wake(0x3000, 2)
	require.EqualValues(t, 2, woken)

	got := []int{<-order, <-order}
	require.ElementsMatch(t, []int{0, 1}, got)

	// the third waiter is still blocked
	select {
	case <-order:
		t.Fatal("third waiter should not have been woken")
	case <-time.After(50 * time.Millisecond):
	}
	ft.Wake(0x3000, 1)
	require.Equal(t, 2, <-order)
}

func TestWaitUnblocksOnContextCancel(t *testing.T) {
	ft := New()
	w := NewMapWord()
	w.Store(0x4000, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ft.Wait(ctx, w, 1, 0x4000, 0, 0) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Equal(t, errno.EINTR, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after context cancel")
	}
}
