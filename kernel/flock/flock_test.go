package flock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/flock"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

func newNode(t *testing.T) vfs.Node {
	t.Helper()
	b := vfs.NewMemBackend()
	n, err := b.Resolve(context.Background(), nil, "/dev/stdout")
	require.NoError(t, err)
	return n
}

func TestLockExclusiveNonBlockingContention(t *testing.T) {
	n := newNode(t)
	w := flock.NewWaiters()

	require.NoError(t, w.Flock(n, 1, flock.LockEX|flock.LockNB))
	err := w.Flock(n, 2, flock.LockEX|flock.LockNB)
	require.Equal(t, errno.EWOULDBLOCK, err)
}

func TestSharedLocksDoNotContend(t *testing.T) {
	n := newNode(t)
	w := flock.NewWaiters()

	require.NoError(t, w.Flock(n, 1, flock.LockSH|flock.LockNB))
	require.NoError(t, w.Flock(n, 2, flock.LockSH|flock.LockNB))
}

func TestUnlockRequiresOwnership(t *testing.T) {
	n := newNode(t)
	w := flock.NewWaiters()
	require.NoError(t, w.Flock(n, 1, flock.LockEX|flock.LockNB))

	err := w.Unlock(n, 2)
	require.Equal(t, errno.EACCES, err)

	require.NoError(t, w.Unlock(n, 1))
	require.Equal(t, vfs.FUnlck, n.Lock().Type)
}

func TestUnlockOnAlreadyUnlockedIsNoop(t *testing.T) {
	n := newNode(t)
	w := flock.NewWaiters()
	require.NoError(t, w.Unlock(n, 1))
}

func TestLockBlocksThenWakesOnUnlock(t *testing.T) {
	n := newNode(t)
	w := flock.NewWaiters()
	require.NoError(t, w.Flock(n, 1, flock.LockEX|flock.LockNB))

	done := make(chan error, 1)
	go func() { done <- w.Flock(n, 2, flock.LockEX) }()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, w.Unlock(n, 1))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocking Lock did not wake after Unlock")
	}
	require.EqualValues(t, 2, n.Lock().PID)
}

func TestFlockRejectsBadOp(t *testing.T) {
	n := newNode(t)
	w := flock.NewWaiters()
	err := w.Flock(n, 1, 0)
	require.Equal(t, errno.EINVAL, err)
}

func TestReleaseOwnedIgnoresNonOwnerAndWakesWaiters(t *testing.T) {
	n := newNode(t)
	w := flock.NewWaiters()
	require.NoError(t, w.Flock(n, 1, flock.LockEX|flock.LockNB))

	// Unlike Unlock, a non-owner release is a silent no-op.
	w.ReleaseOwned(n, 2)
	require.EqualValues(t, 1, n.Lock().PID)

	done := make(chan error, 1)
	go func() { done <- w.Flock(n, 2, flock.LockEX) }()
	time.Sleep(10 * time.Millisecond)

	w.ReleaseOwned(n, 1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Lock did not wake after ReleaseOwned")
	}
	require.EqualValues(t, 2, n.Lock().PID)
}
