package fdtable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/flock"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

func newStdio(ctx context.Context, t *testing.T, b *vfs.MemBackend) (*Handle, *Handle, *Handle) {
	mk := func(path string) *Handle {
		n, err := b.Resolve(ctx, nil, path)
		require.NoError(t, err)
		n.Ref()
		return &Handle{Node: n}
	}
	return mk("/dev/stdin"), mk("/dev/stdout"), mk("/dev/stderr")
}

func TestAllocStartsAtThree(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	f, err := b.Create(ctx, b.Root(), "a", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := tbl.Alloc(&Handle{Node: f})
	require.NoError(t, err)
	require.Equal(t, firstAllocatable, fd)
}

func TestCloseReleasesLockAndDecrementsRef(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	f, err := b.Create(ctx, b.Root(), "locked", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := tbl.Alloc(&Handle{Node: f})
	require.NoError(t, err)

	lk := f.Lock()
	lk.Type = vfs.FWrlck
	lk.PID = 42

	require.NoError(t, tbl.Close(fd, 42))
	require.Equal(t, vfs.FUnlck, f.Lock().Type)
	require.EqualValues(t, 0, f.RefCount())

	_, err = tbl.Get(fd)
	require.Equal(t, errno.EBADF, err)
}

func TestDup2ReplacesExistingAndDoesNotSpecialCaseSameFD(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	f, err := b.Create(ctx, b.Root(), "src", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := tbl.Alloc(&Handle{Node: f})
	require.NoError(t, err)

	// dup2 onto stdout (fd 1), an already-live slot: the old occupant
	// must be closed, not leaked.
	newfd, err := Dup2(ctx, b, tbl, fd, 1)
	require.NoError(t, err)
	require.Equal(t, 1, newfd)
	h, err := tbl.Get(1)
	require.NoError(t, err)
	require.Same(t, f, h.Node)

	// dup2(oldfd, oldfd) is not special-cased; it still performs a
	// full dup/replace cycle.
	again, err := Dup2(ctx, b, tbl, fd, fd)
	require.NoError(t, err)
	require.Equal(t, fd, again)
}

func TestCloseWakesBlockedFlockWaiter(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	f, err := b.Create(ctx, b.Root(), "contended", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := tbl.Alloc(&Handle{Node: f})
	require.NoError(t, err)

	w := tbl.Locks()
	require.NoError(t, w.Flock(f, 42, flock.LockEX|flock.LockNB))

	done := make(chan error, 1)
	go func() { done <- w.Flock(f, 99, flock.LockEX) }()
	time.Sleep(10 * time.Millisecond)

	// Closing the holder's fd releases the lock; the blocked waiter
	// must be woken, not left sleeping on a field flip it never sees.
	require.NoError(t, tbl.Close(fd, 42))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("flock waiter did not wake after holder's fd was closed")
	}
	require.EqualValues(t, 99, f.Lock().PID)
}

func TestDup2ClonesOffsetAndCloexecBit(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	f, err := b.Create(ctx, b.Root(), "src", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := tbl.Alloc(&Handle{Node: f, Offset: 17, Flags: OCloexec | OAppend})
	require.NoError(t, err)

	newfd, err := Dup2(ctx, b, tbl, fd, 9)
	require.NoError(t, err)
	h, err := tbl.Get(newfd)
	require.NoError(t, err)
	require.EqualValues(t, 17, h.Offset)
	require.NotZero(t, h.Flags&OCloexec)
	require.NotZero(t, h.Flags&OAppend)

	v, err := Fcntl(ctx, b, tbl, newfd, FGetFD, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}

func TestDup3RejectsSameFDAndBadFlags(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	_, err := Dup3(ctx, b, tbl, 0, 0, 0)
	require.Equal(t, errno.EBADF, err)

	_, err = Dup3(ctx, b, tbl, 0, 5, 0o1)
	require.Equal(t, errno.EINVAL, err)

	fd, err := Dup3(ctx, b, tbl, 0, 5, OCloexec)
	require.NoError(t, err)
	h, err := tbl.Get(fd)
	require.NoError(t, err)
	require.NotZero(t, h.Flags&OCloexec)
}

func TestCloneFromThreeLeavesStdioForCallerToInstall(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	f, err := b.Create(ctx, b.Root(), "inherited", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := tbl.Alloc(&Handle{Node: f})
	require.NoError(t, err)

	clone, err := tbl.Clone(ctx, b)
	require.NoError(t, err)
	require.EqualValues(t, 1, clone.Live())
	h, err := clone.Get(fd)
	require.NoError(t, err)
	require.Same(t, f, h.Node)
	require.EqualValues(t, 2, f.RefCount())

	_, err = clone.Get(0)
	require.Equal(t, errno.EBADF, err)
}

func TestCloneFullIncludesStdio(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	clone, err := tbl.CloneFull(ctx, b)
	require.NoError(t, err)
	h, err := clone.Get(0)
	require.NoError(t, err)
	require.Same(t, in.Node, h.Node)
}

func TestCloseExecOnlyClosesCloexecSlots(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	keep, err := b.Create(ctx, b.Root(), "keep", 0644, false)
	require.NoError(t, err)
	keep.Ref()
	keepFD, err := tbl.Alloc(&Handle{Node: keep})
	require.NoError(t, err)

	drop, err := b.Create(ctx, b.Root(), "drop", 0644, false)
	require.NoError(t, err)
	drop.Ref()
	dropFD, err := tbl.Alloc(&Handle{Node: drop, Flags: OCloexec})
	require.NoError(t, err)

	tbl.CloseExec(1)

	_, err = tbl.Get(keepFD)
	require.NoError(t, err)
	_, err = tbl.Get(dropFD)
	require.Equal(t, errno.EBADF, err)
}

func TestFcntlGetSetFD(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	f, err := b.Create(ctx, b.Root(), "f", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := tbl.Alloc(&Handle{Node: f})
	require.NoError(t, err)

	v, err := Fcntl(ctx, b, tbl, fd, FGetFD, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, v)

	_, err = Fcntl(ctx, b, tbl, fd, FSetFD, 1)
	require.NoError(t, err)
	v, err = Fcntl(ctx, b, tbl, fd, FGetFD, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}

func TestFcntlDupFD(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	f, err := b.Create(ctx, b.Root(), "f", 0644, false)
	require.NoError(t, err)
	f.Ref()
	fd, err := tbl.Alloc(&Handle{Node: f})
	require.NoError(t, err)

	nfd, err := Fcntl(ctx, b, tbl, fd, FDupFD, 0)
	require.NoError(t, err)
	require.Greater(t, nfd, int64(fd))
}

func TestAllocExhaustionReturnsEMFILE(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	for i := firstAllocatable; i < MaxFD; i++ {
		f, err := b.Create(ctx, b.Root(), string(rune('a'+i%26))+string(rune(i)), 0644, false)
		require.NoError(t, err)
		f.Ref()
		_, err = tbl.Alloc(&Handle{Node: f})
		require.NoError(t, err)
	}

	extra, err := b.Create(ctx, b.Root(), "overflow", 0644, false)
	require.NoError(t, err)
	extra.Ref()
	_, err = tbl.Alloc(&Handle{Node: extra})
	require.Equal(t, errno.EMFILE, err)
}

func TestOpenCreatesWhenMissingAndOCreatSet(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	_, err := Open(ctx, b, nil, tbl, "/newfile", 0, 0)
	require.Equal(t, errno.ENOENT, err)

	fd, err := Open(ctx, b, nil, tbl, "/newfile", OCreat, 0644)
	require.NoError(t, err)
	require.Equal(t, firstAllocatable, fd)
}

func TestOpenAtResolvesDirFD(t *testing.T) {
	ctx := context.Background()
	b := vfs.NewMemBackend()
	tbl := New()
	in, out, errh := newStdio(ctx, t, b)
	tbl.SetStdio(in, out, errh)

	dev, err := b.Resolve(ctx, nil, "/dev")
	require.NoError(t, err)
	dev.Ref()
	dirfd, err := tbl.Alloc(&Handle{Node: dev})
	require.NoError(t, err)

	fd, err := OpenAt(ctx, b, nil, tbl, dirfd, "stdin", 0, 0)
	require.NoError(t, err)
	require.NotEqual(t, 0, fd)
}
