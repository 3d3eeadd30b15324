// Package syscalls is the POSIX-style syscall facade: file I/O,
// descriptor manipulation, the stat family, and the path-based
// operations, all built on kernel/fdtable's descriptor table and
// kernel/vfs's Backend. Every exported function here takes the acting
// *task.Task explicitly rather than reading an implicit current-task
// global, so the call chain carries its own context instead of
// relying on mutable package state.
package syscalls

import (
	"context"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/fdtable"
	"github.com/wenxuanjun/naos/kernel/klog"
	"github.com/wenxuanjun/naos/kernel/task"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

// Seek whence values.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Read implements read(2): rejects directories with EISDIR, reads at
// the handle's current offset, and advances it by the count
// transferred. A backend EAGAIN is propagated unchanged.
func Read(ctx context.Context, backend vfs.Backend, t *task.Task, fd int, buf []byte) (int, error) {
	h, err := t.FDs.Get(fd)
	if err != nil {
		return 0, err
	}
	attr, err := h.Node.Attr(ctx)
	if err != nil {
		return 0, err
	}
	if attr.Type.IsDir() {
		return 0, errno.EISDIR
	}
	n, err := backend.Read(ctx, h.Node, buf, h.Offset)
	if err != nil {
		return 0, err
	}
	h.Offset += int64(n)
	return n, nil
}

// Write implements write(2), symmetric to Read.
func Write(ctx context.Context, backend vfs.Backend, t *task.Task, fd int, buf []byte) (int, error) {
	h, err := t.FDs.Get(fd)
	if err != nil {
		return 0, err
	}
	attr, err := h.Node.Attr(ctx)
	if err != nil {
		return 0, err
	}
	if attr.Type.IsDir() {
		return 0, errno.EISDIR
	}
	off := h.Offset
	if h.Flags&fdtable.OAppend != 0 {
		off = attr.Size
	}
	n, err := backend.Write(ctx, h.Node, buf, off)
	if err != nil {
		return 0, err
	}
	h.Offset = off + int64(n)
	return n, nil
}

// Lseek implements lseek(2). SEEK_END is deliberately computed as
// `size - off`, not the POSIX `size + off`; the discrepancy is
// preserved rather than silently fixed.
func Lseek(ctx context.Context, t *task.Task, fd int, off int64, whence int) (int64, error) {
	h, err := t.FDs.Get(fd)
	if err != nil {
		return 0, err
	}
	attr, err := h.Node.Attr(ctx)
	if err != nil {
		return 0, err
	}
	var newOff int64
	switch whence {
	case SeekSet:
		newOff = off
	case SeekCur:
		newOff = clamp(h.Offset+off, 0, attr.Size)
	case SeekEnd:
		newOff = attr.Size - off
	default:
		klog.Syscall(t.PID, "lseek").WithField("whence", whence).Debug("unsupported whence")
		return 0, errno.ENOSYS
	}
	h.Offset = newOff
	return newOff, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ioctl implements ioctl(2), delegating to the backend uninterpreted.
func Ioctl(ctx context.Context, backend vfs.Backend, t *task.Task, fd int, cmd uint64, arg uint64) (uint64, error) {
	h, err := t.FDs.Get(fd)
	if err != nil {
		return 0, err
	}
	return backend.Ioctl(ctx, h.Node, cmd, arg)
}

// IOVec is one entry of a readv/writev vector.
type IOVec struct {
	Base []byte
}

// Readv implements readv(2): iterate the vector, stopping on a short
// result or error; return the total transferred, or the first
// negative error.
func Readv(ctx context.Context, backend vfs.Backend, t *task.Task, fd int, iov []IOVec) (int64, error) {
	var total int64
	for _, v := range iov {
		n, err := Read(ctx, backend, t, fd, v.Base)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if n < len(v.Base) {
			break
		}
	}
	return total, nil
}

// Writev implements writev(2), symmetric to Readv.
func Writev(ctx context.Context, backend vfs.Backend, t *task.Task, fd int, iov []IOVec) (int64, error) {
	var total int64
	for _, v := range iov {
		n, err := Write(ctx, backend, t, fd, v.Base)
		total += int64(n)
		if err != nil {
			return total, err
		}
		if n < len(v.Base) {
			break
		}
	}
	return total, nil
}
