package syscalls

import (
	"context"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/fdtable"
	"github.com/wenxuanjun/naos/kernel/task"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

// Stat mirrors the POSIX struct stat fields this core populates from
// VFS node metadata.
type Stat struct {
	Ino     uint64
	Mode    uint32
	Size    int64
	Blksize int64
	Blocks  int64
	RdevMaj uint32
	RdevMin uint32
}

// rdevFor maps a VFS type flag to its (major, minor) device number,
// exactly a fixed table: stream -> (4,1), fbdev -> (29,0), keyboard ->
// (13,0), mouse -> (13,1), else (0,0).
func rdevFor(t vfs.Type) (uint32, uint32) {
	switch {
	case t&vfs.TypeStream != 0:
		return 4, 1
	case t&vfs.TypeFBDev != 0:
		return 29, 0
	case t&vfs.TypeKeyboard != 0:
		return 13, 0
	case t&vfs.TypeMouse != 0:
		return 13, 1
	default:
		return 0, 0
	}
}

func statFromAttr(a vfs.Attr) Stat {
	maj, min := rdevFor(a.Type)
	blksize := a.Blksize
	if blksize == 0 {
		blksize = 512
	}
	blocks := (a.Size + blksize - 1) / blksize
	return Stat{
		Ino:     a.Ino,
		Mode:    a.Mode,
		Size:    a.Size,
		Blksize: blksize,
		Blocks:  blocks,
		RdevMaj: maj,
		RdevMin: min,
	}
}

// Fstat implements fstat(2).
func Fstat(ctx context.Context, t *task.Task, fd int) (Stat, error) {
	h, err := t.FDs.Get(fd)
	if err != nil {
		return Stat{}, err
	}
	attr, err := h.Node.Attr(ctx)
	if err != nil {
		return Stat{}, err
	}
	return statFromAttr(attr), nil
}

// NewFstatat implements newfstatat(2): resolves path against dirfd (or
// cwd for AT_FDCWD), then stats the result.
func NewFstatat(ctx context.Context, backend vfs.Backend, t *task.Task, dirfd int, path string) (Stat, error) {
	base := t.CWD
	if dirfd != fdtable.AtFDCWD {
		h, err := t.FDs.Get(dirfd)
		if err != nil {
			return Stat{}, err
		}
		base = h.Node
	}
	n, err := backend.Resolve(ctx, base, path)
	if err != nil {
		return Stat{}, err
	}
	attr, err := n.Attr(ctx)
	if err != nil {
		return Stat{}, err
	}
	return statFromAttr(attr), nil
}

// Statx mirrors statx(2): it delegates to NewFstatat and copies the
// result into the extended layout, with all time fields left at their
// zero value since this core's Attr carries no timestamps.
type Statx struct {
	Stat
	ATimeSec, MTimeSec, CTimeSec, BTimeSec int64
}

func StatxCall(ctx context.Context, backend vfs.Backend, t *task.Task, dirfd int, path string) (Statx, error) {
	st, err := NewFstatat(ctx, backend, t, dirfd, path)
	if err != nil {
		return Statx{}, err
	}
	return Statx{Stat: st}, nil
}

// Access and Faccessat are equivalent to a path lookup or stat in this
// core: mode bits are not checked against process credentials.
func Access(ctx context.Context, backend vfs.Backend, t *task.Task, path string) error {
	_, err := backend.Resolve(ctx, t.CWD, path)
	return err
}

func Faccessat(ctx context.Context, backend vfs.Backend, t *task.Task, dirfd int, path string) error {
	_, err := NewFstatat(ctx, backend, t, dirfd, path)
	return err
}

// Link implements link(2). True hard-link semantics are not
// implemented: this creates an empty new file or directory depending
// on the source node's type, instead of a second directory entry
// pointing at the same inode.
func Link(ctx context.Context, backend vfs.Backend, t *task.Task, oldPath, newPath string) error {
	oldNode, err := backend.Resolve(ctx, t.CWD, oldPath)
	if err != nil {
		return err
	}
	attr, err := oldNode.Attr(ctx)
	if err != nil {
		return err
	}
	newDir, newName, err := splitParent(ctx, backend, t.CWD, newPath)
	if err != nil {
		return err
	}
	_, err = backend.Create(ctx, newDir, newName, attr.Mode, attr.Type.IsDir())
	return err
}

// Mkdir implements mkdir(2): resolves path's parent and asks the VFS
// backend to create a directory entry there, independent of open(2)'s
// O_CREAT|O_DIRECTORY path into the same backend call.
func Mkdir(ctx context.Context, backend vfs.Backend, t *task.Task, path string, mode uint32) error {
	dir, name, err := splitParent(ctx, backend, t.CWD, path)
	if err != nil {
		return err
	}
	_, err = backend.Create(ctx, dir, name, mode, true)
	return err
}

// splitParent resolves path's parent directory and returns it along
// with the final path component, the way every path-creating syscall
// here needs to.
func splitParent(ctx context.Context, backend vfs.Backend, cwd vfs.Node, path string) (vfs.Node, string, error) {
	dir, name := splitPath(path)
	if dir == "" {
		return cwd, name, nil
	}
	d, err := backend.Resolve(ctx, cwd, dir)
	if err != nil {
		return nil, "", err
	}
	return d, name, nil
}

func splitPath(path string) (dir, name string) {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

// Unlink implements unlink(2).
func Unlink(ctx context.Context, backend vfs.Backend, t *task.Task, path string) error {
	dir, name, err := splitParent(ctx, backend, t.CWD, path)
	if err != nil {
		return err
	}
	return backend.Unlink(ctx, dir, name)
}

// Rmdir implements rmdir(2): requires the target to be a directory.
func Rmdir(ctx context.Context, backend vfs.Backend, t *task.Task, path string) error {
	dir, name, err := splitParent(ctx, backend, t.CWD, path)
	if err != nil {
		return err
	}
	return backend.Rmdir(ctx, dir, name)
}

// Unlinkat implements unlinkat(2): AT_REMOVEDIR routes to Rmdir.
const AtRemoveDir = 0x200

func Unlinkat(ctx context.Context, backend vfs.Backend, t *task.Task, dirfd int, path string, flags int) error {
	base := t.CWD
	if dirfd != fdtable.AtFDCWD {
		h, err := t.FDs.Get(dirfd)
		if err != nil {
			return err
		}
		base = h.Node
	}
	dir, name, err := splitParent(ctx, backend, base, path)
	if err != nil {
		return err
	}
	if flags&AtRemoveDir != 0 {
		return backend.Rmdir(ctx, dir, name)
	}
	return backend.Unlink(ctx, dir, name)
}

// Rename implements rename(2).
func Rename(ctx context.Context, backend vfs.Backend, t *task.Task, oldPath, newPath string) error {
	oldDir, oldName, err := splitParent(ctx, backend, t.CWD, oldPath)
	if err != nil {
		return err
	}
	newDir, newName, err := splitParent(ctx, backend, t.CWD, newPath)
	if err != nil {
		return err
	}
	return backend.Rename(ctx, oldDir, oldName, newDir, newName)
}

// Readlink implements readlink(2): Readlinkat against the CWD.
func Readlink(ctx context.Context, backend vfs.Backend, t *task.Task, path string) (string, error) {
	return Readlinkat(ctx, backend, t, fdtable.AtFDCWD, path)
}

// Readlinkat implements readlinkat(2): resolves without following the
// final component and maps a VFS "no link" failure to ENOLINK,
// anything else to EIO.
func Readlinkat(ctx context.Context, backend vfs.Backend, t *task.Task, dirfd int, path string) (string, error) {
	base := t.CWD
	if dirfd != fdtable.AtFDCWD {
		h, err := t.FDs.Get(dirfd)
		if err != nil {
			return "", err
		}
		base = h.Node
	}
	n, err := backend.Resolve(ctx, base, path)
	if err != nil {
		return "", err
	}
	target, err := backend.Readlink(ctx, n)
	if err != nil {
		if err == errno.ENOLINK {
			return "", errno.ENOLINK
		}
		return "", errno.EIO
	}
	return target, nil
}
