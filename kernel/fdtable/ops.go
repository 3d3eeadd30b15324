package fdtable

import (
	"context"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

// AtFDCWD is the dirfd sentinel meaning "resolve relative to the
// caller's current working directory", matching AT_FDCWD.
const AtFDCWD = -100

// Open resolves path, optionally creating it when O_CREAT is set (a
// directory if mode carries ODirectory, a regular file otherwise;
// note the bit is read from mode, not flags), allocates a descriptor
// slot, and installs a handle at offset 0.
func Open(ctx context.Context, backend vfs.Backend, dir vfs.Node, table *Table, path string, flags uint32, mode uint32) (int, error) {
	node, err := backend.Resolve(ctx, dir, path)
	if err != nil {
		if err != errno.ENOENT || flags&OCreat == 0 {
			return 0, err
		}
		parent, name := dir, path
		for i := len(path) - 1; i >= 0; i-- {
			if path[i] == '/' {
				parentPath := path[:i]
				if parentPath == "" {
					parentPath = "/"
				}
				p, rerr := backend.Resolve(ctx, dir, parentPath)
				if rerr != nil {
					return 0, rerr
				}
				parent, name = p, path[i+1:]
				break
			}
		}
		created, cerr := backend.Create(ctx, parent, name, mode, mode&ODirectory != 0)
		if cerr != nil {
			return 0, cerr
		}
		node = created
	}
	node.Ref()
	fd, err := table.Alloc(&Handle{Node: node, Offset: 0, Flags: flags})
	if err != nil {
		node.Unref()
		return 0, err
	}
	return fd, nil
}

// OpenAt resolves dirfd (AtFDCWD or a directory FD already open in
// table) and delegates to Open, matching openat(2)'s "resolve path
// against dirfd's directory (or CWD if AT_FDCWD)".
func OpenAt(ctx context.Context, backend vfs.Backend, cwd vfs.Node, table *Table, dirfd int, path string, flags uint32, mode uint32) (int, error) {
	base := cwd
	if dirfd != AtFDCWD {
		h, err := table.Get(dirfd)
		if err != nil {
			return 0, err
		}
		base = h.Node
	}
	return Open(ctx, backend, base, table, path, flags, mode)
}

// Dup2 installs a clone of oldfd's handle (same node, offset, and
// flag word, O_CLOEXEC bit included) at newfd, closing any live
// occupant of newfd first. It does not special-case oldfd == newfd,
// and it validates newfd only as far as needed to avoid an
// out-of-bounds array access.
func Dup2(ctx context.Context, backend vfs.Backend, table *Table, oldfd, newfd int) (int, error) {
	old, err := table.Get(oldfd)
	if err != nil {
		return 0, err
	}
	if newfd < 0 || newfd >= MaxFD {
		return 0, errno.EBADF
	}
	if existing, _ := table.Get(newfd); existing != nil {
		table.Close(newfd, 0)
	}
	dup, err := backend.Dup(ctx, old.Node)
	if err != nil {
		return 0, errno.ENOSPC
	}
	if err := table.AllocAt(newfd, &Handle{Node: dup, Offset: old.Offset, Flags: old.Flags}); err != nil {
		dup.Unref()
		return 0, err
	}
	return newfd, nil
}

// Dup3 is dup2 plus O_CLOEXEC selection, and it rejects both any flag
// bit outside O_CLOEXEC and oldfd == newfd.
func Dup3(ctx context.Context, backend vfs.Backend, table *Table, oldfd, newfd int, flags uint32) (int, error) {
	if flags&^uint32(OCloexec) != 0 {
		return 0, errno.EINVAL
	}
	if oldfd == newfd {
		return 0, errno.EBADF
	}
	fd, err := Dup2(ctx, backend, table, oldfd, newfd)
	if err != nil {
		return 0, err
	}
	if flags&OCloexec != 0 {
		h, _ := table.Get(fd)
		h.Flags |= OCloexec
	}
	return fd, nil
}

// Dup finds the lowest free slot >= 3 and dup2s oldfd onto it.
func Dup(ctx context.Context, backend vfs.Backend, table *Table, oldfd int) (int, error) {
	if _, err := table.Get(oldfd); err != nil {
		return 0, err
	}
	newfd := -1
	for i := firstAllocatable; i < MaxFD; i++ {
		if h, _ := table.Get(i); h == nil {
			newfd = i
			break
		}
	}
	if newfd < 0 {
		return 0, errno.EBADF
	}
	return Dup2(ctx, backend, table, oldfd, newfd)
}

// fcntl commands this core understands; all others return
// errno.ENOSYS.
const (
	FGetFD        = 1
	FSetFD        = 2
	FDupFD        = 0
	FDupFDCloexec = 1030
	FGetFL        = 3
	FSetFL        = 4
)

const mutableFlags = OAppend | ODirect | ONoatime | ONonblock

// Fcntl implements the fcntl(2) command subset this core supports.
func Fcntl(ctx context.Context, backend vfs.Backend, table *Table, fd int, cmd int, arg uint32) (int64, error) {
	h, err := table.Get(fd)
	if err != nil {
		return 0, err
	}
	switch cmd {
	case FGetFD:
		if h.Flags&OCloexec != 0 {
			return 1, nil
		}
		return 0, nil
	case FSetFD:
		if arg&1 != 0 {
			h.Flags |= OCloexec
		} else {
			h.Flags &^= OCloexec
		}
		return 0, nil
	case FDupFD:
		nfd, err := Dup(ctx, backend, table, fd)
		return int64(nfd), err
	case FDupFDCloexec:
		nfd, err := Dup(ctx, backend, table, fd)
		if err != nil {
			return 0, err
		}
		nh, _ := table.Get(nfd)
		nh.Flags |= OCloexec
		return int64(nfd), nil
	case FGetFL:
		return int64(h.Flags), nil
	case FSetFL:
		h.Flags &^= mutableFlags
		h.Flags |= arg & mutableFlags
		return 0, nil
	default:
		return 0, errno.ENOSYS
	}
}
