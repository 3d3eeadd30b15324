package syscalls

import (
	"context"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/task"
	"github.com/wenxuanjun/naos/kernel/vfs"
)

// d_type values returned by Getdents.
const (
	DTUnknown = 0
	DTReg     = 8
	DTDir     = 4
	DTLnk     = 10
)

const direntNameMax = 1024

// dtypeFor maps a VFS type flag to the DT_* constant getdents(2)
// reports; anything not regular/directory/symlink is DT_UNKNOWN.
func dtypeFor(t vfs.Type) uint8 {
	switch {
	case t&vfs.TypeDirectory != 0:
		return DTDir
	case t&vfs.TypeRegular != 0:
		return DTReg
	case t&vfs.TypeSymlink != 0:
		return DTLnk
	default:
		return DTUnknown
	}
}

// Dirent is one getdents(2) record.
type Dirent struct {
	Ino    uint64
	Off    int64
	Reclen uint16
	Type   uint8
	Name   string
}

const direntFixedSize = 19 // ino(8) + off(8) + reclen(2) + type(1)

// Getdents implements getdents(2): enumerates children starting from
// offset/sizeof(dirent), filling as many fixed-size records as fit in
// size bytes, truncating names to 1024 bytes, and advancing the FD's
// offset by the number of entries consumed.
func Getdents(ctx context.Context, backend vfs.Backend, t *task.Task, fd int, size int) ([]Dirent, error) {
	h, err := t.FDs.Get(fd)
	if err != nil {
		return nil, err
	}
	attr, err := h.Node.Attr(ctx)
	if err != nil {
		return nil, err
	}
	if !attr.Type.IsDir() {
		return nil, errno.ENOTDIR
	}
	all, err := backend.Readdir(ctx, h.Node)
	if err != nil {
		return nil, err
	}

	start := int(h.Offset) / direntFixedSize
	var out []Dirent
	used := 0
	i := start
	for ; i < len(all); i++ {
		name := all[i].Name
		if len(name) > direntNameMax {
			name = name[:direntNameMax]
		}
		recLen := direntFixedSize + len(name) + 1
		if used+recLen > size {
			break
		}
		used += recLen
		out = append(out, Dirent{
			Ino:    all[i].Ino,
			Off:    int64((i + 1) * direntFixedSize),
			Reclen: uint16(recLen),
			Type:   dtypeFor(all[i].Type),
			Name:   name,
		})
	}
	h.Offset = int64(i * direntFixedSize)
	return out, nil
}

// Chdir implements chdir(2): resolve path, require a directory, and
// assign it to cwd.
func Chdir(ctx context.Context, backend vfs.Backend, t *task.Task, path string) error {
	n, err := backend.Resolve(ctx, t.CWD, path)
	if err != nil {
		return err
	}
	attr, err := n.Attr(ctx)
	if err != nil {
		return err
	}
	if !attr.Type.IsDir() {
		return errno.ENOTDIR
	}
	t.CWD = n
	return nil
}

// Fchdir implements fchdir(2): same as Chdir but the target is
// already an open FD.
func Fchdir(ctx context.Context, t *task.Task, fd int) error {
	h, err := t.FDs.Get(fd)
	if err != nil {
		return err
	}
	attr, err := h.Node.Attr(ctx)
	if err != nil {
		return err
	}
	if !attr.Type.IsDir() {
		return errno.ENOTDIR
	}
	t.CWD = h.Node
	return nil
}

// Getcwd implements getcwd(2): copies the full path into buf if it
// fits, else ERANGE.
func Getcwd(ctx context.Context, backend vfs.Backend, t *task.Task, buf []byte) (int, error) {
	path, err := backend.FullPath(ctx, t.CWD)
	if err != nil {
		return 0, err
	}
	if len(path)+1 > len(buf) {
		return 0, errno.ERANGE
	}
	n := copy(buf, path)
	buf[n] = 0
	return n + 1, nil
}
