// Package vfs declares the virtual-filesystem backend this kernel
// core consumes but does not implement. It also ships a small
// in-memory reference Backend for tests and examples, rather than
// forcing every caller to wire a real filesystem.
package vfs

import (
	"context"
	"sync/atomic"

	"github.com/wenxuanjun/naos/kernel/errno"
)

// Type is the VFS node type bitmap named in the glossary.
type Type uint32

const (
	TypeRegular Type = 1 << iota
	TypeDirectory
	TypeSymlink
	TypeStream
	TypeFBDev
	TypeKeyboard
	TypeMouse
	TypeSocket
)

func (t Type) IsDir() bool { return t&TypeDirectory != 0 }

// Attr is the per-node metadata the syscall facade's stat family
// reads.
type Attr struct {
	Ino     uint64
	Size    int64
	Mode    uint32
	Type    Type
	Blksize int64
}

// FileLock is the advisory whole-file lock state embedded in a Node,
// embedded directly in the node the way the per-node lock word is. F_UNLCK,
// F_RDLCK, F_WRLCK use the conventional fcntl.h values.
type FileLock struct {
	Type int32
	PID  int32
}

const (
	FUnlck int32 = 0
	FRdlck int32 = 1
	FWrlck int32 = 2
)

// Dirent is one entry returned by Backend.Readdir.
type Dirent struct {
	Name string
	Ino  uint64
	Type Type
}

// Node is a reference-counted VFS node. The core increments it on
// every descriptor-table slot that points at it and decrements on
// close; it never inspects node internals
// beyond Attr and Lock.
type Node interface {
	Attr(ctx context.Context) (Attr, error)
	Lock() *FileLock

	// Ref and Unref implement the refcount half of invariant 2. Unref
	// returns the post-decrement count so callers (and tests) can
	// assert it never goes negative.
	Ref() int32
	Unref() int32
	RefCount() int32
}

// Backend is the VFS collaborator: path resolution and the file
// operations the syscall facade dispatches (read/write/mkdir/delete/
// dup/rename/ioctl/readlink). dir arguments are always a Node previously
// returned by this same Backend (either the root, a task's cwd, or an
// earlier Resolve/Create result).
type Backend interface {
	Root() Node

	// Resolve looks up path relative to dir (dir may be nil to mean
	// the backend's root). It does not increment the refcount; callers
	// that retain the result across a descriptor-table slot must call
	// Ref() themselves.
	Resolve(ctx context.Context, dir Node, path string) (Node, error)

	Create(ctx context.Context, dir Node, name string, mode uint32, isDir bool) (Node, error)
	Read(ctx context.Context, n Node, buf []byte, off int64) (int, error)
	Write(ctx context.Context, n Node, data []byte, off int64) (int, error)
	Readdir(ctx context.Context, dir Node) ([]Dirent, error)
	Unlink(ctx context.Context, dir Node, name string) error
	Rmdir(ctx context.Context, dir Node, name string) error
	Rename(ctx context.Context, oldDir Node, oldName string, newDir Node, newName string) error
	Readlink(ctx context.Context, n Node) (string, error)
	Symlink(ctx context.Context, dir Node, name, target string) (Node, error)
	Ioctl(ctx context.Context, n Node, cmd uint64, arg uint64) (uint64, error)

	// Dup returns a node handle referring to the same underlying file
	// as n, with its refcount already incremented. It backs dup(2) and
	// fork's duplication of descriptor slots 3..N.
	Dup(ctx context.Context, n Node) (Node, error)

	// FullPath reconstructs the absolute path of n, backing getcwd(2).
	FullPath(ctx context.Context, n Node) (string, error)
}

// baseNode is embedded by concrete node implementations to supply the
// refcount and lock bookkeeping every Node needs.
type baseNode struct {
	refcount int32
	lock     FileLock
}

func (b *baseNode) Ref() int32      { return atomic.AddInt32(&b.refcount, 1) }
func (b *baseNode) Unref() int32    { return atomic.AddInt32(&b.refcount, -1) }
func (b *baseNode) RefCount() int32 { return atomic.LoadInt32(&b.refcount) }
func (b *baseNode) Lock() *FileLock { return &b.lock }

// ErrNotImplemented is returned by Backend methods the reference
// MemBackend does not support (ioctl).
var ErrNotImplemented = errno.ENOSYS
