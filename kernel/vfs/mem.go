package vfs

import (
	"context"
	"strings"
	"sync"

	"github.com/wenxuanjun/naos/kernel/errno"
)

// memNode is the in-memory reference Node. It is not meant to be a
// production filesystem; it exists so the task/descriptor/syscall
// core can be built and tested without a real backend attached.
type memNode struct {
	baseNode

	mu       sync.Mutex
	ino      uint64
	typ      Type
	mode     uint32
	data     []byte
	target   string // symlink target
	children map[string]*memNode
	parent   *memNode
	name     string
}

func (n *memNode) Attr(ctx context.Context) (Attr, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Attr{
		Ino:     n.ino,
		Size:    int64(len(n.data)),
		Mode:    n.mode,
		Type:    n.typ,
		Blksize: 512,
	}, nil
}

// MemBackend is a small in-memory Backend implementation: a tree of
// directories, regular files holding a []byte, and symlinks holding a
// target string. It backs kernel/task and kernel/syscalls tests and
// the demo session in cmd/naosctl.
type MemBackend struct {
	mu      sync.Mutex
	root    *memNode
	nextIno uint64
}

// NewMemBackend returns a Backend with a single empty root directory
// and the device nodes the task lifecycle expects to find at
// /dev/stdin, /dev/stdout, /dev/stderr for descriptor slots 0/1/2.
func NewMemBackend() *MemBackend {
	b := &MemBackend{nextIno: 1}
	b.root = b.newNode(TypeDirectory, 0755)
	b.root.name = "/"
	dev := b.mustMkdir(b.root, "dev", 0755)
	b.mustMknod(dev, "stdin", TypeStream)
	b.mustMknod(dev, "stdout", TypeStream)
	b.mustMknod(dev, "stderr", TypeStream)
	return b
}

func (b *MemBackend) newNode(t Type, mode uint32) *memNode {
	b.nextIno++
	n := &memNode{ino: b.nextIno, typ: t, mode: mode}
	if t.IsDir() {
		n.children = make(map[string]*memNode)
	}
	return n
}

func (b *MemBackend) mustMkdir(parent *memNode, name string, mode uint32) *memNode {
	n := b.newNode(TypeDirectory, mode)
	n.name = name
	n.parent = parent
	parent.children[name] = n
	return n
}

func (b *MemBackend) mustMknod(parent *memNode, name string, t Type) *memNode {
	n := b.newNode(t, 0666)
	n.name = name
	n.parent = parent
	parent.children[name] = n
	return n
}

func (b *MemBackend) Root() Node { return b.root }

func asMemNode(n Node) (*memNode, error) {
	m, ok := n.(*memNode)
	if !ok || m == nil {
		return nil, errno.EBADF
	}
	return m, nil
}

// Resolve walks path (absolute, or relative to dir) component by
// component. "." and ".." are honored; a missing component yields
// errno.ENOENT.
func (b *MemBackend) Resolve(ctx context.Context, dir Node, path string) (Node, error) {
	cur := b.root
	if path == "" {
		return nil, errno.ENOENT
	}
	if !strings.HasPrefix(path, "/") && dir != nil {
		d, err := asMemNode(dir)
		if err != nil {
			return nil, err
		}
		cur = d
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		if p == ".." {
			if cur.parent != nil {
				cur = cur.parent
			}
			continue
		}
		if !cur.typ.IsDir() {
			return nil, errno.ENOTDIR
		}
		cur.mu.Lock()
		next, ok := cur.children[p]
		cur.mu.Unlock()
		if !ok {
			return nil, errno.ENOENT
		}
		cur = next
	}
	return cur, nil
}

func (b *MemBackend) Create(ctx context.Context, dir Node, name string, mode uint32, isDir bool) (Node, error) {
	d, err := asMemNode(dir)
	if err != nil {
		return nil, err
	}
	if !d.typ.IsDir() {
		return nil, errno.ENOTDIR
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.children[name]; exists {
		return nil, errno.EEXIST
	}
	t := TypeRegular
	if isDir {
		t = TypeDirectory
	}
	n := b.newNode(t, mode)
	n.name = name
	n.parent = d
	d.children[name] = n
	return n, nil
}

func (b *MemBackend) Read(ctx context.Context, node Node, buf []byte, off int64) (int, error) {
	n, err := asMemNode(node)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ.IsDir() {
		return 0, errno.EISDIR
	}
	if off >= int64(len(n.data)) {
		return 0, nil
	}
	return copy(buf, n.data[off:]), nil
}

func (b *MemBackend) Write(ctx context.Context, node Node, data []byte, off int64) (int, error) {
	n, err := asMemNode(node)
	if err != nil {
		return 0, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ.IsDir() {
		return 0, errno.EISDIR
	}
	end := off + int64(len(data))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[off:end], data)
	return len(data), nil
}

func (b *MemBackend) Readdir(ctx context.Context, dir Node) ([]Dirent, error) {
	d, err := asMemNode(dir)
	if err != nil {
		return nil, err
	}
	if !d.typ.IsDir() {
		return nil, errno.ENOTDIR
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Dirent, 0, len(d.children))
	for name, ch := range d.children {
		out = append(out, Dirent{Name: name, Ino: ch.ino, Type: ch.typ})
	}
	return out, nil
}

func (b *MemBackend) Unlink(ctx context.Context, dir Node, name string) error {
	d, err := asMemNode(dir)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.children[name]
	if !ok {
		return errno.ENOENT
	}
	if ch.typ.IsDir() {
		return errno.EISDIR
	}
	delete(d.children, name)
	return nil
}

func (b *MemBackend) Rmdir(ctx context.Context, dir Node, name string) error {
	d, err := asMemNode(dir)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.children[name]
	if !ok {
		return errno.ENOENT
	}
	if !ch.typ.IsDir() {
		return errno.ENOTDIR
	}
	if len(ch.children) > 0 {
		return errno.EEXIST
	}
	delete(d.children, name)
	return nil
}

func (b *MemBackend) Rename(ctx context.Context, oldDir Node, oldName string, newDir Node, newName string) error {
	od, err := asMemNode(oldDir)
	if err != nil {
		return err
	}
	nd, err := asMemNode(newDir)
	if err != nil {
		return err
	}
	od.mu.Lock()
	ch, ok := od.children[oldName]
	if ok {
		delete(od.children, oldName)
	}
	od.mu.Unlock()
	if !ok {
		return errno.ENOENT
	}
	ch.name = newName
	ch.parent = nd
	nd.mu.Lock()
	nd.children[newName] = ch
	nd.mu.Unlock()
	return nil
}

func (b *MemBackend) Readlink(ctx context.Context, node Node) (string, error) {
	n, err := asMemNode(node)
	if err != nil {
		return "", err
	}
	if n.typ != TypeSymlink {
		return "", errno.ENOLINK
	}
	return n.target, nil
}

// Symlink creates a real symlink node. kernel/syscalls.Link does NOT
// call this: link(2) there creates an empty file rather than a second
// entry for the same inode, and that behavior is intentional.
func (b *MemBackend) Symlink(ctx context.Context, dir Node, name, target string) (Node, error) {
	d, err := asMemNode(dir)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.children[name]; exists {
		return nil, errno.EEXIST
	}
	n := b.newNode(TypeSymlink, 0777)
	n.name = name
	n.parent = d
	n.target = target
	d.children[name] = n
	return n, nil
}

func (b *MemBackend) Ioctl(ctx context.Context, node Node, cmd uint64, arg uint64) (uint64, error) {
	return 0, errno.ENOSYS
}

func (b *MemBackend) Dup(ctx context.Context, node Node) (Node, error) {
	n, err := asMemNode(node)
	if err != nil {
		return nil, err
	}
	n.Ref()
	return n, nil
}

func (b *MemBackend) FullPath(ctx context.Context, node Node) (string, error) {
	n, err := asMemNode(node)
	if err != nil {
		return "", err
	}
	if n == b.root {
		return "/", nil
	}
	var parts []string
	for cur := n; cur != nil && cur != b.root; cur = cur.parent {
		parts = append([]string{cur.name}, parts...)
	}
	return "/" + strings.Join(parts, "/"), nil
}
