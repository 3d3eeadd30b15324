package task

import (
	"context"
	"encoding/binary"

	"github.com/wenxuanjun/naos/kernel/arch"
	"github.com/wenxuanjun/naos/kernel/elf"
	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/klog"
)

// UserStackTop and UserStackSize give the fixed user stack region
// exec maps for every image, following this core's fixed-size stack
// convention for kernel-side allocations.
const (
	UserStackTop  = 0x0000_7fff_ffff_f000
	UserStackSize = 8 * 1024 * 1024
)

const maxShebangChain = 8

// Exec implements exec(2). It is serialized by the table's exec
// lock, a real sleep lock rather than a busy-wait spin gate, so only
// one exec runs at a time across the whole table.
//
// On success it returns nil and t's ArchContext has been updated to
// resume in user mode at the loaded entry point; on success the call
// does not return to the pre-exec control flow, so the caller (the
// syscall dispatcher driving the arch layer) must not resume it.
func (tb *Table) Exec(ctx context.Context, as arch.AddressSpace, t *Task, path string, argv, envp []string) error {
	return tb.execChain(ctx, as, t, path, argv, envp, 0)
}

func (tb *Table) execChain(ctx context.Context, as arch.AddressSpace, t *Task, path string, argv, envp []string, depth int) error {
	if depth >= maxShebangChain {
		return errno.EINVAL
	}

	tb.exec.acquire(t.PID)

	node, err := tb.Backend.Resolve(ctx, t.CWD, path)
	if err != nil {
		tb.exec.release()
		return err
	}
	attr, err := node.Attr(ctx)
	if err != nil {
		tb.exec.release()
		return err
	}
	data := make([]byte, attr.Size)
	if _, err := tb.Backend.Read(ctx, node, data, 0); err != nil {
		tb.exec.release()
		return err
	}

	if elf.IsShebang(data) {
		// The interpreter named on the shebang line itself is not used
		// directly: a shebang always re-execs via /bin/sh.
		newArgv := append([]string{"/bin/sh", path}, argv[min(1, len(argv)):]...)
		tb.exec.release()
		return tb.execChain(ctx, as, t, "/bin/sh", newArgv, envp, depth+1)
	}

	defer tb.exec.release()

	main, err := elf.Load(as, data, 0)
	if err != nil {
		return err
	}

	entry := main.Entry
	if main.InterpPath != "" {
		interpNode, err := tb.Backend.Resolve(ctx, tb.Backend.Root(), main.InterpPath)
		if err != nil {
			return err
		}
		interpAttr, err := interpNode.Attr(ctx)
		if err != nil {
			return err
		}
		interpData := make([]byte, interpAttr.Size)
		if _, err := tb.Backend.Read(ctx, interpNode, interpData, 0); err != nil {
			return err
		}
		interpRes, err := elf.Load(as, interpData, elf.InterpreterBaseAddr)
		if err != nil {
			return err
		}
		entry = interpRes.Entry
	}

	if err := as.MapUserPages(UserStackTop-UserStackSize, UserStackSize, true, false); err != nil {
		return err
	}
	sp, err := buildUserStack(as, UserStackTop, argv, envp, main, path)
	if err != nil {
		return err
	}

	t.FDs.CloseExec(t.PID)
	t.Name = truncName(path)
	t.Cmdline = buildExecCmdline(argv)
	t.LoadStart = main.Start
	t.LoadEnd = main.End

	tb.Layer.ReplaceImage(t.ArchContext, entry, sp)
	klog.Task(t.PID).WithField("path", path).Info("exec")
	return nil
}

// Auxv types used by buildUserStack.
const (
	atNull   = 0
	atPhdr   = 3
	atPagesz = 6
	atBase   = 7
	atEntry  = 9
	atPhent  = 4
	atPhnum  = 5
	atExecfn = 31
)

// buildUserStack lays out argv strings, envp strings, an execfn
// string, and then (16-byte aligned) argc, argv pointers, envp
// pointers, and the auxv vector, top-down from top.
func buildUserStack(as arch.AddressSpace, top uint64, argv, envp []string, main *elf.Result, execfn string) (uint64, error) {
	cur := top

	writeStr := func(s string) (uint64, error) {
		b := append([]byte(s), 0)
		cur -= uint64(len(b))
		if err := as.Write(cur, b); err != nil {
			return 0, err
		}
		return cur, nil
	}

	argvPtrs := make([]uint64, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		p, err := writeStr(argv[i])
		if err != nil {
			return 0, err
		}
		argvPtrs[i] = p
	}
	envpPtrs := make([]uint64, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		p, err := writeStr(envp[i])
		if err != nil {
			return 0, err
		}
		envpPtrs[i] = p
	}
	execfnPtr, err := writeStr(execfn)
	if err != nil {
		return 0, err
	}

	cur &^= 0xf // 16-byte align before the argc push

	type pair struct{ a, b uint64 }
	auxv := []pair{
		{atPhdr, main.Phdr},
		{atPhent, main.Phent},
		{atPhnum, main.Phnum},
		{atEntry, main.Entry},
		{atExecfn, execfnPtr},
		{atBase, main.Start},
		{atPagesz, elf.PageSize},
		{atNull, 0},
	}

	words := 1 + len(argvPtrs) + 1 + len(envpPtrs) + 1 + len(auxv)*2
	cur -= uint64(words) * 8
	cur &^= 0xf

	out := cur
	write := func(v uint64) error {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		if err := as.Write(out, b[:]); err != nil {
			return err
		}
		out += 8
		return nil
	}

	if err := write(uint64(len(argv))); err != nil {
		return 0, err
	}
	for _, p := range argvPtrs {
		if err := write(p); err != nil {
			return 0, err
		}
	}
	if err := write(0); err != nil {
		return 0, err
	}
	for _, p := range envpPtrs {
		if err := write(p); err != nil {
			return 0, err
		}
	}
	if err := write(0); err != nil {
		return 0, err
	}
	for _, pr := range auxv {
		if err := write(pr.a); err != nil {
			return 0, err
		}
		if err := write(pr.b); err != nil {
			return 0, err
		}
	}

	return cur, nil
}
