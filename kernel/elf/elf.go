// Package elf decodes ELF64 executables using the standard library's
// debug/elf reader and places their PT_LOAD segments into an address
// space through the arch.AddressSpace collaborator. debug/elf is the
// one stdlib dependency this module leans on deliberately: no
// reference ELF parser fits here, and reimplementing program-header
// decoding by hand would just be a slower, less-tested copy of what
// the standard library already does correctly (see DESIGN.md).
package elf

import (
	"bytes"
	"debug/elf"

	"github.com/wenxuanjun/naos/kernel/arch"
	"github.com/wenxuanjun/naos/kernel/errno"
)

// InterpreterBaseAddr is the fixed load address used for a PT_INTERP
// dynamic linker image.
const InterpreterBaseAddr = 0x0000_5555_0000_0000

// PageSize is the page granularity used for the auxv AT_PAGESZ value.
const PageSize = 4096

// Result is what Load reports about one mapped image: its entry
// point and the [start, end) virtual address range its PT_LOAD
// segments occupied, used to set Task.LoadStart/LoadEnd.
type Result struct {
	Entry uint64
	Start uint64
	End   uint64
	Phdr  uint64
	Phent uint64
	Phnum uint64

	InterpPath string
}

func pageAlignDown(v uint64) uint64 { return v &^ (PageSize - 1) }
func pageAlignUp(v uint64) uint64   { return (v + PageSize - 1) &^ (PageSize - 1) }

// Load validates the ELF header, maps every PT_LOAD segment into as
// at p_vaddr+base, and returns the entry point and load range. A
// malformed header or e_entry == 0 reports errno.EINVAL.
func Load(as arch.AddressSpace, data []byte, base uint64) (*Result, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errno.EINVAL
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, errno.EINVAL
	}
	if f.Entry == 0 {
		return nil, errno.EINVAL
	}

	res := &Result{Entry: f.Entry + base}
	var start, end uint64 = ^uint64(0), 0
	var phdrVaddr uint64
	var phdrFound bool

	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			vaddr := p.Vaddr + base
			lo := pageAlignDown(vaddr)
			hi := pageAlignUp(vaddr + p.Memsz)
			if lo < start {
				start = lo
			}
			if hi > end {
				end = hi
			}
			if err := as.MapUserPages(lo, hi-lo, p.Flags&elf.PF_W != 0, p.Flags&elf.PF_X != 0); err != nil {
				return nil, err
			}
			seg := make([]byte, p.Filesz)
			if _, err := p.ReadAt(seg, 0); err != nil {
				return nil, errno.EIO
			}
			if err := as.Write(vaddr, seg); err != nil {
				return nil, err
			}
			if p.Memsz > p.Filesz {
				if err := as.Zero(vaddr+p.Filesz, p.Memsz-p.Filesz); err != nil {
					return nil, err
				}
			}
		case elf.PT_INTERP:
			buf := make([]byte, p.Filesz)
			if _, err := p.ReadAt(buf, 0); err == nil {
				res.InterpPath = string(bytes.TrimRight(buf, "\x00"))
			}
		case elf.PT_PHDR:
			phdrVaddr = p.Vaddr + base
			phdrFound = true
		}
	}

	if !phdrFound {
		// No explicit PT_PHDR (common for static, non-PIE images).
		// AT_PHDR only needs to be a plausible value inside the image;
		// the lowest page-aligned PT_LOAD address is as good as any.
		phdrVaddr = start
	}

	res.Start = start
	res.End = end
	res.Phdr = phdrVaddr
	res.Phent = uint64(progHeaderEntSize)
	res.Phnum = uint64(len(f.Progs))
	return res, nil
}

const progHeaderEntSize = 56 // sizeof(Elf64_Phdr)

// IsShebang reports whether data begins with "#!", the marker exec
// checks before treating a file as an ELF image. The interpreter
// named on the line is never parsed out: a shebang always re-execs
// via /bin/sh.
func IsShebang(data []byte) bool {
	return len(data) >= 2 && data[0] == '#' && data[1] == '!'
}
