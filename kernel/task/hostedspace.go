package task

import (
	"encoding/binary"
	"sync"

	"github.com/wenxuanjun/naos/kernel/errno"
)

// HostedAddressSpace is a map-backed arch.AddressSpace stand-in: pages
// are simulated as byte ranges in a Go map rather than real mapped
// memory. It exists for tests and cmd/naosctl's demo session, which
// have no real page tables to drive exec against.
type HostedAddressSpace struct {
	mu     sync.Mutex
	mapped map[uint64]bool // page-aligned addresses that have been mapped
	bytes  map[uint64]byte
}

func NewHostedAddressSpace() *HostedAddressSpace {
	return &HostedAddressSpace{mapped: make(map[uint64]bool), bytes: make(map[uint64]byte)}
}

const hostedPageSize = 4096

func (a *HostedAddressSpace) MapUserPages(vaddr, length uint64, writable, executable bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := vaddr &^ (hostedPageSize - 1)
	end := (vaddr + length + hostedPageSize - 1) &^ (hostedPageSize - 1)
	for p := start; p < end; p += hostedPageSize {
		a.mapped[p] = true
	}
	return nil
}

func (a *HostedAddressSpace) requireMapped(addr uint64, length uint64) error {
	start := addr &^ (hostedPageSize - 1)
	end := (addr + length + hostedPageSize - 1) &^ (hostedPageSize - 1)
	for p := start; p < end; p += hostedPageSize {
		if !a.mapped[p] {
			return errno.EFAULT
		}
	}
	return nil
}

func (a *HostedAddressSpace) Write(vaddr uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireMapped(vaddr, uint64(len(data))); err != nil {
		return err
	}
	for i, b := range data {
		a.bytes[vaddr+uint64(i)] = b
	}
	return nil
}

func (a *HostedAddressSpace) Zero(vaddr, length uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.requireMapped(vaddr, length); err != nil {
		return err
	}
	for i := uint64(0); i < length; i++ {
		a.bytes[vaddr+i] = 0
	}
	return nil
}

// Read is a test/debug accessor, not part of arch.AddressSpace: it
// reads back bytes previously written, for assertions.
func (a *HostedAddressSpace) Read(vaddr uint64, length int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, length)
	for i := range out {
		out[i] = a.bytes[vaddr+uint64(i)]
	}
	return out
}

// ReadUint64 reads a little-endian word, the way a futex.Word
// implementation backed by this address space would.
func (a *HostedAddressSpace) ReadUint64(vaddr uint64) uint64 {
	return binary.LittleEndian.Uint64(a.Read(vaddr, 8))
}
