package syscalls

import "github.com/wenxuanjun/naos/kernel/errno"

// userRangeEnd is the exclusive top of the canonical lower-half user
// address range on 64-bit hardware.
const userRangeEnd = 0x0000_8000_0000_0000

// CheckUserRange validates a user pointer and length the way every
// pointer-taking syscall must before touching the range: the span may
// not wrap around the address space and may not reach past the user
// range. Violations report EFAULT.
func CheckUserRange(addr, length uint64) error {
	end := addr + length
	if end < addr || end > userRangeEnd {
		return errno.EFAULT
	}
	return nil
}
