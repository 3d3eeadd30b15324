// Package errno defines the syscall return-value currency used across
// the kernel core: a POSIX errno wrapped so it can travel either as a
// Go error or as the signed 64-bit value the syscall ABI expects.
package errno

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Errno is a POSIX error number. Functions that can fail return it as
// an error value; success is a nil error, not Errno(0).
type Errno unix.Errno

// Sourced from unix.* rather than hand-rolled.
const (
	EFAULT      = Errno(unix.EFAULT)
	EINVAL      = Errno(unix.EINVAL)
	ERANGE      = Errno(unix.ERANGE)
	ENOSYS      = Errno(unix.ENOSYS)
	EBADF       = Errno(unix.EBADF)
	ENOENT      = Errno(unix.ENOENT)
	ENOTDIR     = Errno(unix.ENOTDIR)
	EISDIR      = Errno(unix.EISDIR)
	EEXIST      = Errno(unix.EEXIST)
	ENOLINK     = Errno(unix.ENOLINK)
	EIO         = Errno(unix.EIO)
	ENOMEM      = Errno(unix.ENOMEM)
	ENOSPC      = Errno(unix.ENOSPC)
	EMFILE      = Errno(unix.EMFILE)
	EWOULDBLOCK = Errno(unix.EWOULDBLOCK)
	EAGAIN      = Errno(unix.EAGAIN)
	EACCES      = Errno(unix.EACCES)
	EINTR       = Errno(unix.EINTR)
	ECHILD      = Errno(unix.ECHILD)
)

func (e Errno) Error() string {
	return unix.Errno(e).Error()
}

// Negative reports the syscall ABI encoding of e: a value in
// [-4095, -1].
func (e Errno) Negative() int64 {
	return -int64(e)
}

// ToReturn converts a (result, error) pair from an internal operation
// into the single signed 64-bit value a syscall returns: a negative
// errno on failure, the non-negative result on success.
func ToReturn(result int64, err error) int64 {
	if err == nil {
		return result
	}
	var e Errno
	if as, ok := err.(Errno); ok {
		e = as
	} else {
		e = EIO
	}
	return e.Negative()
}

// FromSyscallErr maps an error coming back from a VFS backend call
// into the taxonomy above. VFS backends are expected to already
// return an Errno; anything else is reported as EIO so that a
// misbehaving backend cannot leak an unbounded error value across the
// syscall boundary.
func FromSyscallErr(err error) Errno {
	if err == nil {
		return 0
	}
	if e, ok := err.(Errno); ok {
		return e
	}
	return EIO
}

// Is reports whether err unwraps to the given Errno.
func Is(err error, target Errno) bool {
	e, ok := err.(Errno)
	return ok && e == target
}

var _ fmt.Stringer = Errno(0)

func (e Errno) String() string {
	return e.Error()
}
