package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wenxuanjun/naos/kernel/errno"
)

func TestHostedAddressSpaceRequiresMapping(t *testing.T) {
	as := NewHostedAddressSpace()
	err := as.Write(0x1000, []byte("hi"))
	require.Equal(t, errno.EFAULT, err)
}

func TestHostedAddressSpaceWriteReadRoundTrip(t *testing.T) {
	as := NewHostedAddressSpace()
	require.NoError(t, as.MapUserPages(0x1000, 0x1000, true, false))
	require.NoError(t, as.Write(0x1000, []byte("hello")))
	require.Equal(t, []byte("hello"), as.Read(0x1000, 5))
}

func TestHostedAddressSpaceZero(t *testing.T) {
	as := NewHostedAddressSpace()
	require.NoError(t, as.MapUserPages(0x2000, 0x10, true, false))
	require.NoError(t, as.Write(0x2000, []byte{1, 2, 3, 4}))
	require.NoError(t, as.Zero(0x2000, 4))
	require.Equal(t, []byte{0, 0, 0, 0}, as.Read(0x2000, 4))
}

func TestHostedAddressSpaceReadUint64(t *testing.T) {
	as := NewHostedAddressSpace()
	require.NoError(t, as.MapUserPages(0x3000, 8, true, false))
	require.NoError(t, as.Write(0x3000, []byte{1, 0, 0, 0, 0, 0, 0, 0}))
	require.EqualValues(t, 1, as.ReadUint64(0x3000))
}
