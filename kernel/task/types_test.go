package task

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestStateString(t *testing.T) {
	require.Equal(t, "READY", Ready.String())
	require.Equal(t, "RUNNING", Running.String())
	require.Equal(t, "BLOCKING", Blocking.String())
	require.Equal(t, "DIED", Died.String())
}

func TestDefaultTermiosSetsCanonicalFlags(t *testing.T) {
	term := defaultTermios()
	require.NotZero(t, term.Lflag&unix.ICANON)
	require.NotZero(t, term.Lflag&unix.ECHO)
	require.EqualValues(t, 3, term.Cc[unix.VINTR])
	require.EqualValues(t, 4, term.Cc[unix.VEOF])
	require.EqualValues(t, 1, term.Cc[unix.VMIN])
}
