package task

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/wenxuanjun/naos/kernel/errno"
	"github.com/wenxuanjun/naos/kernel/klog"
)

func TestNewTableStampsBootID(t *testing.T) {
	tb := newTestTable(t, 1)
	require.NotEqual(t, uuid.Nil, tb.BootID)
}

func TestSlotAllocatorExhaustionReportsENOMEM(t *testing.T) {
	old := klog.L.GetLevel()
	klog.L.SetLevel(logrus.WarnLevel)
	defer klog.L.SetLevel(old)

	tb := newTestTable(t, 1)
	_, err := tb.Boot(0x1000, 0x2000)
	require.NoError(t, err)

	created := 0
	for {
		_, cerr := tb.Create("filler", 0x3000, 0)
		if cerr != nil {
			require.Equal(t, errno.ENOMEM, cerr)
			break
		}
		created++
	}
	// PID 0 is reserved for the idle task and init already holds one
	// numbered slot.
	require.Equal(t, MaxTaskNum-2, created)

	// Reaping frees the slot (and its semaphore unit) for the next
	// create.
	victim := tb.Get(2)
	require.NotNil(t, victim)
	tb.Exit(victim, 0)
	tb.reap(victim)

	again, err := tb.Create("again", 0x3000, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, again.PID)
}
