package demo_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wenxuanjun/naos/cmd/naosctl/internal/demo"
)

func TestRunProducesExpectedScenarioOutput(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, demo.Run(2, &out))

	text := out.String()
	require.Contains(t, text, "booted 2 idle task(s)")
	require.Contains(t, text, "want 1792") // 7 << 8, the scenario-1 exit-status encoding
	require.Contains(t, text, "want EWOULDBLOCK")
	require.Contains(t, text, "timerfd expirations after 5 jiffies=4")
	require.True(t, strings.Contains(text, "futex wake count=1"))
}
