package semantic

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLogs(n int, flaggedEvery int) []LogEntry {
	logs := make([]LogEntry, n)
	for i := range logs {
		logs[i] = LogEntry{
			RawTimestamp: int64(i) * 1000,
			Action:       fmt.Sprintf("entry %d", i),
		}
		if flaggedEvery > 0 && i%flaggedEvery == 0 {
			logs[i].Flags = []string{FlagNoResponse}
		}
	}
	return logs
}

func TestSelectLogsUnderLimitReturnsAll(t *testing.T) {
	logs := numberedLogs(10, 0)
	assert.Equal(t, logs, SelectLogs(logs, 150))
	assert.Equal(t, logs, SelectLogs(logs, 10))
}

func TestSelectLogsNoLimit(t *testing.T) {
	logs := numberedLogs(300, 0)
	assert.Len(t, SelectLogs(logs, 0), 300)
	assert.Len(t, SelectLogs(logs, -1), 300)
}

func TestSelectLogsKeepsFlaggedEntries(t *testing.T) {
	logs := numberedLogs(200, 20) // 10 flagged
	out := SelectLogs(logs, 50)

	require.Len(t, out, 50)
	flagged := 0
	for _, e := range out {
		if len(e.Flags) > 0 {
			flagged++
		}
	}
	assert.Equal(t, 10, flagged, "every flagged entry survives selection")
}

func TestSelectLogsPreservesOrder(t *testing.T) {
	logs := numberedLogs(500, 7)
	out := SelectLogs(logs, 150)

	require.Len(t, out, 150)
	assert.True(t, sort.SliceIsSorted(out, func(i, j int) bool {
		return out[i].RawTimestamp < out[j].RawTimestamp
	}))
}

func TestSelectLogsSpansTheSession(t *testing.T) {
	logs := numberedLogs(1000, 0)
	out := SelectLogs(logs, 10)

	require.Len(t, out, 10)
	assert.Equal(t, "entry 0", out[0].Action)
	// The last sample should land deep into the tail of the narrative.
	assert.Equal(t, "entry 900", out[9].Action)
}

func TestSelectLogsAllFlaggedOverBudget(t *testing.T) {
	logs := numberedLogs(300, 1)
	out := SelectLogs(logs, 100)

	require.Len(t, out, 100)
	for _, e := range out {
		assert.NotEmpty(t, e.Flags)
	}
}
