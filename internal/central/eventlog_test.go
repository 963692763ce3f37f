package central

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLog_ChronologicalOrder(t *testing.T) {
	// GOAL: Verify milestones and values share one oldest-first order
	//
	// TEST SCENARIO: Record milestone, value, milestone → snapshot returns them in that order

	l := NewEventLog(0)
	l.Record("p1", EntryMilestone, msgConnected)
	l.Record("p1", EntryValue, valueMessage([]byte{0x01}))
	l.Record("p1", EntryMilestone, msgDisconnected)

	entries := l.Snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, "connected", entries[0].Message)
	assert.Equal(t, "Sample value updated to: <0x01>", entries[1].Message)
	assert.Equal(t, "disconnected", entries[2].Message)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{entries[0].Seq, entries[1].Seq, entries[2].Seq})
}

func TestEventLog_MaxEntriesDropsOldest(t *testing.T) {
	l := NewEventLog(2)
	l.Record("p1", EntryMilestone, "a")
	l.Record("p1", EntryMilestone, "b")
	l.Record("p1", EntryMilestone, "c")

	entries := l.Snapshot()
	require.Len(t, entries, 2, "log MUST be capped")
	assert.Equal(t, "b", entries[0].Message)
	assert.Equal(t, "c", entries[1].Message)
	assert.Equal(t, uint64(3), entries[1].Seq, "sequence numbers MUST keep counting past dropped entries")
}

func TestEventLog_SnapshotIsACopy(t *testing.T) {
	l := NewEventLog(0)
	l.Record("p1", EntryMilestone, "a")

	snap := l.Snapshot()
	snap[0].Message = "mutated"

	assert.Equal(t, "a", l.Snapshot()[0].Message, "snapshot MUST not alias the log")
}

func TestEventLog_UsesClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewEventLog(0)
	l.now = func() time.Time { return at }

	e := l.Record("p1", EntryValue, "v")
	assert.Equal(t, at, e.Time)
	assert.Equal(t, EntryValue, e.Kind)
}

func TestEventLog_MessageFormats(t *testing.T) {
	assert.Equal(t, "Service: AAAA", serviceMessage("AAAA"))
	assert.Equal(t, "Descriptors: [BBBB, CCCC]", descriptorsMessage([]string{"BBBB", "CCCC"}))
	assert.Equal(t, "Sample value updated to: <0x0a0b>", valueMessage([]byte{0x0a, 0x0b}))
	assert.Equal(t, "Sample value updated to: <0x>", valueMessage(nil))
}
