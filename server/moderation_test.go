package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestModerationLedger_Transitions(t *testing.T) {
	ledger := NewModerationLedger(zap.NewNop())
	ts := time.Now()

	entries := ledger.Apply("usr_local", "usr_a", "Alice", true, false, ts)
	require.Len(t, entries, 1)
	assert.Equal(t, EntryBlocked, entries[0].Type)

	// Re-reporting the same flags is not a transition.
	entries = ledger.Apply("usr_local", "usr_a", "Alice", true, false, ts.Add(time.Second))
	assert.Empty(t, entries)

	// Adding a mute while blocked transitions only the mute.
	entries = ledger.Apply("usr_local", "usr_a", "Alice", true, true, ts.Add(2*time.Second))
	require.Len(t, entries, 1)
	assert.Equal(t, EntryMuted, entries[0].Type)

	// Clearing both yields both inverse transitions.
	entries = ledger.Apply("usr_local", "usr_a", "Alice", false, false, ts.Add(3*time.Second))
	require.Len(t, entries, 2)
	types := []EntryType{entries[0].Type, entries[1].Type}
	assert.Contains(t, types, EntryUnblocked)
	assert.Contains(t, types, EntryUnmuted)
}

func TestModerationLedger_SweepExpiry(t *testing.T) {
	ledger := NewModerationLedger(zap.NewNop())
	ts := time.Now()

	ledger.Apply("usr_local", "usr_a", "Alice", true, false, ts)
	ledger.Apply("usr_local", "usr_b", "Bob", true, false, ts)
	require.Len(t, ledger.Records(), 2)

	// First sweep without confirmation: records expire but survive.
	confirmed := map[moderationKey]bool{
		ConfirmKey("usr_local", "usr_a", ModerationBlock): true,
	}
	ledger.Sweep(confirmed, ts.Add(time.Minute))
	records := ledger.Records()
	require.Len(t, records, 2)
	for _, record := range records {
		if record.TargetID == "usr_b" {
			assert.True(t, record.Expired)
		} else {
			assert.False(t, record.Expired)
		}
	}

	// Second unconfirmed sweep converts expired to deleted.
	ledger.Sweep(confirmed, ts.Add(2*time.Minute))
	records = ledger.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "usr_a", records[0].TargetID)
}

func TestModerationLedger_ReportConfirmsExpired(t *testing.T) {
	ledger := NewModerationLedger(zap.NewNop())
	ts := time.Now()

	ledger.Apply("usr_local", "usr_a", "Alice", true, false, ts)
	ledger.Sweep(map[moderationKey]bool{}, ts.Add(time.Minute))

	// A live report between sweeps clears the expired mark.
	entries := ledger.Apply("usr_local", "usr_a", "Alice", true, false, ts.Add(90*time.Second))
	assert.Empty(t, entries)
	ledger.Sweep(map[moderationKey]bool{}, ts.Add(2*time.Minute))
	require.Len(t, ledger.Records(), 1)
}
