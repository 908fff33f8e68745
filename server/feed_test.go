package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAggregator(config *Config) (*FeedAggregator, *TableSink) {
	logger := zap.NewNop()
	caller := newStubCaller()
	directory := NewDirectoryClient(logger, caller, config)
	cache := NewIdentityCache(logger, directory, config.IdentityCacheTTL)
	table := NewTableSink(config.TableFeedLimit)
	dispatcher := NewDispatcher(logger, config, cache, table)
	// Discard timer posts; tests flush explicitly for determinism.
	return NewFeedAggregator(logger, config, nil, dispatcher, func(func()) {}), table
}

func logEntry(entryType EntryType, displayName string, at time.Time) FeedEntry {
	entry := NewFeedEntry(ShapeLog, entryType, at)
	entry.DisplayName = displayName
	entry.UserID = "usr_" + displayName
	return entry
}

func TestFeedAggregator_BatchAndOrder(t *testing.T) {
	config := newTestConfig()
	aggregator, _ := newTestAggregator(config)

	base := time.Now()
	aggregator.Submit(logEntry(EntryOnPlayerJoined, "A", base.Add(-2*time.Second)))
	aggregator.Submit(logEntry(EntryOnPlayerJoined, "B", base.Add(-1*time.Second)))
	aggregator.Submit(logEntry(EntryOnPlayerJoined, "C", base))

	// Nothing visible until the batch window closes.
	assert.Empty(t, aggregator.Render())

	aggregator.Flush()
	feed := aggregator.Render()
	require.Len(t, feed, 3)
	assert.Equal(t, "C", feed[0].DisplayName, "newest first")
	assert.Equal(t, "A", feed[2].DisplayName)
}

func TestFeedAggregator_ReplayIsIdempotent(t *testing.T) {
	config := newTestConfig()
	aggregator, _ := newTestAggregator(config)

	base := time.Now()
	batch := []FeedEntry{
		logEntry(EntryOnPlayerJoined, "A", base),
		logEntry(EntryOnPlayerLeft, "A", base.Add(time.Second)),
	}
	for _, entry := range batch {
		aggregator.Submit(entry)
	}
	aggregator.Flush()
	first := aggregator.Table()

	// Replaying the same records (fresh ids, same content) changes
	// nothing.
	for _, entry := range batch {
		replay := NewFeedEntry(entry.Shape, entry.Type, entry.CreatedAt)
		replay.UserID = entry.UserID
		replay.DisplayName = entry.DisplayName
		replay.Message = entry.Message
		aggregator.Submit(replay)
	}
	aggregator.Flush()
	assert.Len(t, aggregator.Table(), len(first))
}

func TestFeedAggregator_CompactTruncation(t *testing.T) {
	config := newTestConfig()
	config.CompactFeedLimit = 4
	aggregator, _ := newTestAggregator(config)

	base := time.Now()
	for i := 0; i < 10; i++ {
		aggregator.Submit(logEntry(EntryOnPlayerJoined, string(rune('A'+i)), base.Add(time.Duration(i)*time.Second)))
	}
	aggregator.Flush()

	assert.Len(t, aggregator.Render(), 4)
	assert.Len(t, aggregator.Table(), 10)
}

func TestFeedAggregator_RetentionEviction(t *testing.T) {
	config := newTestConfig()
	aggregator, _ := newTestAggregator(config)

	base := time.Now()
	aggregator.Submit(logEntry(EntryOnPlayerJoined, "Old", base.Add(-25*time.Hour)))
	aggregator.Submit(logEntry(EntryOnPlayerJoined, "New", base))
	aggregator.Flush()

	feed := aggregator.Table()
	require.Len(t, feed, 1)
	assert.Equal(t, "New", feed[0].DisplayName)
}

func TestFeedAggregator_FilterTable(t *testing.T) {
	config := newTestConfig()
	config.Filters.Feed = map[string]FilterMode{
		string(EntryOnPlayerJoined): FilterFriends,
		string(EntryOnPlayerLeft):   FilterOff,
	}
	aggregator, _ := newTestAggregator(config)

	base := time.Now()
	friendJoin := logEntry(EntryOnPlayerJoined, "Friend", base)
	friendJoin.IsFriend = true
	aggregator.Submit(friendJoin)
	aggregator.Submit(logEntry(EntryOnPlayerJoined, "Stranger", base.Add(time.Second)))
	aggregator.Submit(logEntry(EntryOnPlayerLeft, "Friend", base.Add(2*time.Second)))
	aggregator.Flush()

	feed := aggregator.Table()
	require.Len(t, feed, 1)
	assert.Equal(t, "Friend", feed[0].DisplayName)
	assert.Equal(t, EntryOnPlayerJoined, feed[0].Type)
}
