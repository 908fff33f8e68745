package server

import (
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// FeedAggregator merges entries from every upstream producer into one
// ordered, deduplicated, filtered feed. Submissions batch behind a short
// window so a burst (an instance switch delivering dozens of joins at
// once) recomputes the visible feed once, not once per event.
type FeedAggregator struct {
	logger     *zap.Logger
	config     *Config
	store      *FeedStore
	dispatcher *Dispatcher

	// post re-enters the engine loop when the batch timer fires.
	post func(func())
	now  func() time.Time

	shapes map[FeedShape][]FeedEntry
	seen   map[string]struct{}

	pending    []FeedEntry
	flushTimer *time.Timer

	rendered []FeedEntry
}

func NewFeedAggregator(logger *zap.Logger, config *Config, store *FeedStore, dispatcher *Dispatcher, post func(func())) *FeedAggregator {
	return &FeedAggregator{
		logger:     logger,
		config:     config,
		store:      store,
		dispatcher: dispatcher,
		post:       post,
		now:        time.Now,
		shapes:     make(map[FeedShape][]FeedEntry),
		seen:       make(map[string]struct{}),
	}
}

// Submit queues one entry. The externally visible feed updates when the
// batch window closes.
func (a *FeedAggregator) Submit(entry FeedEntry) {
	a.pending = append(a.pending, entry)
	if a.flushTimer != nil {
		return
	}
	a.flushTimer = time.AfterFunc(a.config.BatchWindow, func() {
		a.post(a.Flush)
	})
}

// Flush applies the pending batch: dedupe, retention, persistence,
// recompute, dispatch. Runs on the engine loop.
func (a *FeedAggregator) Flush() {
	a.flushTimer = nil
	if len(a.pending) == 0 {
		return
	}
	batch := a.pending
	a.pending = nil

	accepted := make([]FeedEntry, 0, len(batch))
	for _, entry := range batch {
		key := dedupeKey(entry)
		if _, dup := a.seen[key]; dup {
			continue
		}
		a.seen[key] = struct{}{}
		a.shapes[entry.Shape] = append(a.shapes[entry.Shape], entry)
		accepted = append(accepted, entry)
	}
	if len(accepted) == 0 {
		return
	}

	a.evict()
	a.recompute()

	if a.store != nil {
		if err := a.store.AppendAll(accepted); err != nil {
			a.logger.Warn("Feed persistence failed", zap.Int("count", len(accepted)), zap.Error(err))
		}
	}
	for _, entry := range accepted {
		a.dispatcher.Dispatch(entry)
	}
	metricsFeedEntries.Add(float64(len(accepted)))
}

// Render returns the compact display feed: every shape filtered by its
// table, concatenated, newest first, truncated to the compact budget.
func (a *FeedAggregator) Render() []FeedEntry {
	if a.rendered == nil {
		return nil
	}
	limit := a.config.CompactFeedLimit
	if limit > len(a.rendered) {
		limit = len(a.rendered)
	}
	return a.rendered[:limit]
}

// Table returns the full table view, bounded by the configured max.
func (a *FeedAggregator) Table() []FeedEntry {
	return a.rendered
}

func (a *FeedAggregator) recompute() {
	merged := make([]FeedEntry, 0, 64)
	for _, shape := range []FeedShape{ShapeLog, ShapeAPI, ShapeNotification, ShapeFriendLog, ShapeModeration} {
		merged = append(merged, lo.Filter(a.shapes[shape], func(entry FeedEntry, _ int) bool {
			return passesFilter(a.config.Filters.Feed, entry)
		})...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	if len(merged) > a.config.TableFeedLimit {
		merged = merged[:a.config.TableFeedLimit]
	}
	a.rendered = merged
}

// evict sweeps each shape ascending and drops entries older than the
// retention window.
func (a *FeedAggregator) evict() {
	horizon := a.now().Add(-a.config.RetentionWindow)
	for shape, entries := range a.shapes {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.CreatedAt.Before(horizon) {
				delete(a.seen, dedupeKey(entry))
				continue
			}
			kept = append(kept, entry)
		}
		a.shapes[shape] = kept
	}
}

// passesFilter evaluates one per-type filter table value. Types without an
// entry default to on.
func passesFilter(table map[string]FilterMode, entry FeedEntry) bool {
	mode, ok := table[string(entry.Type)]
	if !ok {
		return true
	}
	switch mode {
	case FilterOff:
		return false
	case FilterFriends:
		return entry.IsFriend
	case FilterVIP:
		return entry.IsFavorite
	case FilterOn, FilterEveryone:
		return true
	default:
		return true
	}
}

// dedupeKey identifies an entry by content, not by id, so replaying the
// same source log yields the same feed.
func dedupeKey(entry FeedEntry) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d|%s",
		entry.Shape, entry.Type, entry.UserID, entry.DisplayName,
		entry.CreatedAt.UnixMilli(), entry.Message)
}
