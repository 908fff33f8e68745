package server

import (
	"time"

	"go.uber.org/zap"
)

type ModerationType string

const (
	ModerationBlock ModerationType = "block"
	ModerationMute  ModerationType = "mute"
)

// ModerationRecord is one block/mute edge between two users. Expired marks
// a record not confirmed by the latest full refresh; a second unconfirmed
// sweep converts it to deleted.
type ModerationRecord struct {
	SourceID    string         `json:"source_id"`
	TargetID    string         `json:"target_id"`
	DisplayName string         `json:"display_name"`
	Type        ModerationType `json:"type"`
	Deleted     bool           `json:"deleted"`
	Expired     bool           `json:"expired"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type moderationKey struct {
	sourceID string
	targetID string
	kind     ModerationType
}

// ModerationLedger tracks the local user's block/mute state per target and
// emits feed entries on transitions only.
type ModerationLedger struct {
	logger  *zap.Logger
	records map[moderationKey]*ModerationRecord
}

func NewModerationLedger(logger *zap.Logger) *ModerationLedger {
	return &ModerationLedger{
		logger:  logger,
		records: make(map[moderationKey]*ModerationRecord),
	}
}

// Apply reconciles reported block/mute flags against the ledger and
// returns feed entries for every state change.
func (l *ModerationLedger) Apply(sourceID, targetID, displayName string, block, mute bool, ts time.Time) []FeedEntry {
	var entries []FeedEntry
	if e, changed := l.applyOne(sourceID, targetID, displayName, ModerationBlock, block, ts); changed {
		entries = append(entries, e)
	}
	if e, changed := l.applyOne(sourceID, targetID, displayName, ModerationMute, mute, ts); changed {
		entries = append(entries, e)
	}
	return entries
}

func (l *ModerationLedger) applyOne(sourceID, targetID, displayName string, kind ModerationType, active bool, ts time.Time) (FeedEntry, bool) {
	key := moderationKey{sourceID: sourceID, targetID: targetID, kind: kind}
	record, ok := l.records[key]

	wasActive := ok && !record.Deleted
	if wasActive == active {
		if ok {
			record.Expired = false
			record.UpdatedAt = ts
		}
		return FeedEntry{}, false
	}

	if record == nil {
		record = &ModerationRecord{SourceID: sourceID, TargetID: targetID, Type: kind}
		l.records[key] = record
	}
	record.DisplayName = displayName
	record.Deleted = !active
	record.Expired = false
	record.UpdatedAt = ts

	entry := NewFeedEntry(ShapeModeration, moderationEntryType(kind, active), ts)
	entry.UserID = targetID
	entry.DisplayName = displayName
	return entry, true
}

// Records returns the live (non-deleted) records.
func (l *ModerationLedger) Records() []*ModerationRecord {
	records := make([]*ModerationRecord, 0, len(l.records))
	for _, record := range l.records {
		if !record.Deleted {
			records = append(records, record)
		}
	}
	return records
}

// Sweep runs the expiry pass after a full refresh. Records absent from the
// confirmed set are expired on the first unconfirmed sweep and deleted on
// the second.
func (l *ModerationLedger) Sweep(confirmed map[moderationKey]bool, ts time.Time) {
	for key, record := range l.records {
		if record.Deleted || confirmed[key] {
			continue
		}
		if record.Expired {
			record.Deleted = true
			record.UpdatedAt = ts
			l.logger.Debug("Moderation record deleted by sweep",
				zap.String("target_id", record.TargetID), zap.String("type", string(record.Type)))
			continue
		}
		record.Expired = true
		record.UpdatedAt = ts
	}
}

// ConfirmKey builds a sweep confirmation key.
func ConfirmKey(sourceID, targetID string, kind ModerationType) moderationKey {
	return moderationKey{sourceID: sourceID, targetID: targetID, kind: kind}
}

func moderationEntryType(kind ModerationType, active bool) EntryType {
	switch {
	case kind == ModerationBlock && active:
		return EntryBlocked
	case kind == ModerationBlock:
		return EntryUnblocked
	case active:
		return EntryMuted
	default:
		return EntryUnmuted
	}
}
