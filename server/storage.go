package server

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// FeedStore is the append-only feed history on embedded SQLite. One table
// holds every shape; point-lookup queries cover the handful of shapes the
// UI asks for (last location time, per-user join/leave stats).
type FeedStore struct {
	logger *zap.Logger
	db     *sql.DB
}

const feedSchema = `
CREATE TABLE IF NOT EXISTS feed (
	id           TEXT PRIMARY KEY,
	created_at   INTEGER NOT NULL,
	shape        TEXT NOT NULL,
	type         TEXT NOT NULL,
	user_id      TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	avatar_id    TEXT NOT NULL DEFAULT '',
	elapsed_ms   INTEGER NOT NULL DEFAULT 0,
	is_friend    INTEGER NOT NULL DEFAULT 0,
	is_favorite  INTEGER NOT NULL DEFAULT 0,
	tag_colour   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_feed_created ON feed (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_feed_shape ON feed (shape, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_feed_user ON feed (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS user_stats (
	user_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	join_count   INTEGER NOT NULL DEFAULT 0,
	leave_count  INTEGER NOT NULL DEFAULT 0,
	last_seen    INTEGER NOT NULL DEFAULT 0
);
`

func NewFeedStore(logger *zap.Logger, uri string) (*FeedStore, error) {
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("open feed store: %w", err)
	}
	if _, err := db.Exec(feedSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate feed store: %w", err)
	}
	return &FeedStore{logger: logger, db: db}, nil
}

func (s *FeedStore) Close() error {
	return s.db.Close()
}

// AppendAll writes a batch of feed entries and bumps per-user counters in
// one transaction.
func (s *FeedStore) AppendAll(entries []FeedEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		_, err := tx.Exec(`INSERT OR IGNORE INTO feed
			(id, created_at, shape, type, user_id, display_name, location, message, avatar_id, elapsed_ms, is_friend, is_favorite, tag_colour)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID.String(), entry.CreatedAt.UnixMilli(), string(entry.Shape), string(entry.Type),
			entry.UserID, entry.DisplayName, entry.Location, entry.Message, entry.AvatarID,
			entry.Elapsed.Milliseconds(), entry.IsFriend, entry.IsFavorite, entry.TagColour)
		if err != nil {
			return fmt.Errorf("append feed entry: %w", err)
		}

		if entry.UserID == "" {
			continue
		}
		switch entry.Type {
		case EntryOnPlayerJoined:
			if err := bumpStat(tx, entry, "join_count"); err != nil {
				return err
			}
		case EntryOnPlayerLeft:
			if err := bumpStat(tx, entry, "leave_count"); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func bumpStat(tx *sql.Tx, entry FeedEntry, column string) error {
	_, err := tx.Exec(fmt.Sprintf(`INSERT INTO user_stats (user_id, display_name, %[1]s, last_seen)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			%[1]s = %[1]s + 1,
			display_name = excluded.display_name,
			last_seen = excluded.last_seen`, column),
		entry.UserID, entry.DisplayName, entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("bump %s: %w", column, err)
	}
	return nil
}

// Recent returns the newest entries for one shape.
func (s *FeedStore) Recent(shape FeedShape, limit int) ([]FeedEntry, error) {
	rows, err := s.db.Query(`SELECT created_at, shape, type, user_id, display_name, location, message, avatar_id, elapsed_ms, is_friend, is_favorite, tag_colour
		FROM feed WHERE shape = ? ORDER BY created_at DESC LIMIT ?`, string(shape), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var entries []FeedEntry
	for rows.Next() {
		var entry FeedEntry
		var createdMs, elapsedMs int64
		var shapeStr, typeStr string
		if err := rows.Scan(&createdMs, &shapeStr, &typeStr, &entry.UserID, &entry.DisplayName,
			&entry.Location, &entry.Message, &entry.AvatarID, &elapsedMs,
			&entry.IsFriend, &entry.IsFavorite, &entry.TagColour); err != nil {
			return nil, fmt.Errorf("scan feed entry: %w", err)
		}
		entry.CreatedAt = time.UnixMilli(createdMs)
		entry.Shape = FeedShape(shapeStr)
		entry.Type = EntryType(typeStr)
		entry.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// LastLocationTime returns when a location tag was last entered.
func (s *FeedStore) LastLocationTime(tag string) (time.Time, error) {
	var createdMs int64
	err := s.db.QueryRow(`SELECT created_at FROM feed
		WHERE type = ? AND location = ? ORDER BY created_at DESC LIMIT 1`,
		string(EntryGPS), tag).Scan(&createdMs)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last location: %w", err)
	}
	return time.UnixMilli(createdMs), nil
}

// UserStats is the "times played with" counters for one user.
type UserStats struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinCount   int       `json:"join_count"`
	LeaveCount  int       `json:"leave_count"`
	LastSeen    time.Time `json:"last_seen"`
}

func (s *FeedStore) UserStats(userID string) (*UserStats, error) {
	stats := &UserStats{UserID: userID}
	var lastSeenMs int64
	err := s.db.QueryRow(`SELECT display_name, join_count, leave_count, last_seen
		FROM user_stats WHERE user_id = ?`, userID).
		Scan(&stats.DisplayName, &stats.JoinCount, &stats.LeaveCount, &lastSeenMs)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user stats: %w", err)
	}
	stats.LastSeen = time.UnixMilli(lastSeenMs)
	return stats, nil
}
