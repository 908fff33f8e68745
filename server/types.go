package server

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// UserProfile is the durable directory record for one user, as held by
// the identity cache.
type UserProfile struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"displayName"`
	AvatarID          string    `json:"currentAvatarId"`
	AvatarImageURL    string    `json:"currentAvatarImageUrl"`
	StatusDescription string    `json:"statusDescription"`
	State             string    `json:"state"`
	Bio               string    `json:"bio"`
	IsFriend          bool      `json:"isFriend"`
	IsFavorite        bool      `json:"isFavorite"`
	Tag               string    `json:"tag,omitempty"`
	TagColour         string    `json:"tagColour,omitempty"`
	FetchedAt         time.Time `json:"-"`
}

// FeedShape buckets feed entries by origin. Each shape has its own
// retention window and filter table.
type FeedShape string

const (
	ShapeLog          FeedShape = "log"
	ShapeAPI          FeedShape = "api"
	ShapeNotification FeedShape = "notification"
	ShapeFriendLog    FeedShape = "friendlog"
	ShapeModeration   FeedShape = "moderation"
)

// EntryType tags one kind of feed entry.
type EntryType string

const (
	EntryGPS            EntryType = "GPS"
	EntryOnline         EntryType = "Online"
	EntryOffline        EntryType = "Offline"
	EntryStatus         EntryType = "Status"
	EntryBio            EntryType = "Bio"
	EntryAvatar         EntryType = "Avatar"
	EntryOnPlayerJoined EntryType = "OnPlayerJoined"
	EntryOnPlayerLeft   EntryType = "OnPlayerLeft"
	EntryChatBoxMessage EntryType = "ChatBoxMessage"
	EntryPortalSpawn    EntryType = "PortalSpawn"
	EntryBlocked        EntryType = "Blocked"
	EntryMuted          EntryType = "Muted"
	EntryUnblocked      EntryType = "Unblocked"
	EntryUnmuted        EntryType = "Unmuted"
	EntryFriendAdd      EntryType = "FriendAdd"
	EntryFriendRemove   EntryType = "FriendRemove"
)

// FilterMode is one per-type filter table value.
type FilterMode string

const (
	FilterOff      FilterMode = "off"
	FilterOn       FilterMode = "on"
	FilterFriends  FilterMode = "friends"
	FilterVIP      FilterMode = "vip"
	FilterEveryone FilterMode = "everyone"
)

// FeedEntry is one unit of the aggregated timeline. Entries are immutable
// after creation; CreatedAt is the ordering key.
type FeedEntry struct {
	ID          uuid.UUID     `json:"id"`
	CreatedAt   time.Time     `json:"created_at"`
	Type        EntryType     `json:"type"`
	Shape       FeedShape     `json:"shape"`
	UserID      string        `json:"user_id,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	Location    string        `json:"location,omitempty"`
	Message     string        `json:"message,omitempty"`
	AvatarID    string        `json:"avatar_id,omitempty"`
	Elapsed     time.Duration `json:"elapsed,omitempty"`
	IsFriend    bool          `json:"is_friend,omitempty"`
	IsFavorite  bool          `json:"is_favorite,omitempty"`
	TagColour   string        `json:"tag_colour,omitempty"`
}

// NewFeedEntry stamps a new entry with an id and creation time.
func NewFeedEntry(shape FeedShape, entryType EntryType, createdAt time.Time) FeedEntry {
	return FeedEntry{
		ID:        uuid.Must(uuid.NewV4()),
		CreatedAt: createdAt,
		Type:      entryType,
		Shape:     shape,
	}
}
