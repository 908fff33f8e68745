package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrProfileNotFound = fmt.Errorf("profile not found")

// IdentityCache is the durable user-profile cache shared by every other
// component. Lookups are served from cache; misses fall through to the
// directory, with at most one fetch in flight per user id regardless of
// how many events reference it concurrently.
type IdentityCache struct {
	sync.RWMutex
	logger    *zap.Logger
	directory *DirectoryClient

	profiles   *gocache.Cache
	fetchGroup singleflight.Group
}

func NewIdentityCache(logger *zap.Logger, directory *DirectoryClient, ttl time.Duration) *IdentityCache {
	return &IdentityCache{
		logger:    logger,
		directory: directory,
		profiles:  gocache.New(ttl, 10*time.Minute),
	}
}

// Peek returns the cached profile without touching the network.
func (c *IdentityCache) Peek(userID string) (*UserProfile, bool) {
	v, ok := c.profiles.Get(userID)
	if !ok {
		return nil, false
	}
	return v.(*UserProfile), true
}

// GetUser serves from cache or issues one coalesced directory fetch.
// Concurrent callers for the same id share a single in-flight request and
// its result.
func (c *IdentityCache) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	if profile, ok := c.Peek(userID); ok {
		return profile, nil
	}

	result, err, _ := c.fetchGroup.Do(userID, func() (any, error) {
		// Another caller may have populated the cache while this one was
		// queued behind the group.
		if profile, ok := c.Peek(userID); ok {
			return profile, nil
		}
		profile, err := c.directory.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.profiles.SetDefault(userID, profile)
		return profile, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*UserProfile), nil
}

// Put stores a freshly fetched full profile.
func (c *IdentityCache) Put(profile *UserProfile) {
	c.profiles.SetDefault(profile.ID, profile)
}

// UpdateAvatarFields refreshes only the avatar fields of a cached record
// when a join hint disagrees with it. The rest of the record is left
// alone: a partial hint must not clobber a freshly fetched full profile.
func (c *IdentityCache) UpdateAvatarFields(userID, avatarID, imageURL string) bool {
	c.Lock()
	defer c.Unlock()
	profile, ok := c.Peek(userID)
	if !ok {
		return false
	}
	if profile.AvatarImageURL == imageURL && profile.AvatarID == avatarID {
		return false
	}
	updated := *profile
	if avatarID != "" {
		updated.AvatarID = avatarID
	}
	if imageURL != "" {
		updated.AvatarImageURL = imageURL
	}
	c.profiles.SetDefault(userID, &updated)
	return true
}

// SetExternalTag attaches a bridge-provided tag and colour to the cached
// record, creating a stub record if none exists yet.
func (c *IdentityCache) SetExternalTag(userID, tag, colour string) {
	c.Lock()
	defer c.Unlock()
	profile, ok := c.Peek(userID)
	if !ok {
		c.profiles.SetDefault(userID, &UserProfile{ID: userID, Tag: tag, TagColour: colour})
		return
	}
	updated := *profile
	updated.Tag = tag
	updated.TagColour = colour
	c.profiles.SetDefault(userID, &updated)
}
