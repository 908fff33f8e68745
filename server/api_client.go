package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimited = errors.New("rate limited")
	ErrCoolingDown = errors.New("endpoint cooling down")
	ErrNotFound    = errors.New("not found")
	ErrFetchFailed = errors.New("fetch failed")
)

// Caller is the opaque REST capability. It owns auth, transport and its
// own response caching; the engine only sees JSON or a typed failure.
type Caller interface {
	Call(ctx context.Context, endpoint string, options map[string]string) (json.RawMessage, error)
}

// FriendsPage is one page of the friends listing.
type FriendsPage struct {
	Friends []UserProfile `json:"friends"`
}

// InstanceInfo is the directory's view of a world instance.
type InstanceInfo struct {
	WorldID    string `json:"worldId"`
	InstanceID string `json:"instanceId"`
	WorldName  string `json:"worldName"`
	OwnerID    string `json:"ownerId"`
	Capacity   int    `json:"capacity"`
	UserCount  int    `json:"n_users"`
}

// DirectoryClient wraps the REST capability with the call discipline the
// directory requires: one in-flight GET per endpoint, a global request
// limiter, bounded fixed-delay retries, and a per-endpoint cool-down after
// a rate-limit response so repeat calls short-circuit without touching the
// network.
type DirectoryClient struct {
	sync.Mutex
	logger  *zap.Logger
	caller  Caller
	limiter *rate.Limiter

	retryCount int
	retryDelay time.Duration
	cooldown   time.Duration

	group      singleflight.Group
	cooldowns  map[string]time.Time
}

func NewDirectoryClient(logger *zap.Logger, caller Caller, config *Config) *DirectoryClient {
	return &DirectoryClient{
		logger:     logger,
		caller:     caller,
		limiter:    rate.NewLimiter(rate.Limit(config.APIRequestsPerSecond), 5),
		retryCount: config.APIRetryCount,
		retryDelay: config.APIRetryDelay,
		cooldown:   config.APICooldown,
		cooldowns:  make(map[string]time.Time),
	}
}

func (c *DirectoryClient) GetUser(ctx context.Context, userID string) (*UserProfile, error) {
	data, err := c.get(ctx, "users/"+userID, nil)
	if err != nil {
		return nil, err
	}
	profile := &UserProfile{}
	if err := json.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}
	profile.FetchedAt = time.Now()
	return profile, nil
}

func (c *DirectoryClient) GetFriendsPage(ctx context.Context, offset, n int, offline bool) (*FriendsPage, error) {
	data, err := c.get(ctx, "auth/user/friends", map[string]string{
		"offset":  fmt.Sprintf("%d", offset),
		"n":       fmt.Sprintf("%d", n),
		"offline": fmt.Sprintf("%t", offline),
	})
	if err != nil {
		return nil, err
	}
	page := &FriendsPage{}
	if err := json.Unmarshal(data, &page.Friends); err != nil {
		return nil, fmt.Errorf("decode friends page: %w", err)
	}
	return page, nil
}

func (c *DirectoryClient) GetInstance(ctx context.Context, worldID, instanceID string) (*InstanceInfo, error) {
	data, err := c.get(ctx, fmt.Sprintf("instances/%s:%s", worldID, instanceID), nil)
	if err != nil {
		return nil, err
	}
	info := &InstanceInfo{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	return info, nil
}

// get coalesces identical in-flight endpoints and applies the retry and
// cool-down policy around the raw capability.
func (c *DirectoryClient) get(ctx context.Context, endpoint string, options map[string]string) (json.RawMessage, error) {
	if until, ok := c.coolingDown(endpoint); ok {
		c.logger.Debug("Endpoint cooling down, short-circuiting", zap.String("endpoint", endpoint), zap.Time("until", until))
		return nil, ErrCoolingDown
	}

	result, err, _ := c.group.Do(endpoint, func() (any, error) {
		var lastErr error
		for attempt := 0; attempt <= c.retryCount; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(c.retryDelay):
				}
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			data, err := c.caller.Call(ctx, endpoint, options)
			if err == nil {
				return data, nil
			}
			lastErr = err
			if errors.Is(err, ErrRateLimited) {
				c.startCooldown(endpoint)
				return nil, err
			}
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
			c.logger.Warn("Directory call failed, retrying", zap.String("endpoint", endpoint), zap.Int("attempt", attempt), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, endpoint, lastErr)
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *DirectoryClient) coolingDown(endpoint string) (time.Time, bool) {
	c.Lock()
	defer c.Unlock()
	until, ok := c.cooldowns[endpoint]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().After(until) {
		delete(c.cooldowns, endpoint)
		return time.Time{}, false
	}
	return until, true
}

func (c *DirectoryClient) startCooldown(endpoint string) {
	c.Lock()
	defer c.Unlock()
	c.cooldowns[endpoint] = time.Now().Add(c.cooldown)
}
