package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDirectoryClient_RetriesTransientFailures(t *testing.T) {
	config := newTestConfig()
	config.APIRetryCount = 2
	caller := newStubCaller()
	caller.errs["users/usr_a"] = errors.New("connection reset")
	client := NewDirectoryClient(zap.NewNop(), caller, config)

	_, err := client.GetUser(context.Background(), "usr_a")
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, 3, caller.callCount("users/usr_a"), "initial attempt plus two retries")
}

func TestDirectoryClient_NotFoundIsNotRetried(t *testing.T) {
	config := newTestConfig()
	config.APIRetryCount = 2
	caller := newStubCaller()
	client := NewDirectoryClient(zap.NewNop(), caller, config)

	_, err := client.GetUser(context.Background(), "usr_missing")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, caller.callCount("users/usr_missing"))
}

func TestDirectoryClient_CooldownShortCircuits(t *testing.T) {
	config := newTestConfig()
	config.APICooldown = time.Minute
	caller := newStubCaller()
	caller.errs["users/usr_a"] = ErrRateLimited
	client := NewDirectoryClient(zap.NewNop(), caller, config)

	_, err := client.GetUser(context.Background(), "usr_a")
	require.ErrorIs(t, err, ErrRateLimited)

	// Repeat calls during the cool-down never reach the network.
	_, err = client.GetUser(context.Background(), "usr_a")
	require.ErrorIs(t, err, ErrCoolingDown)
	assert.Equal(t, 1, caller.callCount("users/usr_a"))

	// Other endpoints are unaffected.
	caller.setUser(UserProfile{ID: "usr_b", DisplayName: "Bob"})
	profile, err := client.GetUser(context.Background(), "usr_b")
	require.NoError(t, err)
	assert.Equal(t, "Bob", profile.DisplayName)
}

func TestDirectoryClient_FriendsPage(t *testing.T) {
	config := newTestConfig()
	caller := newStubCaller()
	caller.responses["auth/user/friends"] = []UserProfile{
		{ID: "usr_a", DisplayName: "Alice", State: "online"},
		{ID: "usr_b", DisplayName: "Bob", State: "active"},
	}
	client := NewDirectoryClient(zap.NewNop(), caller, config)

	page, err := client.GetFriendsPage(context.Background(), 0, 100, false)
	require.NoError(t, err)
	require.Len(t, page.Friends, 2)
	assert.Equal(t, "online", page.Friends[0].State)
}

func TestDirectoryClient_GetInstance(t *testing.T) {
	config := newTestConfig()
	caller := newStubCaller()
	caller.responses["instances/wrld_a:123"] = InstanceInfo{
		WorldID:    "wrld_a",
		InstanceID: "123",
		WorldName:  "The Black Cat",
		UserCount:  12,
	}
	client := NewDirectoryClient(zap.NewNop(), caller, config)

	info, err := client.GetInstance(context.Background(), "wrld_a", "123")
	require.NoError(t, err)
	assert.Equal(t, "The Black Cat", info.WorldName)
	assert.Equal(t, 12, info.UserCount)
}
