package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/echotools/vrcompanion/server/vrc"
)

func newTestResolver(t *testing.T) (*IdentityResolver, *testLoop) {
	t.Helper()
	logger := zap.NewNop()
	config := newTestConfig()
	loop := newTestLoop()
	directory := NewDirectoryClient(logger, newStubCaller(), config)
	cache := NewIdentityCache(logger, directory, config.IdentityCacheTTL)
	return NewIdentityResolver(logger, cache, loop.post), loop
}

// assertCurrentSubsetOfAll checks that every handle in the current-instance
// map is also in the all-handles map, sharing the same identity record.
func assertCurrentSubsetOfAll(t *testing.T, r *IdentityResolver) {
	t.Helper()
	for actor, identity := range r.currentHandles {
		all, ok := r.allHandles[actor]
		require.True(t, ok, "actor %d current but missing from all-handles", actor)
		assert.Same(t, all, identity, "actor %d maps diverged", actor)
	}
}

func TestIdentityResolver_CurrentSubsetOfAll(t *testing.T) {
	r, _ := newTestResolver(t)

	r.Resolve(1, vrc.IdentityHint{UserID: "usr_a", DisplayName: "Alice"})
	r.Resolve(2, vrc.IdentityHint{DisplayName: "Mystery"})
	r.Resolve(3, vrc.IdentityHint{UserID: "usr_c", DisplayName: "Carol"})
	assertCurrentSubsetOfAll(t, r)
	assert.Len(t, r.CurrentHandles(), 3)

	// A leave drops the handle from the instance only.
	r.OnLeave(2)
	assertCurrentSubsetOfAll(t, r)
	assert.Len(t, r.CurrentHandles(), 2)
	_, ok := r.Lookup(2)
	assert.True(t, ok, "left handles stay resolvable for late events")
	_, ok = r.Current(2)
	assert.False(t, ok)

	// A leave for a handle never seen is tolerated.
	r.OnLeave(99)
	assertCurrentSubsetOfAll(t, r)

	// Rejoin under the same handle restores the same identity record.
	r.Resolve(2, vrc.IdentityHint{UserID: "usr_b", DisplayName: "Mystery"})
	assertCurrentSubsetOfAll(t, r)
	current, ok := r.Current(2)
	require.True(t, ok)
	assert.Equal(t, "usr_b", current.UserID)
}

func TestIdentityResolver_ResetKeepsAllHandles(t *testing.T) {
	r, _ := newTestResolver(t)

	r.Resolve(1, vrc.IdentityHint{UserID: "usr_a", DisplayName: "Alice"})
	r.Resolve(2, vrc.IdentityHint{UserID: "usr_b", DisplayName: "Bob"})

	r.Reset()
	assertCurrentSubsetOfAll(t, r)
	assert.Empty(t, r.CurrentHandles())

	// Late events for pre-reset handles still resolve.
	identity, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "usr_a", identity.UserID)

	// Handles re-entering after the reset are current again.
	r.Resolve(1, vrc.IdentityHint{DisplayName: "Alice"})
	assertCurrentSubsetOfAll(t, r)
	assert.Len(t, r.CurrentHandles(), 1)
}
