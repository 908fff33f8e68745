package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/echotools/vrcompanion/server/vrc"
)

func TestTimeoutDetector_GracePeriod(t *testing.T) {
	config := newTestConfig()
	detector := NewTimeoutDetector(zap.NewNop(), config)

	base := time.Now()
	detector.Joined(1, base)

	// Silent past the threshold but still inside the join grace period:
	// not a candidate.
	now := base.Add(30 * time.Second)
	assert.Empty(t, detector.Candidates(now, noNames))

	// Past the grace period and silent past the threshold: flagged.
	now = base.Add(90 * time.Second)
	candidates := detector.Candidates(now, noNames)
	require.Len(t, candidates, 1)
	assert.Equal(t, vrc.ActorID(1), candidates[0].Actor)
}

func TestTimeoutDetector_TouchClears(t *testing.T) {
	config := newTestConfig()
	detector := NewTimeoutDetector(zap.NewNop(), config)

	base := time.Now()
	detector.Joined(1, base)
	now := base.Add(90 * time.Second)
	detector.Touch(1, now.Add(-time.Second))
	assert.Empty(t, detector.Candidates(now, noNames))
}

func TestTimeoutDetector_LongestSilenceFirst(t *testing.T) {
	config := newTestConfig()
	detector := NewTimeoutDetector(zap.NewNop(), config)

	base := time.Now()
	detector.Joined(1, base)
	detector.Joined(2, base)
	detector.Joined(3, base)

	now := base.Add(2 * time.Minute)
	detector.Touch(1, now.Add(-20*time.Second))
	detector.Touch(2, now.Add(-40*time.Second))
	detector.Touch(3, now.Add(-30*time.Second))

	candidates := detector.Candidates(now, noNames)
	require.Len(t, candidates, 3)
	assert.Equal(t, vrc.ActorID(2), candidates[0].Actor)
	assert.Equal(t, vrc.ActorID(3), candidates[1].Actor)
	assert.Equal(t, vrc.ActorID(1), candidates[2].Actor)
}

func TestTimeoutDetector_SnapshotOnlyAdvances(t *testing.T) {
	config := newTestConfig()
	detector := NewTimeoutDetector(zap.NewNop(), config)

	base := time.Now()
	detector.Joined(1, base)
	detector.Touch(1, base.Add(10*time.Second))

	// A stale snapshot (out-of-order delivery) must not rewind last-seen.
	detector.OnSnapshot(map[vrc.ActorID]time.Time{1: base.Add(5 * time.Second)})
	candidates := detector.Candidates(base.Add(75*time.Second), noNames)
	require.Len(t, candidates, 1)
	assert.Equal(t, 65*time.Second, candidates[0].Silence)
}

func noNames(vrc.ActorID) string { return "" }
