package server

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/echotools/vrcompanion/server/vrc"
)

// TimeoutCandidate is one handle that may have silently dropped.
type TimeoutCandidate struct {
	Actor       vrc.ActorID   `json:"actor"`
	DisplayName string        `json:"display_name"`
	Silence     time.Duration `json:"silence"`
}

// TimeoutDetector tracks last-seen timestamps per handle and flags handles
// that have gone silent. A handle is only a candidate once it has been
// present longer than the grace period, so participants still loading in
// are not flagged.
type TimeoutDetector struct {
	logger *zap.Logger
	config *Config

	lastSeen map[vrc.ActorID]time.Time
	joinedAt map[vrc.ActorID]time.Time
}

func NewTimeoutDetector(logger *zap.Logger, config *Config) *TimeoutDetector {
	return &TimeoutDetector{
		logger:   logger,
		config:   config,
		lastSeen: make(map[vrc.ActorID]time.Time),
		joinedAt: make(map[vrc.ActorID]time.Time),
	}
}

// Touch updates the last-seen timestamp for a handle. Called on every
// decoded event; staleness detection only, never correctness.
func (t *TimeoutDetector) Touch(actor vrc.ActorID, ts time.Time) {
	if current, ok := t.lastSeen[actor]; !ok || ts.After(current) {
		t.lastSeen[actor] = ts
	}
}

func (t *TimeoutDetector) Joined(actor vrc.ActorID, ts time.Time) {
	t.joinedAt[actor] = ts
	t.lastSeen[actor] = ts
}

func (t *TimeoutDetector) Left(actor vrc.ActorID) {
	delete(t.lastSeen, actor)
	delete(t.joinedAt, actor)
}

func (t *TimeoutDetector) Reset() {
	t.lastSeen = make(map[vrc.ActorID]time.Time)
	t.joinedAt = make(map[vrc.ActorID]time.Time)
}

// OnSnapshot merges a bridge liveness snapshot into the last-seen map.
func (t *TimeoutDetector) OnSnapshot(seen map[vrc.ActorID]time.Time) {
	for actor, ts := range seen {
		t.Touch(actor, ts)
	}
}

// Candidates returns the possibly-timed-out handles, longest silence
// first. Soonest-seen-first ordering would bury the most likely timeouts
// at the bottom of the overlay.
func (t *TimeoutDetector) Candidates(now time.Time, name func(vrc.ActorID) string) []TimeoutCandidate {
	candidates := make([]TimeoutCandidate, 0, 4)
	for actor, seen := range t.lastSeen {
		joined, ok := t.joinedAt[actor]
		if !ok || now.Sub(joined) < t.config.TimeoutGrace {
			continue
		}
		silence := now.Sub(seen)
		if silence < t.config.TimeoutThreshold {
			continue
		}
		candidates = append(candidates, TimeoutCandidate{
			Actor:       actor,
			DisplayName: name(actor),
			Silence:     silence,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Silence > candidates[j].Silence
	})
	return candidates
}
