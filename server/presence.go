package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceActive  PresenceState = "active"
	PresenceOffline PresenceState = "offline"
)

// FriendState is the reconciler's record for one friend. Only the
// reconciler mutates these; everything else gets read-only views.
type FriendState struct {
	UserID         string        `json:"user_id"`
	DisplayName    string        `json:"display_name"`
	State          PresenceState `json:"state"`
	Profile        *UserProfile  `json:"-"`
	PendingOffline bool          `json:"pending_offline"`
	LastTransition time.Time     `json:"last_transition"`
	LastSeenOnline time.Time     `json:"last_seen_online"`
	OnlineSince    time.Time     `json:"online_since"`

	pendingState PresenceState
	timer        *time.Timer
	epoch        int
}

// PresenceBuckets is the display grouping, recomputed at commit time.
type PresenceBuckets struct {
	OnlineVIP []string
	Online    []string
	Active    []string
	Offline   []string
}

// PresenceReconciler merges the remote push-presence feed with local
// knowledge. Downgrades from online are held behind a confirmation delay
// so a flapping feed does not produce phantom offline/online churn; a
// fresh online signal cancels the pending downgrade.
type PresenceReconciler struct {
	logger    *zap.Logger
	config    *Config
	cache     *IdentityCache
	directory *DirectoryClient
	submit    func(FeedEntry)

	// post re-enters the engine loop from timers and fetch goroutines.
	post func(func())
	now  func() time.Time

	friends map[string]*FriendState
}

func NewPresenceReconciler(logger *zap.Logger, config *Config, cache *IdentityCache, directory *DirectoryClient, submit func(FeedEntry), post func(func())) *PresenceReconciler {
	return &PresenceReconciler{
		logger:    logger,
		config:    config,
		cache:     cache,
		directory: directory,
		submit:    submit,
		post:      post,
		now:       time.Now,
		friends:   make(map[string]*FriendState),
	}
}

// IsFriend reports whether the user id is on the local friends list.
func (p *PresenceReconciler) IsFriend(userID string) bool {
	_, ok := p.friends[userID]
	return ok
}

// Friend returns a copy of the friend's current state.
func (p *PresenceReconciler) Friend(userID string) (FriendState, bool) {
	f, ok := p.friends[userID]
	if !ok {
		return FriendState{}, false
	}
	return *f, true
}

// OnSignal applies one push-presence transition report.
func (p *PresenceReconciler) OnSignal(userID string, reported PresenceState, ts time.Time) {
	f, ok := p.friends[userID]
	if !ok {
		// Presence for a non-friend: the feed and the friends list are
		// separate channels and can disagree briefly. Tolerated.
		return
	}

	if p.dropDuplicateOnline(f, reported, ts) {
		return
	}

	if reported == PresenceOnline {
		p.commitOnline(f, ts)
		return
	}

	if f.State != PresenceOnline {
		// active <-> offline moves carry no flap risk; commit directly.
		if f.State != reported {
			p.commit(f, reported, ts)
		}
		return
	}

	// online -> {active, offline}: defer behind the confirmation timer.
	if f.PendingOffline {
		f.pendingState = reported
		return
	}
	f.PendingOffline = true
	f.pendingState = reported
	f.epoch++
	epoch := f.epoch
	f.timer = time.AfterFunc(p.config.OfflineConfirmDelay, func() {
		p.post(func() { p.confirmDowngrade(userID, epoch) })
	})
	p.logger.Debug("Presence downgrade pending confirmation",
		zap.String("user_id", userID), zap.String("reported", string(reported)))
}

// dropDuplicateOnline is the double-online suppression heuristic: a report
// landing within the configured window of the last-seen-online stamp is
// treated as a duplicate or out-of-order signal. Possibly masks legitimate
// rapid reconnects; covered by an explicit property test.
func (p *PresenceReconciler) dropDuplicateOnline(f *FriendState, reported PresenceState, ts time.Time) bool {
	if f.LastSeenOnline.IsZero() {
		return false
	}
	if reported == PresenceOnline && f.State == PresenceOnline && absDuration(ts.Sub(f.LastSeenOnline)) <= p.config.DuplicateOnlineWindow {
		return true
	}
	return false
}

// commitOnline applies an online report immediately, cancelling any
// pending downgrade.
func (p *PresenceReconciler) commitOnline(f *FriendState, ts time.Time) {
	p.cancelPending(f)
	f.LastSeenOnline = ts
	if f.State == PresenceOnline {
		return
	}
	f.OnlineSince = ts
	p.commit(f, PresenceOnline, ts)
}

// confirmDowngrade fires when the confirmation timer expires. The captured
// state is stale by definition, so everything is re-validated against the
// live map before acting.
func (p *PresenceReconciler) confirmDowngrade(userID string, epoch int) {
	f, ok := p.friends[userID]
	if !ok || !f.PendingOffline || f.epoch != epoch {
		return
	}
	f.PendingOffline = false
	f.timer = nil
	pending := f.pendingState

	// One authoritative re-fetch before committing; the feed has been
	// known to lag reality by the length of the confirmation window.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		profile, err := p.directory.GetUser(ctx, userID)
		p.post(func() {
			f, ok := p.friends[userID]
			if !ok || f.PendingOffline || f.epoch != epoch {
				return
			}
			if err != nil {
				p.logger.Warn("Presence confirmation fetch failed, committing reported state",
					zap.String("user_id", userID), zap.Error(err))
			} else {
				f.Profile = profile
				p.cache.Put(profile)
			}
			if f.State == PresenceOnline {
				p.commit(f, pending, p.now())
			}
		})
	}()
}

// commit performs the actual state change: bucket movement, VIP
// re-evaluation, feed entries and timestamps. Favorite status is read at
// commit time, not signal time.
func (p *PresenceReconciler) commit(f *FriendState, next PresenceState, ts time.Time) {
	previous := f.State
	f.State = next
	f.LastTransition = ts

	if profile, ok := p.cache.Peek(f.UserID); ok {
		f.Profile = profile
		if profile.DisplayName != "" {
			f.DisplayName = profile.DisplayName
		}
	}

	var entry FeedEntry
	switch {
	case next == PresenceOnline:
		entry = NewFeedEntry(ShapeFriendLog, EntryOnline, ts)
	case previous == PresenceOnline || next == PresenceOffline:
		entry = NewFeedEntry(ShapeFriendLog, EntryOffline, ts)
		if !f.OnlineSince.IsZero() {
			entry.Elapsed = ts.Sub(f.OnlineSince)
		}
	default:
		return
	}
	entry.UserID = f.UserID
	entry.DisplayName = f.DisplayName
	entry.IsFriend = true
	if f.Profile != nil {
		entry.IsFavorite = f.Profile.IsFavorite
		entry.TagColour = f.Profile.TagColour
	}
	p.submit(entry)

	p.logger.Info("Friend presence committed",
		zap.String("user_id", f.UserID),
		zap.String("from", string(previous)),
		zap.String("to", string(next)))
}

// cancelPending invalidates any in-flight downgrade. The epoch bump is
// unconditional: after the confirmation timer fires, PendingOffline is
// already false while the authoritative re-fetch is still in flight, and
// only the epoch check can discard that commit.
func (p *PresenceReconciler) cancelPending(f *FriendState) {
	f.epoch++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.PendingOffline = false
}

// FullRefresh diffs the server-reported friend sets against the local
// map. Ids absent from every server set are deleted; ids the server knows
// but the map does not are added fresh, with no confirmation delay.
func (p *PresenceReconciler) FullRefresh(online, active, offline []UserProfile, ts time.Time) {
	reported := make(map[string]PresenceState, len(online)+len(active)+len(offline))
	for _, profile := range online {
		reported[profile.ID] = PresenceOnline
		p.cache.Put(cloneProfile(profile))
	}
	for _, profile := range active {
		reported[profile.ID] = PresenceActive
		p.cache.Put(cloneProfile(profile))
	}
	for _, profile := range offline {
		reported[profile.ID] = PresenceOffline
		p.cache.Put(cloneProfile(profile))
	}

	for userID, f := range p.friends {
		if _, ok := reported[userID]; ok {
			continue
		}
		p.cancelPending(f)
		delete(p.friends, userID)
		entry := NewFeedEntry(ShapeFriendLog, EntryFriendRemove, ts)
		entry.UserID = userID
		entry.DisplayName = f.DisplayName
		p.submit(entry)
	}

	for userID, state := range reported {
		if f, ok := p.friends[userID]; ok {
			p.OnSignal(f.UserID, state, ts)
			continue
		}
		p.addFriend(userID, state, ts, false)
	}
}

// OnFriendAdded handles a single friend-add outside a full refresh.
func (p *PresenceReconciler) OnFriendAdded(userID string, state PresenceState, ts time.Time) {
	if _, ok := p.friends[userID]; ok {
		return
	}
	p.addFriend(userID, state, ts, true)
}

// OnFriendRemoved handles a single friend-remove outside a full refresh.
func (p *PresenceReconciler) OnFriendRemoved(userID string, ts time.Time) {
	f, ok := p.friends[userID]
	if !ok {
		return
	}
	p.cancelPending(f)
	delete(p.friends, userID)
	entry := NewFeedEntry(ShapeFriendLog, EntryFriendRemove, ts)
	entry.UserID = userID
	entry.DisplayName = f.DisplayName
	p.submit(entry)
}

func (p *PresenceReconciler) addFriend(userID string, state PresenceState, ts time.Time, announce bool) {
	f := &FriendState{
		UserID:         userID,
		State:          state,
		LastTransition: ts,
	}
	if state == PresenceOnline {
		f.LastSeenOnline = ts
		f.OnlineSince = ts
	}
	if profile, ok := p.cache.Peek(userID); ok {
		f.Profile = profile
		f.DisplayName = profile.DisplayName
	}
	p.friends[userID] = f

	if announce {
		entry := NewFeedEntry(ShapeFriendLog, EntryFriendAdd, ts)
		entry.UserID = userID
		entry.DisplayName = f.DisplayName
		entry.IsFriend = true
		p.submit(entry)
	}
}

// Reset rebuilds the map wholesale, for local-user login and logout.
func (p *PresenceReconciler) Reset() {
	for _, f := range p.friends {
		p.cancelPending(f)
	}
	p.friends = make(map[string]*FriendState)
}

// Buckets computes the display grouping from current committed state.
func (p *PresenceReconciler) Buckets() PresenceBuckets {
	var buckets PresenceBuckets
	for userID, f := range p.friends {
		switch f.State {
		case PresenceOnline:
			if f.Profile != nil && f.Profile.IsFavorite {
				buckets.OnlineVIP = append(buckets.OnlineVIP, userID)
			} else {
				buckets.Online = append(buckets.Online, userID)
			}
		case PresenceActive:
			buckets.Active = append(buckets.Active, userID)
		default:
			buckets.Offline = append(buckets.Offline, userID)
		}
	}
	return buckets
}

func cloneProfile(profile UserProfile) *UserProfile {
	clone := profile
	return &clone
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
