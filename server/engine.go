package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/echotools/vrcompanion/server/vrc"
)

const (
	friendsRefreshInterval  = 10 * time.Minute
	friendsPageSize         = 100
	timeoutTickInterval     = 1500 * time.Millisecond
	moderationSweepInterval = time.Hour
)

// Engine is the reconciliation context: it owns every mutable map in the
// subsystem and runs all state transitions on one loop. Timers, fetch
// completions and inbound transports re-enter through Post; nothing
// outside the loop mutates engine state directly.
type Engine struct {
	logger *zap.Logger
	config *Config

	calls chan func()

	store      *FeedStore
	directory  *DirectoryClient
	identities *IdentityCache
	resolver   *IdentityResolver
	tracker    *SessionTracker
	timeouts   *TimeoutDetector
	ledger     *ModerationLedger
	decoder    *EventDecoder
	presence   *PresenceReconciler
	dispatcher *Dispatcher
	feed       *FeedAggregator
	bridge     *BridgeClient
	logwatcher *LogWatcher

	tableSink *TableSink

	refreshWarned bool
}

func NewEngine(logger *zap.Logger, config *Config, caller Caller, store *FeedStore, notifier Notifier) *Engine {
	e := &Engine{
		logger: logger,
		config: config,
		calls:  make(chan func(), 1024),
		store:  store,
	}

	e.directory = NewDirectoryClient(logger, caller, config)
	e.identities = NewIdentityCache(logger, e.directory, config.IdentityCacheTTL)
	e.presence = NewPresenceReconciler(logger, config, e.identities, e.directory, e.Submit, e.Post)
	e.tracker = NewSessionTracker(logger, config, e.Submit, e.presence.IsFriend)
	e.resolver = NewIdentityResolver(logger, e.identities, e.Post)
	e.timeouts = NewTimeoutDetector(logger, config)
	e.ledger = NewModerationLedger(logger)
	e.decoder = NewEventDecoder(logger, config, e.resolver, e.tracker, e.timeouts, e.ledger, e.Submit)

	if notifier == nil {
		notifier = NewLogNotifier(logger, "default")
	}
	e.tableSink = NewTableSink(config.TableFeedLimit)
	e.dispatcher = NewDispatcher(logger, config, e.identities,
		NewToastSink(notifier),
		NewOverlaySink(notifier),
		NewTTSSink(notifier),
		e.tableSink,
	)
	e.feed = NewFeedAggregator(logger, config, store, e.dispatcher, e.Post)

	e.bridge = NewBridgeClient(logger, config.BridgeAddr, e, e.Post)
	if config.SessionLog != "" {
		e.logwatcher = NewLogWatcher(logger, config.SessionLog, e.onLogRecord, e.Post)
	}
	return e
}

// Post schedules fn on the engine loop.
func (e *Engine) Post(fn func()) {
	e.calls <- fn
}

// Submit feeds one entry into the aggregator. Producers call this on the
// loop already; it exists as a method so components take a plain func.
func (e *Engine) Submit(entry FeedEntry) {
	e.feed.Submit(entry)
}

// Run drives the loop until the context ends. The bridge and log watcher
// run as pumps that post back in; the loop itself owns all state.
func (e *Engine) Run(ctx context.Context) error {
	go e.bridge.Run(ctx)
	if e.logwatcher != nil {
		go func() {
			if err := e.logwatcher.Run(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("Log watcher stopped", zap.Error(err))
			}
		}()
	}
	go e.friendsRefreshLoop(ctx)

	timeoutTicker := time.NewTicker(timeoutTickInterval)
	defer timeoutTicker.Stop()
	// Moderation flags are re-reported by the realtime layer; Apply clears
	// the expired mark on each re-report, so an empty-confirmation sweep
	// expires whatever went quiet since the last pass.
	sweepTicker := time.NewTicker(moderationSweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.calls:
			fn()
		case <-timeoutTicker.C:
			e.checkTimeouts()
		case <-sweepTicker.C:
			e.ledger.Sweep(nil, time.Now())
		}
	}
}

// --- BridgeHandler ---

func (e *Engine) OnProtocolEvent(env vrc.Envelope) {
	e.decoder.OnEnvelope(env)
}

func (e *Engine) OnLivenessSnapshot(snapshot LivenessSnapshot) {
	e.timeouts.OnSnapshot(snapshot.Seen)
}

func (e *Engine) OnExternalTag(tag ExternalTag) {
	e.identities.SetExternalTag(tag.UserID, tag.Tag, tag.Colour)
}

func (e *Engine) OnPresenceSignal(signal PresenceSignal) {
	state := PresenceState(signal.State)
	switch state {
	case PresenceOnline, PresenceActive, PresenceOffline:
	default:
		e.logger.Debug("Unknown presence state", zap.String("state", signal.State))
		return
	}
	ts := signal.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	e.presence.OnSignal(signal.UserID, state, ts)
}

// --- session log routing ---

func (e *Engine) onLogRecord(record LogRecord) {
	switch record := record.(type) {
	case DestinationRecord:
		e.tracker.OnDestinationRecord(record.Location, record.Time)
		e.resolver.Reset()
		e.timeouts.Reset()
	case LocationEnteredRecord:
		e.tracker.OnLocationRecord(record.Location, record.Time)
		e.resolver.Reset()
		e.timeouts.Reset()
	case PlayerJoinedRecord:
		e.tracker.OnParticipantJoined(record.DisplayName, record.UserID, record.Time)
	case PlayerLeftRecord:
		e.tracker.OnParticipantLeft(record.DisplayName, record.Time)
	case AvatarChangedRecord:
		e.decoder.ObserveAvatarName(record.DisplayName, record.AvatarName, record.Time)
	case PortalCreatedRecord:
		entry := NewFeedEntry(ShapeLog, EntryPortalSpawn, record.Time)
		entry.Location = record.Location.Tag
		e.Submit(entry)
	}
}

// --- periodic work ---

func (e *Engine) checkTimeouts() {
	candidates := e.timeouts.Candidates(time.Now(), func(actor vrc.ActorID) string {
		if identity, ok := e.resolver.Current(actor); ok {
			return identity.DisplayName
		}
		return ""
	})
	if len(candidates) > 0 {
		e.logger.Debug("Possible timeouts", zap.Int("count", len(candidates)),
			zap.String("longest_silent", candidates[0].DisplayName))
	}
}

// TimeoutCandidates exposes the current possibly-timed-out list, longest
// silence first, for display surfaces.
func (e *Engine) TimeoutCandidates() []TimeoutCandidate {
	done := make(chan []TimeoutCandidate, 1)
	e.Post(func() {
		done <- e.timeouts.Candidates(time.Now(), func(actor vrc.ActorID) string {
			if identity, ok := e.resolver.Current(actor); ok {
				return identity.DisplayName
			}
			return ""
		})
	})
	return <-done
}

// friendsRefreshLoop re-syncs the friends list on an interval. Fetch
// failures after retries surface one warning, then go quiet until a
// refresh succeeds again.
func (e *Engine) friendsRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(friendsRefreshInterval)
	defer ticker.Stop()

	e.refreshFriends(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshFriends(ctx)
		}
	}
}

func (e *Engine) refreshFriends(ctx context.Context) {
	var online, active, offline []UserProfile

	collect := func(offlinePage bool) error {
		for offset := 0; ; offset += friendsPageSize {
			page, err := e.directory.GetFriendsPage(ctx, offset, friendsPageSize, offlinePage)
			if err != nil {
				return err
			}
			for _, profile := range page.Friends {
				switch PresenceState(profile.State) {
				case PresenceOnline:
					online = append(online, profile)
				case PresenceActive:
					active = append(active, profile)
				default:
					offline = append(offline, profile)
				}
			}
			if len(page.Friends) < friendsPageSize {
				return nil
			}
		}
	}

	err := collect(false)
	if err == nil {
		err = collect(true)
	}
	e.Post(func() {
		if err != nil {
			// The only user-visible failure in the subsystem: a refresh
			// that exhausted its retries. Warn once, then go quiet until
			// a refresh succeeds again.
			if !e.refreshWarned {
				e.logger.Warn("Friends list refresh failed", zap.Error(err))
				e.refreshWarned = true
			}
			return
		}
		e.presence.FullRefresh(online, active, offline, time.Now())
		e.refreshWarned = false
	})
}

// OnLoggedIn rebuilds per-account state wholesale after the local user
// authenticates.
func (e *Engine) OnLoggedIn() {
	e.Post(func() {
		e.presence.Reset()
		e.resolver.Reset()
		e.timeouts.Reset()
	})
}

// OnLoggedOut tears the same state down.
func (e *Engine) OnLoggedOut() {
	e.OnLoggedIn()
}

// Feed returns the compact rendered feed.
func (e *Engine) Feed() []FeedEntry {
	done := make(chan []FeedEntry, 1)
	e.Post(func() { done <- e.feed.Render() })
	return <-done
}

// NotificationTable returns the in-app table contents.
func (e *Engine) NotificationTable() []FeedEntry {
	return e.tableSink.Entries()
}
