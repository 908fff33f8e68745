package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Dispatcher delivers accepted feed entries to the configured sinks,
// applying the notification filter table, the stale-entry guard and the
// per-display-name anti-duplicate guard.
type Dispatcher struct {
	logger *zap.Logger
	config *Config
	cache  *IdentityCache

	now   func() time.Time
	sinks []Sink

	// Last dispatched timestamp per display name. Keyed by display name
	// rather than user id: identity may not be resolved at dispatch time.
	lastDispatched map[string]time.Time
	lastSweep      time.Time

	limiters map[string]*rate.Limiter
}

func NewDispatcher(logger *zap.Logger, config *Config, cache *IdentityCache, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		logger:         logger,
		config:         config,
		cache:          cache,
		now:            time.Now,
		sinks:          sinks,
		lastDispatched: make(map[string]time.Time),
		limiters:       make(map[string]*rate.Limiter),
	}
	for _, sink := range sinks {
		// Sinks that speak or pop windows can't usefully deliver faster
		// than a couple entries a second.
		d.limiters[sink.Name()] = rate.NewLimiter(rate.Limit(2), 4)
	}
	return d
}

// Dispatch evaluates one entry against the delivery policy and fans it
// out. Runs on the engine loop.
func (d *Dispatcher) Dispatch(entry FeedEntry) {
	if profile, ok := d.cache.Peek(entry.UserID); ok {
		entry.IsFriend = entry.IsFriend || profile.IsFriend
		entry.IsFavorite = entry.IsFavorite || profile.IsFavorite
		if entry.TagColour == "" {
			entry.TagColour = profile.TagColour
		}
	}

	if !passesFilter(d.config.Filters.Notification, entry) {
		return
	}

	now := d.now()
	d.sweepDispatched(now)
	if now.Sub(entry.CreatedAt) > d.config.StaleNotifyWindow {
		metricsNotifySuppressed.WithLabelValues("stale").Inc()
		return
	}
	if entry.DisplayName != "" {
		if last, ok := d.lastDispatched[entry.DisplayName]; ok && !last.Before(entry.CreatedAt) {
			metricsNotifySuppressed.WithLabelValues("duplicate").Inc()
			return
		}
		d.lastDispatched[entry.DisplayName] = entry.CreatedAt
	}

	message := renderMessage(entry)
	image := ""
	if profile, ok := d.cache.Peek(entry.UserID); ok {
		image = profile.AvatarImageURL
	}

	for _, sink := range d.sinks {
		if !d.sinkEnabled(sink.Name()) {
			continue
		}
		if limiter := d.limiters[sink.Name()]; limiter != nil && !limiter.Allow() {
			metricsNotifySuppressed.WithLabelValues("rate").Inc()
			continue
		}
		if err := sink.Deliver(entry, message, image); err != nil {
			d.logger.Warn("Sink delivery failed", zap.String("sink", sink.Name()), zap.Error(err))
			continue
		}
		metricsNotifyDelivered.WithLabelValues(sink.Name()).Inc()
	}
}

// sweepDispatched drops duplicate-guard stamps old enough that the stale
// guard would reject anything they could still suppress, keeping the map
// bounded over the process lifetime.
func (d *Dispatcher) sweepDispatched(now time.Time) {
	if now.Sub(d.lastSweep) < d.config.StaleNotifyWindow {
		return
	}
	d.lastSweep = now
	horizon := now.Add(-d.config.StaleNotifyWindow)
	for name, last := range d.lastDispatched {
		if last.Before(horizon) {
			delete(d.lastDispatched, name)
		}
	}
}

func (d *Dispatcher) sinkEnabled(name string) bool {
	switch name {
	case SinkNameToast:
		return d.config.Sinks.Toast
	case SinkNameOverlay:
		return d.config.Sinks.Overlay
	case SinkNameTTS:
		return d.config.Sinks.TTS
	case SinkNameTable:
		return d.config.Sinks.Table
	default:
		return false
	}
}

func renderMessage(entry FeedEntry) string {
	switch entry.Type {
	case EntryOnPlayerJoined:
		return fmt.Sprintf("%s has joined", entry.DisplayName)
	case EntryOnPlayerLeft:
		return fmt.Sprintf("%s has left", entry.DisplayName)
	case EntryOnline:
		return fmt.Sprintf("%s is online", entry.DisplayName)
	case EntryOffline:
		return fmt.Sprintf("%s has gone offline", entry.DisplayName)
	case EntryStatus:
		return fmt.Sprintf("%s: %s", entry.DisplayName, entry.Message)
	case EntryAvatar:
		return fmt.Sprintf("%s changed avatar to %s", entry.DisplayName, entry.Message)
	case EntryChatBoxMessage:
		return fmt.Sprintf("%s: %s", entry.DisplayName, entry.Message)
	case EntryPortalSpawn:
		return fmt.Sprintf("%s dropped a portal to %s", entry.DisplayName, entry.Message)
	case EntryBlocked, EntryMuted, EntryUnblocked, EntryUnmuted:
		return fmt.Sprintf("%s: %s", entry.Type, entry.DisplayName)
	case EntryGPS:
		return fmt.Sprintf("Now in %s", entry.Location)
	default:
		return fmt.Sprintf("%s: %s", entry.Type, entry.DisplayName)
	}
}
