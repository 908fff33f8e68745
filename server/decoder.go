package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/echotools/vrcompanion/server/vrc"
)

// EventDecoder turns bridge envelopes into domain effects: roster changes,
// identity resolution, avatar-change detection, chat dedup, moderation
// routing and feed entries. Its only standing state is the memory the
// spec'd detections need: the previous avatar per durable user id and the
// last chat line per handle.
type EventDecoder struct {
	logger   *zap.Logger
	config   *Config
	resolver *IdentityResolver
	tracker  *SessionTracker
	timeouts *TimeoutDetector
	ledger   *ModerationLedger
	submit   func(FeedEntry)

	// Previous avatar id per durable user id. A change is only a change
	// when a prior value is on record.
	avatarMemory map[string]string

	// Last chat text per handle, for consecutive-duplicate suppression.
	lastChat map[vrc.ActorID]string

	unhandledCount map[vrc.EventCode]int
}

func NewEventDecoder(logger *zap.Logger, config *Config, resolver *IdentityResolver, tracker *SessionTracker, timeouts *TimeoutDetector, ledger *ModerationLedger, submit func(FeedEntry)) *EventDecoder {
	d := &EventDecoder{
		logger:         logger,
		config:         config,
		resolver:       resolver,
		tracker:        tracker,
		timeouts:       timeouts,
		ledger:         ledger,
		submit:         submit,
		avatarMemory:   make(map[string]string),
		lastChat:       make(map[vrc.ActorID]string),
		unhandledCount: make(map[vrc.EventCode]int),
	}
	resolver.SetHooks(d.onResolved, d.onModerationResolved, d.onAvatarResolved)
	return d
}

// OnEnvelope decodes and applies one realtime event. Malformed payloads
// and unknown codes are logged and dropped; nothing here is fatal.
func (d *EventDecoder) OnEnvelope(env vrc.Envelope) {
	msg, err := vrc.Decode(env)
	if err != nil {
		d.logger.Warn("Dropping malformed event", zap.Uint16("code", uint16(env.EventCode)), zap.Error(err))
		metricsEventsDropped.Inc()
		return
	}

	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch msg := msg.(type) {
	case *vrc.ParticipantJoined:
		d.touch(msg.Actor, ts)
		d.onJoined(msg, ts)
	case *vrc.ParticipantLeft:
		d.touch(msg.Actor, ts)
		d.onLeft(msg, ts)
	case *vrc.PropertySync:
		d.touch(msg.Actor, ts)
		d.onPropertySync(msg, ts)
	case *vrc.ChatMessage:
		d.touch(msg.Actor, ts)
		d.onChat(msg, ts)
	case *vrc.ModerationAction:
		d.touch(msg.Actor, ts)
		d.onModeration(msg, ts)
	case *vrc.PortalSpawned:
		d.touch(msg.Actor, ts)
		d.onPortal(msg, ts)
	case *vrc.PortalDropped:
		d.touch(msg.Actor, ts)
	case *vrc.MasterMigrated:
		d.logger.Info("Instance master migrated", zap.Int32("new_master", int32(msg.NewMaster)), zap.Int32("old_master", int32(msg.OldMaster)))
	case *vrc.Unhandled:
		d.unhandledCount[msg.EventCode]++
		if d.unhandledCount[msg.EventCode] == 1 {
			d.logger.Debug("Unhandled event code", zap.Uint16("code", uint16(msg.EventCode)))
		}
		metricsEventsUnhandled.Inc()
	}
	metricsEventsDecoded.Inc()
}

func (d *EventDecoder) touch(actor vrc.ActorID, ts time.Time) {
	d.timeouts.Touch(actor, ts)
}

// onJoined forwards identity and avatar payloads before the join reaches
// the tracker, so downstream consumers see at least tentative identity.
func (d *EventDecoder) onJoined(msg *vrc.ParticipantJoined, ts time.Time) {
	d.resolver.Resolve(msg.Actor, msg.User)
	if msg.Avatar.ID != "" {
		d.observeAvatar(msg.Actor, &msg.Avatar, ts)
	}
	d.timeouts.Joined(msg.Actor, ts)
	d.tracker.OnParticipantJoined(msg.User.DisplayName, msg.User.UserID, ts)
}

func (d *EventDecoder) onLeft(msg *vrc.ParticipantLeft, ts time.Time) {
	identity, ok := d.resolver.Current(msg.Actor)
	d.resolver.OnLeave(msg.Actor)
	d.timeouts.Left(msg.Actor)
	delete(d.lastChat, msg.Actor)
	if ok {
		d.tracker.OnParticipantLeft(identity.DisplayName, ts)
	}
}

func (d *EventDecoder) onPropertySync(msg *vrc.PropertySync, ts time.Time) {
	if msg.Avatar != nil {
		d.observeAvatar(msg.Actor, msg.Avatar, ts)
	}
	if msg.Status != nil {
		identity, ok := d.resolver.Lookup(msg.Actor)
		if ok && identity.UserID != "" && identity.UserID != d.config.LocalUserID {
			entry := NewFeedEntry(ShapeAPI, EntryStatus, ts)
			entry.UserID = identity.UserID
			entry.DisplayName = identity.DisplayName
			entry.Message = *msg.Status
			d.submit(entry)
		}
	}
}

// observeAvatar runs the change detection: a feed entry is emitted only
// when a previous avatar id is on record, the new id differs, and the
// wearer is not the local user.
func (d *EventDecoder) observeAvatar(actor vrc.ActorID, avatar *vrc.AvatarDescriptor, ts time.Time) {
	identity, ok := d.resolver.Lookup(actor)
	if !ok || identity.UserID == "" {
		d.resolver.QueueAvatar(actor, avatar)
		return
	}
	d.applyAvatar(identity, avatar, ts)
}

func (d *EventDecoder) applyAvatar(identity *Identity, avatar *vrc.AvatarDescriptor, ts time.Time) {
	previous, seen := d.avatarMemory[identity.UserID]
	d.avatarMemory[identity.UserID] = avatar.ID
	d.tracker.SetAvatar(identity.DisplayName, avatar.ID)

	if !seen || previous == avatar.ID || identity.UserID == d.config.LocalUserID {
		return
	}
	entry := NewFeedEntry(ShapeAPI, EntryAvatar, ts)
	entry.UserID = identity.UserID
	entry.DisplayName = identity.DisplayName
	entry.AvatarID = avatar.ID
	entry.Message = avatar.Name
	d.submit(entry)
}

// ObserveAvatarName runs the change detection for a log-derived avatar
// switch, where only the wearer's display name and the avatar name are
// known. The durable id comes from the roster, so an unresolved
// participant's first switch is simply remembered once resolution lands.
func (d *EventDecoder) ObserveAvatarName(displayName, avatarName string, ts time.Time) {
	p, ok := d.tracker.CurrentSession().Roster[displayName]
	if !ok || p.UserID == "" {
		return
	}
	d.applyAvatar(&Identity{UserID: p.UserID, DisplayName: displayName}, &vrc.AvatarDescriptor{ID: avatarName, Name: avatarName}, ts)
}

// onChat deduplicates identical consecutive lines per handle and drops
// the local user's own messages.
func (d *EventDecoder) onChat(msg *vrc.ChatMessage, ts time.Time) {
	if d.lastChat[msg.Actor] == msg.Text {
		return
	}
	d.lastChat[msg.Actor] = msg.Text

	identity, ok := d.resolver.Lookup(msg.Actor)
	if !ok {
		return
	}
	if identity.UserID != "" && identity.UserID == d.config.LocalUserID {
		return
	}
	if identity.DisplayName == d.config.LocalDisplayName {
		return
	}
	entry := NewFeedEntry(ShapeLog, EntryChatBoxMessage, ts)
	entry.UserID = identity.UserID
	entry.DisplayName = identity.DisplayName
	entry.Message = msg.Text
	d.submit(entry)
}

// onModeration routes block/mute flags. Unresolved handles queue until
// identity resolution replays them.
func (d *EventDecoder) onModeration(msg *vrc.ModerationAction, ts time.Time) {
	identity, ok := d.resolver.Lookup(msg.Actor)
	if !ok || identity.UserID == "" {
		d.resolver.QueueModeration(msg.Actor, msg)
		return
	}
	d.applyModeration(identity, msg, ts)
}

func (d *EventDecoder) applyModeration(identity *Identity, msg *vrc.ModerationAction, ts time.Time) {
	entries := d.ledger.Apply(d.config.LocalUserID, identity.UserID, identity.DisplayName, msg.Block, msg.Mute, ts)
	for _, entry := range entries {
		d.submit(entry)
	}
}

func (d *EventDecoder) onPortal(msg *vrc.PortalSpawned, ts time.Time) {
	identity, _ := d.resolver.Lookup(msg.Actor)
	entry := NewFeedEntry(ShapeLog, EntryPortalSpawn, ts)
	if identity != nil {
		entry.UserID = identity.UserID
		entry.DisplayName = identity.DisplayName
	}
	entry.Location = msg.Location
	entry.Message = msg.WorldName
	d.submit(entry)
}

// onResolved back-fills the roster entry for a handle whose durable id
// just became known.
func (d *EventDecoder) onResolved(actor vrc.ActorID, identity Identity) {
	d.tracker.ResolveParticipant(identity.DisplayName, identity.UserID)
}

func (d *EventDecoder) onModerationResolved(actor vrc.ActorID, identity Identity, msg *vrc.ModerationAction) {
	d.applyModeration(&identity, msg, time.Now())
}

func (d *EventDecoder) onAvatarResolved(actor vrc.ActorID, identity Identity, avatar *vrc.AvatarDescriptor) {
	d.applyAvatar(&identity, avatar, time.Now())
}
