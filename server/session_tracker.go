package server

import (
	"time"

	"go.uber.org/zap"
)

// Participant is one display-name-identified occupant of the current
// session. The durable user id may be filled in after the join, once
// identity resolution completes.
type Participant struct {
	DisplayName string    `json:"display_name"`
	UserID      string    `json:"user_id,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	AvatarID    string    `json:"avatar_id,omitempty"`
}

// Session is the authoritative "where am I right now" record. It is
// replaced wholesale on every location change; rosters never survive a
// transition.
type Session struct {
	Location  Location                `json:"location"`
	EnteredAt time.Time               `json:"entered_at"`
	Roster    map[string]*Participant `json:"roster"`
	Friends   map[string]*Participant `json:"friends"`
}

func newSession(loc Location, at time.Time) *Session {
	return &Session{
		Location:  loc,
		EnteredAt: at,
		Roster:    make(map[string]*Participant),
		Friends:   make(map[string]*Participant),
	}
}

// SessionTracker owns the current-location state machine and the roster of
// participants physically present, derived from session-log records.
type SessionTracker struct {
	logger *zap.Logger
	config *Config
	submit func(FeedEntry)

	// isFriend reports whether a durable user id is on the local user's
	// friends list. Supplied by the presence reconciler.
	isFriend func(userID string) bool

	session         *Session
	pendingArrival  *Location
	lastDestination time.Time
	lastArrival     time.Time
}

func NewSessionTracker(logger *zap.Logger, config *Config, submit func(FeedEntry), isFriend func(string) bool) *SessionTracker {
	return &SessionTracker{
		logger:   logger,
		config:   config,
		submit:   submit,
		isFriend: isFriend,
		session:  newSession(Location{IsOffline: true}, time.Time{}),
	}
}

// CurrentSession returns the live session record. Callers receive the
// owning component's view and must not mutate it.
func (t *SessionTracker) CurrentSession() *Session {
	return t.session
}

// OnDestinationRecord handles a travel request: every current participant
// is fed through the leave path first, then the session is reset to
// traveling with the destination held as a pending arrival.
func (t *SessionTracker) OnDestinationRecord(loc Location, at time.Time) {
	t.lastDestination = at
	for _, name := range rosterNames(t.session) {
		t.OnParticipantLeft(name, at)
	}
	t.session = newSession(Location{IsTraveling: true, Tag: locationTraveling}, at)
	t.pendingArrival = &loc
	t.logger.Debug("Travel requested", zap.String("destination", loc.String()))
}

// OnLocationRecord handles an arrival. Traveling and direct joins both
// terminate here with a full reset; any pending destination is discarded
// regardless of whether it matches.
func (t *SessionTracker) OnLocationRecord(loc Location, at time.Time) {
	t.lastArrival = at
	t.pendingArrival = nil
	t.session = newSession(loc, at)
	t.logger.Info("Location entered", zap.String("location", loc.String()))

	if loc.IsRealInstance() || loc.IsPrivate {
		entry := NewFeedEntry(ShapeLog, EntryGPS, at)
		entry.UserID = t.config.LocalUserID
		entry.DisplayName = t.config.LocalDisplayName
		entry.Location = loc.Tag
		t.submit(entry)
	}
}

// OnParticipantJoined inserts or refreshes a roster entry. A duplicate
// join keeps the earliest join time. Joins shortly after an arrival are an
// artifact of the instance loading in and produce no feed entry.
func (t *SessionTracker) OnParticipantJoined(displayName, userID string, at time.Time) {
	p, ok := t.session.Roster[displayName]
	if ok {
		if at.Before(p.JoinedAt) {
			p.JoinedAt = at
		}
		if p.UserID == "" && userID != "" {
			p.UserID = userID
			if t.isFriend(userID) {
				t.session.Friends[displayName] = p
			}
		}
		return
	}

	p = &Participant{DisplayName: displayName, UserID: userID, JoinedAt: at}
	t.session.Roster[displayName] = p
	friend := userID != "" && t.isFriend(userID)
	if friend {
		t.session.Friends[displayName] = p
	}

	if at.Sub(t.lastArrival) <= t.config.StaleJoinWindow {
		return
	}
	entry := NewFeedEntry(ShapeLog, EntryOnPlayerJoined, at)
	entry.UserID = userID
	entry.DisplayName = displayName
	entry.Location = t.session.Location.Tag
	entry.IsFriend = friend
	t.submit(entry)
}

// OnParticipantLeft removes a roster entry. Unknown names are tolerated:
// late and duplicate leaves are a fact of the log, not an error. Leaves
// shortly after a travel request are transition artifacts and produce no
// feed entry.
func (t *SessionTracker) OnParticipantLeft(displayName string, at time.Time) {
	p, ok := t.session.Roster[displayName]
	delete(t.session.Roster, displayName)
	delete(t.session.Friends, displayName)

	if !t.lastDestination.IsZero() && at.Sub(t.lastDestination) >= 0 && at.Sub(t.lastDestination) <= t.config.StaleLeaveWindow {
		return
	}
	if !ok {
		return
	}
	entry := NewFeedEntry(ShapeLog, EntryOnPlayerLeft, at)
	entry.UserID = p.UserID
	entry.DisplayName = displayName
	entry.Location = t.session.Location.Tag
	entry.IsFriend = p.UserID != "" && t.isFriend(p.UserID)
	t.submit(entry)
}

// ResolveParticipant back-fills the durable user id once identity
// resolution completes, and re-checks friend sub-roster membership.
func (t *SessionTracker) ResolveParticipant(displayName, userID string) {
	p, ok := t.session.Roster[displayName]
	if !ok {
		return
	}
	p.UserID = userID
	if t.isFriend(userID) {
		t.session.Friends[displayName] = p
	}
}

// SetAvatar records the last known avatar id for a present participant.
func (t *SessionTracker) SetAvatar(displayName, avatarID string) {
	if p, ok := t.session.Roster[displayName]; ok {
		p.AvatarID = avatarID
	}
}

func rosterNames(s *Session) []string {
	names := make([]string, 0, len(s.Roster))
	for name := range s.Roster {
		names = append(names, name)
	}
	return names
}
