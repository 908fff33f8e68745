package server

import (
	"fmt"
	"strings"
)

type AccessType string

const (
	AccessPublic      AccessType = "public"
	AccessFriendsPlus AccessType = "friends+"
	AccessFriends     AccessType = "friends"
	AccessInvitePlus  AccessType = "invite+"
	AccessInvite      AccessType = "invite"
	AccessGroup       AccessType = "group"
)

const (
	locationOffline   = "offline"
	locationPrivate   = "private"
	locationTraveling = "traveling"
)

// Location is the parsed form of the platform's location tag encoding:
// "offline", "private", "traveling", or "worldId[:instanceId[~mod(arg)...]]".
// Exactly one of IsOffline, IsPrivate, IsTraveling or a non-empty WorldID
// holds.
type Location struct {
	Tag          string     `json:"tag"`
	IsOffline    bool       `json:"is_offline,omitempty"`
	IsPrivate    bool       `json:"is_private,omitempty"`
	IsTraveling  bool       `json:"is_traveling,omitempty"`
	WorldID      string     `json:"world_id,omitempty"`
	InstanceID   string     `json:"instance_id,omitempty"`
	InstanceName string     `json:"instance_name,omitempty"`
	Access       AccessType `json:"access_type,omitempty"`
	Region       string     `json:"region,omitempty"`
	OwnerID      string     `json:"owner_id,omitempty"`
	GroupID      string     `json:"group_id,omitempty"`
	GroupAccess  string     `json:"group_access_type,omitempty"`
	Strict       bool       `json:"strict,omitempty"`
	ShortName    string     `json:"short_name,omitempty"`
}

// ParseLocation parses a location tag. It never fails: unrecognized
// modifiers are skipped, and a bare world id is a public instance with no
// instance id. The zero tag parses as offline.
func ParseLocation(tag string) Location {
	loc := Location{Tag: tag}

	switch tag {
	case "", locationOffline:
		loc.IsOffline = true
		return loc
	case locationPrivate:
		loc.IsPrivate = true
		return loc
	case locationTraveling:
		loc.IsTraveling = true
		return loc
	}

	worldID, rest, _ := strings.Cut(tag, ":")
	loc.WorldID = worldID
	loc.Access = AccessPublic
	if rest == "" {
		return loc
	}

	parts := strings.Split(rest, "~")
	loc.InstanceName = parts[0]
	loc.InstanceID = parts[0]

	canRequestInvite := false
	for _, mod := range parts[1:] {
		name, arg := mod, ""
		if i := strings.IndexByte(mod, '('); i >= 0 && strings.HasSuffix(mod, ")") {
			name, arg = mod[:i], mod[i+1:len(mod)-1]
		}
		switch name {
		case "hidden":
			loc.Access = AccessFriendsPlus
			loc.OwnerID = arg
		case "friends":
			loc.Access = AccessFriends
			loc.OwnerID = arg
		case "private":
			loc.Access = AccessInvite
			loc.OwnerID = arg
		case "canRequestInvite":
			canRequestInvite = true
		case "group":
			loc.Access = AccessGroup
			loc.GroupID = arg
		case "groupAccessType":
			loc.GroupAccess = arg
		case "region":
			loc.Region = arg
		case "strict":
			loc.Strict = true
		case "shortName":
			loc.ShortName = arg
		}
	}
	if loc.Access == AccessInvite && canRequestInvite {
		loc.Access = AccessInvitePlus
	}
	return loc
}

// IsRealInstance reports whether the location names a joinable world
// instance rather than a sentinel state.
func (l Location) IsRealInstance() bool {
	return l.WorldID != "" && !l.IsOffline && !l.IsPrivate && !l.IsTraveling
}

func (l Location) String() string {
	switch {
	case l.IsOffline:
		return locationOffline
	case l.IsPrivate:
		return locationPrivate
	case l.IsTraveling:
		return locationTraveling
	case l.InstanceID == "":
		return l.WorldID
	default:
		return fmt.Sprintf("%s:%s", l.WorldID, l.InstanceID)
	}
}
