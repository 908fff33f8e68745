package vrc

import "fmt"

// IdentityHint is the profile snapshot nested in a join event. It is a
// partial view of the user's directory profile: enough to display the
// participant immediately, not enough to replace a full profile fetch.
type IdentityHint struct {
	UserID            string `json:"id"`
	DisplayName       string `json:"displayName"`
	AvatarImageURL    string `json:"currentAvatarImageUrl"`
	StatusDescription string `json:"statusDescription"`
}

// AvatarDescriptor is the avatar payload nested in join and sync events.
type AvatarDescriptor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	AuthorID string `json:"authorId"`
}

// ParticipantJoined reports an actor entering the instance. The identity
// hint and avatar descriptor ride along so consumers can resolve identity
// before the join itself is surfaced.
type ParticipantJoined struct {
	Actor  ActorID          `json:"actorNr"`
	User   IdentityHint     `json:"user"`
	Avatar AvatarDescriptor `json:"avatar"`
}

func (m *ParticipantJoined) Code() EventCode { return CodeParticipantJoined }
func (m *ParticipantJoined) Token() string   { return "ParticipantJoined" }

func (m *ParticipantJoined) String() string {
	return fmt.Sprintf("%s(actor=%d, user=%s, display_name=%s)", m.Token(), m.Actor, m.User.UserID, m.User.DisplayName)
}

// ParticipantLeft reports an actor leaving the instance.
type ParticipantLeft struct {
	Actor ActorID `json:"actorNr"`
}

func (m *ParticipantLeft) Code() EventCode { return CodeParticipantLeft }
func (m *ParticipantLeft) Token() string   { return "ParticipantLeft" }

func (m *ParticipantLeft) String() string {
	return fmt.Sprintf("%s(actor=%d)", m.Token(), m.Actor)
}
