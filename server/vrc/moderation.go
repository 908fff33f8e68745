package vrc

import "fmt"

// ModerationAction reports the local user's block/mute flags against a
// single actor, as mirrored by the realtime layer. The actor is ephemeral:
// consumers that need the durable user id must wait for identity
// resolution before acting on it.
type ModerationAction struct {
	Actor ActorID `json:"actorNr"`
	Block bool    `json:"block"`
	Mute  bool    `json:"mute"`
}

func (m *ModerationAction) Code() EventCode { return CodeModerationAction }
func (m *ModerationAction) Token() string   { return "ModerationAction" }

func (m *ModerationAction) String() string {
	return fmt.Sprintf("%s(actor=%d, block=%t, mute=%t)", m.Token(), m.Actor, m.Block, m.Mute)
}
