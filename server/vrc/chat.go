package vrc

import "fmt"

// ChatMessage is an in-instance text chat payload from a single actor.
type ChatMessage struct {
	Actor ActorID `json:"actorNr"`
	Text  string  `json:"text"`
}

func (m *ChatMessage) Code() EventCode { return CodeChatMessage }
func (m *ChatMessage) Token() string   { return "ChatMessage" }

func (m *ChatMessage) String() string {
	return fmt.Sprintf("%s(actor=%d, len=%d)", m.Token(), m.Actor, len(m.Text))
}
