package vrc

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	ErrParseError = errors.New("parse error")

	// EventTypes is the complete list of implemented realtime event types,
	// keyed by the wire event code. The code namespace is reused from the
	// underlying realtime protocol: 200+ codes are protocol-reserved
	// (join/leave/sync), lower codes are application-defined payloads.
	EventTypes = map[EventCode]Message{
		CodeParticipantJoined: (*ParticipantJoined)(nil),
		CodeParticipantLeft:   (*ParticipantLeft)(nil),
		CodePropertySync:      (*PropertySync)(nil),
		CodeMasterMigrated:    (*MasterMigrated)(nil),
		CodePortalSpawned:     (*PortalSpawned)(nil),
		CodePortalDropped:     (*PortalDropped)(nil),
		CodeChatMessage:       (*ChatMessage)(nil),
		CodeModerationAction:  (*ModerationAction)(nil),
	}

	// Reverse lookup from message token to event code.
	reverseEventTypes = make(map[string]EventCode, len(EventTypes))
)

func init() {
	for code, m := range EventTypes {
		reverseEventTypes[m.Token()] = code
	}
}

type EventCode uint16

const (
	CodeParticipantJoined EventCode = 255
	CodeParticipantLeft   EventCode = 254
	CodePropertySync      EventCode = 253
	CodeMasterMigrated    EventCode = 208
	CodePortalSpawned     EventCode = 202
	CodePortalDropped     EventCode = 204
	CodeChatMessage       EventCode = 43
	CodeModerationAction  EventCode = 33
)

func (c EventCode) String() string {
	if m, ok := EventTypes[c]; ok {
		return m.Token()
	}
	return fmt.Sprintf("EventCode(%d)", uint16(c))
}

// ActorID is the ephemeral per-connection participant handle assigned by
// the realtime layer. It is scoped to a single instance occupancy and is
// distinct from the durable user id.
type ActorID int32

// Message is one decoded realtime event.
type Message interface {
	Code() EventCode
	Token() string
}

// Envelope is the bridge's framing for a single realtime event.
type Envelope struct {
	EventCode EventCode       `json:"code"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode maps an envelope to its typed message. Codes without an
// implemented type decode to *Unhandled; only a malformed payload for a
// known code is an error.
func Decode(env Envelope) (Message, error) {
	prototype, ok := EventTypes[env.EventCode]
	if !ok {
		return &Unhandled{EventCode: env.EventCode, Raw: env.Payload}, nil
	}
	msg := reflect.New(reflect.TypeOf(prototype).Elem()).Interface().(Message)
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParseError, msg.Token(), err)
		}
	}
	return msg, nil
}

// CodeOf returns the wire code for a message token, for tests and logging.
func CodeOf(token string) (EventCode, bool) {
	c, ok := reverseEventTypes[token]
	return c, ok
}

// Unhandled is the typed default arm of the event union. It carries the
// raw payload so it can be logged and dropped by the caller.
type Unhandled struct {
	EventCode EventCode
	Raw       json.RawMessage
}

func (m *Unhandled) Code() EventCode { return m.EventCode }
func (m *Unhandled) Token() string   { return "Unhandled" }

func (m *Unhandled) String() string {
	return fmt.Sprintf("Unhandled(code=%d, len=%d)", uint16(m.EventCode), len(m.Raw))
}
