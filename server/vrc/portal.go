package vrc

import "fmt"

// PortalSpawned reports a portal object instantiated in the instance,
// pointing at another location.
type PortalSpawned struct {
	Actor     ActorID `json:"actorNr"`
	Location  string  `json:"location"`
	ShortName string  `json:"shortName"`
	WorldName string  `json:"worldName"`
}

func (m *PortalSpawned) Code() EventCode { return CodePortalSpawned }
func (m *PortalSpawned) Token() string   { return "PortalSpawned" }

func (m *PortalSpawned) String() string {
	return fmt.Sprintf("%s(actor=%d, location=%s)", m.Token(), m.Actor, m.Location)
}

// PortalDropped reports a portal object destroyed before or after use.
type PortalDropped struct {
	Actor ActorID `json:"actorNr"`
}

func (m *PortalDropped) Code() EventCode { return CodePortalDropped }
func (m *PortalDropped) Token() string   { return "PortalDropped" }

func (m *PortalDropped) String() string {
	return fmt.Sprintf("%s(actor=%d)", m.Token(), m.Actor)
}
