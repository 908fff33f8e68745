package vrc

import "fmt"

// PropertySync reports per-actor property updates. Absent fields are nil;
// only set fields carry meaning. Avatar swaps and status edits arrive on
// this code.
type PropertySync struct {
	Actor  ActorID           `json:"actorNr"`
	Avatar *AvatarDescriptor `json:"avatar,omitempty"`
	Status *string           `json:"status,omitempty"`
}

func (m *PropertySync) Code() EventCode { return CodePropertySync }
func (m *PropertySync) Token() string   { return "PropertySync" }

func (m *PropertySync) String() string {
	return fmt.Sprintf("%s(actor=%d, avatar=%v, status=%v)", m.Token(), m.Actor, m.Avatar != nil, m.Status != nil)
}

// MasterMigrated reports the instance master moving to a new actor after
// the previous master disconnected.
type MasterMigrated struct {
	NewMaster ActorID `json:"masterActorNr"`
	OldMaster ActorID `json:"previousMasterActorNr"`
}

func (m *MasterMigrated) Code() EventCode { return CodeMasterMigrated }
func (m *MasterMigrated) Token() string   { return "MasterMigrated" }

func (m *MasterMigrated) String() string {
	return fmt.Sprintf("%s(new=%d, old=%d)", m.Token(), m.NewMaster, m.OldMaster)
}
