package vrc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	status := "join me"
	tests := []struct {
		name    string
		code    EventCode
		payload string
		want    Message
	}{
		{
			name: "participant joined",
			code: CodeParticipantJoined,
			payload: `{"actorNr":7,"user":{"id":"usr_a","displayName":"Alice","statusDescription":"hi"},` +
				`"avatar":{"id":"avtr_1","name":"Robot","imageUrl":"https://img/1.png"}}`,
			want: &ParticipantJoined{
				Actor:  7,
				User:   IdentityHint{UserID: "usr_a", DisplayName: "Alice", StatusDescription: "hi"},
				Avatar: AvatarDescriptor{ID: "avtr_1", Name: "Robot", ImageURL: "https://img/1.png"},
			},
		},
		{
			name:    "participant left",
			code:    CodeParticipantLeft,
			payload: `{"actorNr":7}`,
			want:    &ParticipantLeft{Actor: 7},
		},
		{
			name:    "property sync avatar only",
			code:    CodePropertySync,
			payload: `{"actorNr":3,"avatar":{"id":"avtr_2","name":"Knight"}}`,
			want:    &PropertySync{Actor: 3, Avatar: &AvatarDescriptor{ID: "avtr_2", Name: "Knight"}},
		},
		{
			name:    "property sync status only",
			code:    CodePropertySync,
			payload: `{"actorNr":3,"status":"join me"}`,
			want:    &PropertySync{Actor: 3, Status: &status},
		},
		{
			name:    "master migrated",
			code:    CodeMasterMigrated,
			payload: `{"masterActorNr":4,"previousMasterActorNr":1}`,
			want:    &MasterMigrated{NewMaster: 4, OldMaster: 1},
		},
		{
			name:    "chat message",
			code:    CodeChatMessage,
			payload: `{"actorNr":2,"text":"hello"}`,
			want:    &ChatMessage{Actor: 2, Text: "hello"},
		},
		{
			name:    "moderation action",
			code:    CodeModerationAction,
			payload: `{"actorNr":5,"block":true,"mute":false}`,
			want:    &ModerationAction{Actor: 5, Block: true},
		},
		{
			name:    "portal spawned",
			code:    CodePortalSpawned,
			payload: `{"actorNr":6,"location":"wrld_x:123","shortName":"abc","worldName":"The Pug"}`,
			want:    &PortalSpawned{Actor: 6, Location: "wrld_x:123", ShortName: "abc", WorldName: "The Pug"},
		},
		{
			name:    "empty payload yields zero value",
			code:    CodePortalDropped,
			payload: "",
			want:    &PortalDropped{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Envelope{EventCode: tt.code, Timestamp: time.Now(), Payload: json.RawMessage(tt.payload)}
			got, err := Decode(env)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.code, got.Code())
		})
	}
}

func TestDecode_UnknownCode(t *testing.T) {
	env := Envelope{EventCode: 99, Payload: json.RawMessage(`{"anything":true}`)}
	got, err := Decode(env)
	require.NoError(t, err)
	unhandled, ok := got.(*Unhandled)
	require.True(t, ok)
	assert.Equal(t, EventCode(99), unhandled.EventCode)
	assert.JSONEq(t, `{"anything":true}`, string(unhandled.Raw))
}

func TestDecode_MalformedPayload(t *testing.T) {
	env := Envelope{EventCode: CodeChatMessage, Payload: json.RawMessage(`{"actorNr":"not a number"}`)}
	_, err := Decode(env)
	require.ErrorIs(t, err, ErrParseError)
}

func TestCodeOf(t *testing.T) {
	for code, prototype := range EventTypes {
		got, ok := CodeOf(prototype.Token())
		require.True(t, ok, prototype.Token())
		assert.Equal(t, code, got)
	}
	_, ok := CodeOf("NoSuchMessage")
	assert.False(t, ok)
}

func TestEventCode_String(t *testing.T) {
	assert.Equal(t, "ChatMessage", CodeChatMessage.String())
	assert.Equal(t, "EventCode(99)", EventCode(99).String())
}
