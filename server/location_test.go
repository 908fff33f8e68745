package server

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want Location
	}{
		{
			name: "empty tag is offline",
			tag:  "",
			want: Location{IsOffline: true},
		},
		{
			name: "offline sentinel",
			tag:  "offline",
			want: Location{Tag: "offline", IsOffline: true},
		},
		{
			name: "private sentinel",
			tag:  "private",
			want: Location{Tag: "private", IsPrivate: true},
		},
		{
			name: "traveling sentinel",
			tag:  "traveling",
			want: Location{Tag: "traveling", IsTraveling: true},
		},
		{
			name: "bare world id is public with no instance",
			tag:  "wrld_aaa",
			want: Location{Tag: "wrld_aaa", WorldID: "wrld_aaa", Access: AccessPublic},
		},
		{
			name: "public instance",
			tag:  "wrld_aaa:12345",
			want: Location{
				Tag: "wrld_aaa:12345", WorldID: "wrld_aaa",
				InstanceID: "12345", InstanceName: "12345", Access: AccessPublic,
			},
		},
		{
			name: "friends plus with owner and region",
			tag:  "wrld_aaa:99~hidden(usr_owner)~region(eu)",
			want: Location{
				Tag: "wrld_aaa:99~hidden(usr_owner)~region(eu)", WorldID: "wrld_aaa",
				InstanceID: "99", InstanceName: "99",
				Access: AccessFriendsPlus, OwnerID: "usr_owner", Region: "eu",
			},
		},
		{
			name: "friends only",
			tag:  "wrld_aaa:7~friends(usr_owner)",
			want: Location{
				Tag: "wrld_aaa:7~friends(usr_owner)", WorldID: "wrld_aaa",
				InstanceID: "7", InstanceName: "7",
				Access: AccessFriends, OwnerID: "usr_owner",
			},
		},
		{
			name: "invite",
			tag:  "wrld_aaa:7~private(usr_owner)",
			want: Location{
				Tag: "wrld_aaa:7~private(usr_owner)", WorldID: "wrld_aaa",
				InstanceID: "7", InstanceName: "7",
				Access: AccessInvite, OwnerID: "usr_owner",
			},
		},
		{
			name: "invite plus",
			tag:  "wrld_aaa:7~private(usr_owner)~canRequestInvite",
			want: Location{
				Tag: "wrld_aaa:7~private(usr_owner)~canRequestInvite", WorldID: "wrld_aaa",
				InstanceID: "7", InstanceName: "7",
				Access: AccessInvitePlus, OwnerID: "usr_owner",
			},
		},
		{
			name: "group instance with access type and strict",
			tag:  "wrld_aaa:42~group(grp_g)~groupAccessType(plus)~strict",
			want: Location{
				Tag: "wrld_aaa:42~group(grp_g)~groupAccessType(plus)~strict", WorldID: "wrld_aaa",
				InstanceID: "42", InstanceName: "42",
				Access: AccessGroup, GroupID: "grp_g", GroupAccess: "plus", Strict: true,
			},
		},
		{
			name: "short name modifier",
			tag:  "wrld_aaa:42~shortName(abc123)",
			want: Location{
				Tag: "wrld_aaa:42~shortName(abc123)", WorldID: "wrld_aaa",
				InstanceID: "42", InstanceName: "42",
				Access: AccessPublic, ShortName: "abc123",
			},
		},
		{
			name: "unknown modifier skipped",
			tag:  "wrld_aaa:42~mystery(x)",
			want: Location{
				Tag: "wrld_aaa:42~mystery(x)", WorldID: "wrld_aaa",
				InstanceID: "42", InstanceName: "42", Access: AccessPublic,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLocation(tt.tag)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected location (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLocation_ExactlyOneState(t *testing.T) {
	for _, tag := range []string{"", "offline", "private", "traveling", "wrld_a", "wrld_a:1~region(us)"} {
		loc := ParseLocation(tag)
		states := 0
		if loc.IsOffline {
			states++
		}
		if loc.IsPrivate {
			states++
		}
		if loc.IsTraveling {
			states++
		}
		if loc.WorldID != "" {
			states++
		}
		if states != 1 {
			t.Errorf("tag %q: %d states set, want exactly 1", tag, states)
		}
	}
}
