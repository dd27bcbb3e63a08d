package conversationid_test

import (
	"fmt"
	"testing"

	"github.com/medstay/inbox/conversationid"
	"github.com/stretchr/testify/require"
)

func TestUnit_MakeIDRoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"g@x", "h@y"},
		{"nurse.ana@hospital.org", "host_bob@stays.com"},
		{"a_b@x", "c__d@y"},
		{"same@x", "same@x"},
		{"ümlaut@x", "h@y"},
	}
	for _, p := range pairs {
		t.Run(fmt.Sprintf("%s/%s", p[0], p[1]), func(t *testing.T) {
			id, err := conversationid.MakeID(p[0], p[1])
			require.NoError(t, err)

			parties, err := conversationid.ParseID(id)
			require.NoError(t, err)
			require.Equal(t, conversationid.Parties{Guest: p[0], Host: p[1]}, parties)
		})
	}
}

func TestUnit_MakeIDFormat(t *testing.T) {
	id, err := conversationid.MakeID("g@x", "h@y")
	require.NoError(t, err)
	require.Equal(t, "g@x___h@y", id)

	swapped, err := conversationid.MakeID("h@y", "g@x")
	require.NoError(t, err)
	require.NotEqual(t, id, swapped)
}

func TestUnit_MakeIDRejectsInvalidIdentities(t *testing.T) {
	cases := map[string][2]string{
		"empty guest":        {"", "h@y"},
		"blank host":         {"g@x", "   "},
		"separator in guest": {"g___x", "h@y"},
		"separator in host":  {"g@x", "h___y"},
		"leading space":      {" g@x", "h@y"},
		"trailing newline":   {"g@x", "h@y\n"},
		"edge underscore":    {"g_", "h@y"},
		"leading underscore": {"g@x", "_h"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := conversationid.MakeID(c[0], c[1])
			require.ErrorIs(t, err, conversationid.ErrInvalidIdentity)
		})
	}
}

func TestUnit_ParseIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "no-separator", "___h@y", "g@x___", "g@x___h@y___z@w", "g@x______h@y"} {
		_, err := conversationid.ParseID(id)
		require.ErrorIs(t, err, conversationid.ErrInvalidConversationID, id)
	}
}

func TestUnit_Parties(t *testing.T) {
	p := conversationid.Parties{Guest: "g@x", Host: "h@y"}

	require.True(t, p.Has("g@x", conversationid.RoleGuest))
	require.False(t, p.Has("g@x", conversationid.RoleHost))
	require.True(t, p.Has("h@y", conversationid.RoleHost))
	require.False(t, p.Has("h@y", conversationid.RoleGuest))

	require.Equal(t, "h@y", p.Counterpart(conversationid.RoleGuest))
	require.Equal(t, "g@x", p.Counterpart(conversationid.RoleHost))

	role, ok := p.RoleOf("h@y")
	require.True(t, ok)
	require.Equal(t, conversationid.RoleHost, role)
	_, ok = p.RoleOf("stranger@z")
	require.False(t, ok)
}

func TestUnit_ParseRole(t *testing.T) {
	r, err := conversationid.ParseRole(" Host ")
	require.NoError(t, err)
	require.Equal(t, conversationid.RoleHost, r)
	require.Equal(t, conversationid.RoleGuest, r.Other())

	_, err = conversationid.ParseRole("admin")
	require.ErrorIs(t, err, conversationid.ErrInvalidRole)
}
