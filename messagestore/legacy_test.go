package messagestore_test

import (
	"testing"

	"github.com/medstay/inbox/messagestore"
	"github.com/stretchr/testify/require"
)

const legacyDoc = `{
  "g@x___h@y": [
    {"id": 1700000000002, "senderId": "h@y", "senderName": "Host", "senderAvatar": "", "text": "Hello", "timestamp": "2024-03-01T10:05:00.000Z"},
    {"id": 1700000000001, "senderId": "g@x", "senderName": "Guest", "senderAvatar": "", "text": "Hi", "timestamp": "2024-03-01T10:00:00.000Z"},
    {"id": "blank", "senderId": "g@x", "text": "   ", "timestamp": "2024-03-01T10:06:00.000Z"},
    {"id": "stranger", "senderId": "z@z", "text": "spam", "timestamp": "2024-03-01T10:07:00.000Z"}
  ],
  "a@b___c@d": [
    {"id": 1700000000001, "senderId": "a@b", "text": "same browser id, other conversation", "timestamp": "2024-03-02T09:00:00Z"}
  ],
  "not-a-conversation": [
    {"id": "x", "senderId": "a@b", "text": "lost", "timestamp": "2024-03-02T09:00:00Z"}
  ]
}`

func TestUnit_ImportLegacy(t *testing.T) {
	ctx, db := setupSQLite(t)
	s := messagestore.New(db.WithoutTransaction())

	report, err := messagestore.ImportLegacy(ctx, s, []byte(legacyDoc))
	require.NoError(t, err)
	require.Equal(t, &messagestore.ImportReport{
		Conversations: 2,
		Imported:      3,
		Rejected:      3,
	}, report)

	msgs, err := s.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "Hi", msgs[0].Text)
	require.Equal(t, "Hello", msgs[1].Text)
	require.Equal(t, "Guest", msgs[0].SenderName)

	again, err := messagestore.ImportLegacy(ctx, s, []byte(legacyDoc))
	require.NoError(t, err)
	require.Equal(t, 0, again.Imported)
	require.Equal(t, 3, again.Duplicates)

	n, err := s.CountMessages(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestUnit_ImportLegacyCorruptDocumentDegrades(t *testing.T) {
	ctx, db := setupSQLite(t)
	s := messagestore.New(db.WithoutTransaction())

	report, err := messagestore.ImportLegacy(ctx, s, []byte(`{"g@x___h@y": [ {"id": `))
	require.NoError(t, err)
	require.True(t, report.Degraded)
	require.Zero(t, report.Imported)

	snap, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Conversations)
}
