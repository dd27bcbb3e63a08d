package messagestore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/medstay/inbox/conversationid"
	libdb "github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/messagestore"
	"github.com/stretchr/testify/require"
)

const convID = "g@x___h@y"

func setupSQLite(t *testing.T) (context.Context, libdb.DBManager) {
	t.Helper()
	ctx := context.Background()
	db, err := libdb.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "inbox.db"), messagestore.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return ctx, db
}

func setupPostgres(t *testing.T) (context.Context, libdb.DBManager) {
	t.Helper()
	ctx := context.Background()
	connStr, _, cleanup, err := libdb.SetupLocalInstance(ctx, "inbox", "inbox", "inbox")
	require.NoError(t, err)
	db, err := libdb.NewPostgresDBManager(ctx, connStr, messagestore.Schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
		cleanup()
	})
	return ctx, db
}

func appendText(t *testing.T, ctx context.Context, s messagestore.Store, sender, text string) *messagestore.Message {
	t.Helper()
	m, err := s.AppendMessage(ctx, &messagestore.Message{
		ConversationID: convID,
		SenderID:       sender,
		SenderName:     sender,
		Text:           text,
	})
	require.NoError(t, err)
	return m
}

func TestUnit_AppendAssignsSequenceAndCreatesConversation(t *testing.T) {
	ctx, db := setupSQLite(t)
	s := messagestore.New(db.WithoutTransaction())

	first := appendText(t, ctx, s, "g@x", "Hi")
	second := appendText(t, ctx, s, "h@y", "Hello")

	require.NotEmpty(t, first.ID)
	require.EqualValues(t, 1, first.Seq)
	require.EqualValues(t, 2, second.Seq)
	require.Equal(t, time.UTC, first.AddedAt.Location())

	conv, err := s.GetConversation(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, conversationid.Parties{Guest: "g@x", Host: "h@y"}, conv.Parties)
	require.EqualValues(t, 2, conv.LastSeq)

	msgs, err := s.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "Hi", msgs[0].Text)
	require.Equal(t, "Hello", msgs[1].Text)

	n, err := s.CountMessages(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	last, err := s.LastMessage(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, second.ID, last.ID)
}

func TestUnit_OrderFollowsSequenceNotClock(t *testing.T) {
	ctx, db := setupSQLite(t)
	s := messagestore.New(db.WithoutTransaction())
	now := time.Now().UTC()

	_, err := s.AppendMessage(ctx, &messagestore.Message{ConversationID: convID, SenderID: "g@x", Text: "first", AddedAt: now})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, &messagestore.Message{ConversationID: convID, SenderID: "h@y", Text: "second, skewed clock", AddedAt: now.Add(-time.Hour)})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, "first", msgs[0].Text)
	require.Equal(t, "second, skewed clock", msgs[1].Text)

	// The latest timestamp wins, even with a lower Seq.
	last, err := s.LastMessage(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, "first", last.Text)
}

func TestUnit_AppendIsIdempotentOnID(t *testing.T) {
	ctx, db := setupSQLite(t)
	s := messagestore.New(db.WithoutTransaction())

	draft := &messagestore.Message{ID: "m-1", ConversationID: convID, SenderID: "g@x", Text: "Hi"}
	first, err := s.AppendMessage(ctx, draft)
	require.NoError(t, err)
	again, err := s.AppendMessage(ctx, draft)
	require.NoError(t, err)
	require.Equal(t, first.Seq, again.Seq)
	require.True(t, first.AddedAt.Equal(again.AddedAt))

	n, err := s.CountMessages(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.AppendMessage(ctx, &messagestore.Message{ID: "m-1", ConversationID: "a@b___c@d", SenderID: "a@b", Text: "x"})
	require.ErrorIs(t, err, messagestore.ErrIDConflict)
}

func TestUnit_AppendValidates(t *testing.T) {
	ctx, db := setupSQLite(t)
	s := messagestore.New(db.WithoutTransaction())

	_, err := s.AppendMessage(ctx, &messagestore.Message{ConversationID: convID, Text: "no sender"})
	require.ErrorIs(t, err, messagestore.ErrInvalidMessage)

	_, err = s.AppendMessage(ctx, &messagestore.Message{ConversationID: "broken", SenderID: "g@x", Text: "x"})
	require.ErrorIs(t, err, conversationid.ErrInvalidConversationID)
}

func TestUnit_EnsureConversationAndRoleIsolation(t *testing.T) {
	ctx, db := setupSQLite(t)
	s := messagestore.New(db.WithoutTransaction())

	created, err := s.EnsureConversation(ctx, convID)
	require.NoError(t, err)
	require.True(t, created)
	created, err = s.EnsureConversation(ctx, convID)
	require.NoError(t, err)
	require.False(t, created)

	list := func(identity string, role conversationid.Role) []string {
		convs, err := s.ListConversations(ctx, identity, role)
		require.NoError(t, err)
		ids := []string{}
		for _, c := range convs {
			ids = append(ids, c.ID)
		}
		return ids
	}
	require.Equal(t, []string{convID}, list("g@x", conversationid.RoleGuest))
	require.Equal(t, []string{convID}, list("h@y", conversationid.RoleHost))
	require.Empty(t, list("g@x", conversationid.RoleHost))
	require.Empty(t, list("h@y", conversationid.RoleGuest))

	_, err = s.GetConversation(ctx, "a@b___c@d")
	require.ErrorIs(t, err, messagestore.ErrNotFound)
	_, err = s.LastMessage(ctx, convID)
	require.ErrorIs(t, err, messagestore.ErrNotFound)
}

func TestUnit_CorruptPayloadDegradesReads(t *testing.T) {
	ctx, db := setupSQLite(t)
	exec := db.WithoutTransaction()
	s := messagestore.New(exec)

	good := appendText(t, ctx, s, "g@x", "Hi")
	_, err := exec.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, conversation_id, seq, sender_id, payload, added_us)
		VALUES ('bad', $1, 99, 'h@y', $2, 0)`, convID, []byte("{not json"))
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, good.ID, msgs[0].ID)

	last, err := s.LastMessage(ctx, convID)
	require.NoError(t, err)
	require.Equal(t, good.ID, last.ID)

	snap, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.True(t, snap.Degraded)
	require.Equal(t, 1, snap.Skipped)
	require.Len(t, snap.Conversations[convID], 1)

	_, err = s.GetMessage(ctx, "bad")
	require.ErrorIs(t, err, messagestore.ErrCorruptPayload)
}

func TestUnit_ListAllIncludesEmptyConversations(t *testing.T) {
	ctx, db := setupSQLite(t)
	s := messagestore.New(db.WithoutTransaction())

	_, err := s.EnsureConversation(ctx, "a@b___c@d")
	require.NoError(t, err)
	appendText(t, ctx, s, "g@x", "Hi")

	snap, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.False(t, snap.Degraded)
	require.Len(t, snap.Conversations, 2)
	require.Empty(t, snap.Conversations["a@b___c@d"])
	require.Len(t, snap.Conversations[convID], 1)
}

func TestUnit_ConcurrentTransactionalAppendsGetDistinctSequence(t *testing.T) {
	ctx, db := setupSQLite(t)
	appendConcurrently(t, ctx, db, 20)
}

func TestSystem_PostgresConcurrentAppends(t *testing.T) {
	ctx, db := setupPostgres(t)
	appendConcurrently(t, ctx, db, 50)

	s := messagestore.New(db.WithoutTransaction())
	draft := &messagestore.Message{ID: "retry-me", ConversationID: convID, SenderID: "h@y", Text: "once"}
	a, err := s.AppendMessage(ctx, draft)
	require.NoError(t, err)
	b, err := s.AppendMessage(ctx, draft)
	require.NoError(t, err)
	require.Equal(t, a.Seq, b.Seq)
}

func appendConcurrently(t *testing.T, ctx context.Context, db libdb.DBManager, n int) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec, commit, release, err := db.WithTransaction(ctx)
			if err != nil {
				errs <- err
				return
			}
			defer release()
			sender := "g@x"
			if i%2 == 1 {
				sender = "h@y"
			}
			if _, err := messagestore.New(exec).AppendMessage(ctx, &messagestore.Message{
				ConversationID: convID, SenderID: sender, Text: "m",
			}); err != nil {
				errs <- err
				return
			}
			errs <- commit(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := messagestore.New(db.WithoutTransaction()).ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		require.EqualValues(t, i+1, m.Seq)
	}
}
