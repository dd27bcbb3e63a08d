package inboxservice_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/inboxservice"
	libbus "github.com/medstay/inbox/libbus"
	libdb "github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/libkvstore"
	"github.com/medstay/inbox/messagestatus"
	"github.com/medstay/inbox/messagestore"
	"github.com/medstay/inbox/presence"
	"github.com/medstay/inbox/userdirectory"
	"github.com/stretchr/testify/require"
)

const (
	guest = "g@x"
	host  = "h@y"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type env struct {
	svc      inboxservice.Service
	db       libdb.DBManager
	bus      *libbus.InMem
	presence presence.Service
	clock    *fakeClock
}

func setup(t *testing.T, cfg inboxservice.Config) (context.Context, *env) {
	t.Helper()
	ctx := context.Background()
	db, err := libdb.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "inbox.db"), messagestore.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	clock := &fakeClock{t: time.Date(2024, 3, 8, 15, 0, 0, 0, time.UTC)}
	kv := libkvstore.NewInMem().WithClock(clock.Now)
	pres, err := presence.New(kv, presence.DefaultConfig(), presence.WithClock(clock.Now))
	require.NoError(t, err)

	bus := libbus.NewInMem()
	t.Cleanup(func() { require.NoError(t, bus.Close()) })

	dir := userdirectory.NewStatic(
		userdirectory.User{Identity: guest, Name: "Nurse Ana", Role: conversationid.RoleGuest},
		userdirectory.User{Identity: host, Name: "Harbor Flats", Role: conversationid.RoleHost},
	)
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	svc := inboxservice.New(db, bus, pres, dir, cfg, inboxservice.WithClock(clock.Now))
	return ctx, &env{svc: svc, db: db, bus: bus, presence: pres, clock: clock}
}

func TestUnit_EndToEndGuestHostScenario(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	svc := e.svc

	id, err := svc.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)
	require.Equal(t, "g@x___h@y", id)

	thread, err := svc.Thread(ctx, id, guest)
	require.NoError(t, err)
	require.Empty(t, thread.Messages)

	_, err = svc.Send(ctx, id, inboxservice.Draft{SenderID: guest, Text: "Hi"})
	require.NoError(t, err)
	requireUnread(t, ctx, svc, host, conversationid.RoleHost, 1)
	requireUnread(t, ctx, svc, guest, conversationid.RoleGuest, 0)

	require.NoError(t, svc.MarkRead(ctx, id, host))
	requireUnread(t, ctx, svc, host, conversationid.RoleHost, 0)

	_, err = svc.Send(ctx, id, inboxservice.Draft{SenderID: host, Text: "Hello"})
	require.NoError(t, err)
	requireUnread(t, ctx, svc, guest, conversationid.RoleGuest, 1)

	list, err := svc.ListConversations(ctx, guest, conversationid.RoleGuest, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 1, list[0].Unread)
	require.Equal(t, "Harbor Flats", list[0].Counterpart.Name)
	require.Equal(t, "Hello", list[0].LastMessage.Preview)

	require.NoError(t, svc.MarkRead(ctx, id, guest))
	requireUnread(t, ctx, svc, guest, conversationid.RoleGuest, 0)

	again, err := svc.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func requireUnread(t *testing.T, ctx context.Context, svc inboxservice.Service, identity string, role conversationid.Role, want int) {
	t.Helper()
	n, err := svc.TotalUnread(ctx, identity, role)
	require.NoError(t, err)
	require.Equal(t, want, n)
}

func TestUnit_SendValidates(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	id, err := e.svc.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)

	_, err = e.svc.Send(ctx, id, inboxservice.Draft{SenderID: guest, Text: "  \n\t "})
	require.ErrorIs(t, err, inboxservice.ErrEmptyMessage)

	_, err = e.svc.Send(ctx, id, inboxservice.Draft{SenderID: "z@z", Text: "hi"})
	require.ErrorIs(t, err, inboxservice.ErrNotParticipant)

	_, err = e.svc.Send(ctx, "nope", inboxservice.Draft{SenderID: guest, Text: "hi"})
	require.ErrorIs(t, err, conversationid.ErrInvalidConversationID)

	_, err = e.svc.OpenOrCreateConversation(ctx, "", host)
	require.ErrorIs(t, err, conversationid.ErrInvalidIdentity)

	require.ErrorIs(t, e.svc.MarkRead(ctx, id, "z@z"), inboxservice.ErrNotParticipant)
}

func TestUnit_SendFillsSenderMetadataAndIsIdempotent(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	id := "g@x___h@y"

	draft := inboxservice.Draft{ID: "draft-1", SenderID: guest, Text: "  Hi there  "}
	first, err := e.svc.Send(ctx, id, draft)
	require.NoError(t, err)
	require.Equal(t, "Hi there", first.Text)
	require.Equal(t, "Nurse Ana", first.SenderName)
	require.Equal(t, "initials:NA", first.SenderAvatar)

	second, err := e.svc.Send(ctx, id, draft)
	require.NoError(t, err)
	require.Equal(t, first.Seq, second.Seq)

	thread, err := e.svc.Thread(ctx, id, guest)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
}

func TestUnit_SendTimeoutIsRetryable(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{SendTimeout: 50 * time.Millisecond})
	id := "g@x___h@y"

	// The SQLite manager has a single connection; holding it stalls the send.
	_, _, release, err := e.db.WithTransaction(ctx)
	require.NoError(t, err)

	draft := inboxservice.Draft{ID: "slow-1", SenderID: guest, Text: "are you there?"}
	_, err = e.svc.Send(ctx, id, draft)
	require.ErrorIs(t, err, inboxservice.ErrSendTimeout)
	require.NoError(t, release())

	msg, err := e.svc.Send(ctx, id, draft)
	require.NoError(t, err)
	require.Equal(t, "slow-1", msg.ID)

	thread, err := e.svc.Thread(ctx, id, host)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
}

func TestUnit_MessagesAreStampedInOrder(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	id := "g@x___h@y"

	// The fake clock never advances, the stamps must still increase.
	var prev time.Time
	for i := range 5 {
		sender := guest
		if i%2 == 1 {
			sender = host
		}
		m, err := e.svc.Send(ctx, id, inboxservice.Draft{SenderID: sender, Text: "m"})
		require.NoError(t, err)
		require.True(t, m.AddedAt.After(prev))
		require.EqualValues(t, i+1, m.Seq)
		prev = m.AddedAt
	}
}

func TestUnit_RoleIsolation(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	_, err := e.svc.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)

	count := func(identity string, role conversationid.Role) int {
		list, err := e.svc.ListConversations(ctx, identity, role, "")
		require.NoError(t, err)
		return len(list)
	}
	require.Equal(t, 1, count(guest, conversationid.RoleGuest))
	require.Equal(t, 1, count(host, conversationid.RoleHost))
	require.Equal(t, 0, count(guest, conversationid.RoleHost))
	require.Equal(t, 0, count(host, conversationid.RoleGuest))
}

func TestUnit_ListConversationsPreviewSortAndSearch(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	svc := e.svc

	long := strings.Repeat("0123456789", 5)
	_, err := svc.Send(ctx, "g@x___h@y", inboxservice.Draft{SenderID: host, Text: long})
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	_, err = svc.Send(ctx, "g@x___casa.verde@stays.com", inboxservice.Draft{SenderID: "casa.verde@stays.com", Text: "Check-in is at 4 PM"})
	require.NoError(t, err)
	_, err = svc.OpenOrCreateConversation(ctx, guest, "empty@stays.com")
	require.NoError(t, err)

	list, err := svc.ListConversations(ctx, guest, conversationid.RoleGuest, "")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "g@x___casa.verde@stays.com", list[0].ID)
	require.Equal(t, "g@x___h@y", list[1].ID)
	require.Equal(t, "g@x___empty@stays.com", list[2].ID)
	require.Nil(t, list[2].LastMessage)

	require.Equal(t, long[:32]+"...", list[1].LastMessage.Preview)
	require.Equal(t, "3:00 PM", list[1].LastMessage.TimeLabel)
	require.Equal(t, "Casa Verde", list[0].Counterpart.Name)
	require.True(t, list[0].Counterpart.Placeholder)

	byName, err := svc.ListConversations(ctx, guest, conversationid.RoleGuest, "harbor")
	require.NoError(t, err)
	require.Len(t, byName, 1)
	require.Equal(t, "g@x___h@y", byName[0].ID)

	byText, err := svc.ListConversations(ctx, guest, conversationid.RoleGuest, "CHECK-IN")
	require.NoError(t, err)
	require.Len(t, byText, 1)
	require.Equal(t, "g@x___casa.verde@stays.com", byText[0].ID)

	none, err := svc.ListConversations(ctx, guest, conversationid.RoleGuest, "nothing like this")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUnit_ThreadStatuses(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	id := "g@x___h@y"

	_, err := e.svc.Send(ctx, id, inboxservice.Draft{SenderID: guest, Text: "Hi"})
	require.NoError(t, err)
	_, err = e.svc.Send(ctx, id, inboxservice.Draft{SenderID: host, Text: "Hello"})
	require.NoError(t, err)

	status := func() messagestatus.Status {
		thread, err := e.svc.Thread(ctx, id, guest)
		require.NoError(t, err)
		require.True(t, thread.Messages[0].Mine)
		require.False(t, thread.Messages[1].Mine)
		require.Empty(t, thread.Messages[1].Status)
		return thread.Messages[0].Status
	}
	require.Equal(t, messagestatus.Sent, status())

	_, err = e.presence.Beat(ctx, host)
	require.NoError(t, err)
	require.Equal(t, messagestatus.Delivered, status())

	require.NoError(t, e.svc.MarkRead(ctx, id, host))
	require.Equal(t, messagestatus.Read, status())

	e.clock.Advance(time.Minute)
	require.Equal(t, messagestatus.Read, status())

	_, err = e.svc.Thread(ctx, id, "z@z")
	require.ErrorIs(t, err, inboxservice.ErrNotParticipant)
}

func TestUnit_ChangeEventsReachBothParties(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	id := "g@x___h@y"
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hostCh := make(chan []byte, 8)
	_, err := e.svc.SubscribeUser(subCtx, host, hostCh)
	require.NoError(t, err)
	convCh := make(chan []byte, 8)
	_, err = e.svc.SubscribeConversation(subCtx, id, guest, convCh)
	require.NoError(t, err)
	_, err = e.svc.SubscribeConversation(subCtx, id, "z@z", make(chan []byte))
	require.ErrorIs(t, err, inboxservice.ErrNotParticipant)

	_, err = e.svc.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)
	msg, err := e.svc.Send(ctx, id, inboxservice.Draft{SenderID: guest, Text: "Hi"})
	require.NoError(t, err)
	require.NoError(t, e.svc.MarkRead(ctx, id, host))

	kinds := func(ch <-chan []byte) []inboxservice.Event {
		var out []inboxservice.Event
		for range 3 {
			select {
			case data := <-ch:
				var ev inboxservice.Event
				require.NoError(t, json.Unmarshal(data, &ev))
				out = append(out, ev)
			case <-time.After(time.Second):
				t.Fatal("missing event")
			}
		}
		return out
	}
	for _, evs := range [][]inboxservice.Event{kinds(hostCh), kinds(convCh)} {
		require.Equal(t, inboxservice.EventConversationOpened, evs[0].Kind)
		require.Equal(t, inboxservice.EventMessageSent, evs[1].Kind)
		require.Equal(t, msg.Seq, evs[1].Seq)
		require.Equal(t, guest, evs[1].Actor)
		require.Equal(t, inboxservice.EventConversationRead, evs[2].Kind)
		require.Equal(t, host, evs[2].Actor)
	}
}

func TestUnit_ImportLegacyThroughService(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})

	doc := `{"g@x___h@y": [{"id": 1, "senderId": "h@y", "senderName": "Host", "text": "Welcome!", "timestamp": "2024-03-01T10:00:00Z"}]}`
	report, err := e.svc.ImportLegacy(ctx, []byte(doc))
	require.NoError(t, err)
	require.Equal(t, 1, report.Imported)

	requireUnread(t, ctx, e.svc, guest, conversationid.RoleGuest, 1)

	list, err := e.svc.ListConversations(ctx, guest, conversationid.RoleGuest, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Mar 1", list[0].LastMessage.TimeLabel)
}

func TestUnit_ImportedHistoryDoesNotReplaceNewestMessage(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	id := "g@x___h@y"

	_, err := e.svc.Send(ctx, id, inboxservice.Draft{SenderID: guest, Text: "fresh message today"})
	require.NoError(t, err)

	doc := `{"g@x___h@y": [{"id": 7, "senderId": "h@y", "text": "ancient", "timestamp": "2023-01-01T09:00:00Z"}]}`
	report, err := e.svc.ImportLegacy(ctx, []byte(doc))
	require.NoError(t, err)
	require.Equal(t, 1, report.Imported)

	list, err := e.svc.ListConversations(ctx, guest, conversationid.RoleGuest, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "fresh message today", list[0].LastMessage.Preview)
	require.True(t, list[0].LastMessage.Timestamp.Equal(e.clock.Now()))
	require.Equal(t, "3:00 PM", list[0].LastMessage.TimeLabel)

	// The imported message predates the read cursor, so it is not unread.
	require.NoError(t, e.svc.MarkRead(ctx, id, guest))
	requireUnread(t, ctx, e.svc, guest, conversationid.RoleGuest, 0)
}

func TestUnit_MarkReadRequiresExistingConversation(t *testing.T) {
	ctx, e := setup(t, inboxservice.Config{})
	id := "g@x___h@y"

	require.ErrorIs(t, e.svc.MarkRead(ctx, id, host), messagestore.ErrNotFound)
	list, err := e.svc.ListConversations(ctx, guest, conversationid.RoleGuest, "")
	require.NoError(t, err)
	require.Empty(t, list)

	_, err = e.svc.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)
	require.NoError(t, e.svc.MarkRead(ctx, id, host))
}
