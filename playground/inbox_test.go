package playground_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/inboxservice"
	"github.com/medstay/inbox/messagestatus"
	"github.com/medstay/inbox/playground"
	"github.com/medstay/inbox/presence"
	"github.com/medstay/inbox/userdirectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	guest = "nurse.ana@hospital.org"
	host  = "+15551234567"
)

func users() []userdirectory.User {
	return []userdirectory.User{
		{Identity: guest, Name: "Nurse Ana", Role: conversationid.RoleGuest},
		{Identity: host, Name: "Harbor Flats", Role: conversationid.RoleHost},
	}
}

func receive(t *testing.T, ch <-chan []byte) inboxservice.Event {
	t.Helper()
	select {
	case data := <-ch:
		var event inboxservice.Event
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return inboxservice.Event{}
	}
}

func TestSystem_InboxOnPostgresNatsValkey(t *testing.T) {
	ctx := context.Background()

	p := playground.New()
	p.WithPostgresTestContainer(ctx).
		WithNats(ctx).
		WithValkeyTestContainer(ctx).
		WithDirectory(users()...).
		WithPresence(presence.DefaultConfig()).
		WithInboxService(inboxservice.Config{Location: time.UTC})
	defer p.CleanUp()
	require.NoError(t, p.GetError())

	inbox, err := p.GetInboxService()
	require.NoError(t, err)
	presenceSvc, err := p.GetPresenceService()
	require.NoError(t, err)

	id, err := inbox.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)

	hostEvents := make(chan []byte, 16)
	sub, err := inbox.SubscribeUser(ctx, host, hostEvents)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = presenceSvc.Beat(ctx, host)
	require.NoError(t, err)

	msg, err := inbox.Send(ctx, id, inboxservice.Draft{SenderID: guest, Text: "Arriving Sunday after my shift"})
	require.NoError(t, err)
	event := receive(t, hostEvents)
	assert.Equal(t, inboxservice.EventMessageSent, event.Kind)
	assert.Equal(t, msg.Seq, event.Seq)

	list, err := inbox.ListConversations(ctx, guest, conversationid.RoleGuest, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Harbor Flats", list[0].Counterpart.Name)
	assert.True(t, list[0].CounterpartOnline)
	assert.Equal(t, 0, list[0].Unread)

	unread, err := inbox.TotalUnread(ctx, host, conversationid.RoleHost)
	require.NoError(t, err)
	require.Equal(t, 1, unread)

	require.NoError(t, inbox.MarkRead(ctx, id, host))
	unread, err = inbox.TotalUnread(ctx, host, conversationid.RoleHost)
	require.NoError(t, err)
	require.Equal(t, 0, unread)

	thread, err := inbox.Thread(ctx, id, guest)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, messagestatus.Read, thread.Messages[0].Status)
}

func TestSystem_ConcurrentSendersOnPostgres(t *testing.T) {
	ctx := context.Background()

	p := playground.New()
	p.WithPostgresTestContainer(ctx).
		WithInMemBus().
		WithInMemKV().
		WithPresence(presence.DefaultConfig()).
		WithInboxService(inboxservice.Config{})
	defer p.CleanUp()
	require.NoError(t, p.GetError())

	inbox, err := p.GetInboxService()
	require.NoError(t, err)
	id, err := inbox.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)

	const perSender = 10
	var wg sync.WaitGroup
	for _, sender := range []string{guest, host} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perSender {
				_, err := inbox.Send(ctx, id, inboxservice.Draft{SenderID: sender, Text: "ping"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	thread, err := inbox.Thread(ctx, id, guest)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2*perSender)
	for i, m := range thread.Messages {
		assert.EqualValues(t, i+1, m.Seq)
	}
	assert.Equal(t, perSender, thread.Unread)
}

func TestUnit_PlaygroundInMemory(t *testing.T) {
	ctx := context.Background()

	p := playground.New()
	p.WithSQLite(ctx, t.TempDir()).
		WithInMemBus().
		WithInMemKV().
		WithDirectory(users()...).
		WithPresence(presence.DefaultConfig()).
		WithInboxService(inboxservice.Config{}).
		StartPresenceSweep(ctx, 10*time.Millisecond)
	defer p.CleanUp()
	require.NoError(t, p.GetError())

	inbox, err := p.GetInboxService()
	require.NoError(t, err)
	presenceSvc, err := p.GetPresenceService()
	require.NoError(t, err)

	_, err = inbox.OpenOrCreateConversation(ctx, "_bad", host)
	require.ErrorIs(t, err, conversationid.ErrInvalidIdentity)

	id, err := inbox.OpenOrCreateConversation(ctx, guest, host)
	require.NoError(t, err)
	require.Equal(t, guest+"___"+host, id)

	// Swapping roles names a different conversation.
	swapped, err := inbox.OpenOrCreateConversation(ctx, host, guest)
	require.NoError(t, err)
	require.NotEqual(t, id, swapped)
	hostAsGuest, err := inbox.ListConversations(ctx, host, conversationid.RoleGuest, "")
	require.NoError(t, err)
	require.Len(t, hostAsGuest, 1)
	require.Equal(t, swapped, hostAsGuest[0].ID)

	_, err = presenceSvc.Beat(ctx, guest)
	require.NoError(t, err)
	online, err := presenceSvc.OnlineSet(ctx)
	require.NoError(t, err)
	require.True(t, online.Contains(guest))
}

func TestUnit_PlaygroundChainsErrors(t *testing.T) {
	p := playground.New()
	p.WithPresence(presence.DefaultConfig()).
		WithInMemKV().
		WithInboxService(inboxservice.Config{})
	require.ErrorContains(t, p.GetError(), "KV store is not initialized")

	_, err := p.GetInboxService()
	require.Error(t, err)

	p = playground.New().WithInMemKV().WithPresence(presence.DefaultConfig()).WithInboxService(inboxservice.Config{})
	defer p.CleanUp()
	require.ErrorContains(t, p.GetError(), "database is not initialized")
}
