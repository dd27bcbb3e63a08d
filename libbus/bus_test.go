package libbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/medstay/inbox/libbus"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestSystem_NATSContainerAcceptsClients(t *testing.T) {
	ctx := context.Background()
	url, container, cleanup, err := libbus.SetupNatsInstance(ctx)
	defer cleanup()
	require.NoError(t, err)
	require.True(t, container.IsRunning())

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, nc.Publish("inbox.ping", []byte("hello")))
}

func TestSystem_StreamReceivesPublishedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus, cleanup, err := libbus.NewTestPubSub()
	defer cleanup()
	require.NoError(t, err)

	const subject = "inbox.conversation.616e61"
	conversation := make(chan []byte, 1)
	other := make(chan []byte, 1)
	sub, err := bus.Stream(ctx, subject, conversation)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	_, err = bus.Stream(ctx, "inbox.conversation.ffff", other)
	require.NoError(t, err)

	event := []byte(`{"kind":"message.sent","seq":1}`)
	require.NoError(t, bus.Publish(ctx, subject, event))

	select {
	case got := <-conversation:
		require.Equal(t, event, got)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the event")
	}
	select {
	case <-other:
		t.Fatal("event leaked to another subject")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSystem_UnsubscribeStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus, cleanup, err := libbus.NewTestPubSub()
	defer cleanup()
	require.NoError(t, err)

	ch := make(chan []byte, 1)
	sub, err := bus.Stream(ctx, "inbox.user.x", ch)
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, bus.Publish(ctx, "inbox.user.x", []byte("late")))
	select {
	case <-ch:
		t.Fatal("received message after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSystem_ClosedBusRejectsCalls(t *testing.T) {
	bus, cleanup, err := libbus.NewTestPubSub()
	defer cleanup()
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.Eventually(t, func() bool {
		return bus.Publish(context.Background(), "inbox.closed", []byte("data")) != nil
	}, 2*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, bus.Publish(context.Background(), "inbox.closed", []byte("data")), libbus.ErrConnectionClosed)

	_, err = bus.Stream(context.Background(), "inbox.closed", make(chan []byte, 1))
	require.ErrorIs(t, err, libbus.ErrConnectionClosed)
}
