package inboxapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/medstay/inbox/apiframework"
	libbus "github.com/medstay/inbox/libbus"
)

const keepAliveInterval = 15 * time.Second

// Streams change events to the caller using Server-Sent Events (SSE).
//
// With ?conversation=<id> the stream carries the events of that conversation,
// otherwise every event touching one of the caller's conversations. Events carry
// no message content; clients re-read the thread or list they display.
//
// Example event stream:
// data: {"kind":"message.sent","conversationId":"g@x___h@y","actor":"g@x","seq":3,"at":"2024-03-08T15:00:00Z"}
func (m *inboxManager) streamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = apiframework.Error(w, r, apiframework.ErrStreamingUnsupported, apiframework.ListOperation)
		return
	}

	eventCh := make(chan []byte, 32)
	var sub libbus.Subscription
	if conversationID := apiframework.GetQueryParam(r, "conversation", "", "Restrict the stream to one conversation."); conversationID != "" {
		sub, err = m.service.SubscribeConversation(ctx, conversationID, caller, eventCh)
	} else {
		sub, err = m.service.SubscribeUser(ctx, caller, eventCh)
	}
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ListOperation)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case data := <-eventCh:
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
