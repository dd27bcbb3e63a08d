package inboxsdk

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medstay/inbox/apiframework"
	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/inboxservice"
	"github.com/medstay/inbox/internal/inboxapi"
	libbus "github.com/medstay/inbox/libbus"
	"github.com/medstay/inbox/messagestore"
)

// DefaultSendAttempts bounds how often Send tries a message that timed out.
const DefaultSendAttempts = 3

// HTTPInboxService calls the inbox routes as the configured caller.
type HTTPInboxService struct {
	transport
	sendAttempts int
	retryWait    time.Duration
}

func NewHTTPInboxService(config Config, client *http.Client) *HTTPInboxService {
	return &HTTPInboxService{
		transport:    newTransport(config, client),
		sendAttempts: DefaultSendAttempts,
		retryWait:    time.Second,
	}
}

// SetSendRetry changes how often Send retries a timed-out message and how long
// it waits when the server gives no Retry-After.
func (s *HTTPInboxService) SetSendRetry(attempts int, wait time.Duration) {
	s.sendAttempts = max(attempts, 1)
	s.retryWait = wait
}

func (s *HTTPInboxService) OpenOrCreateConversation(ctx context.Context, guest, host string) (string, error) {
	var resp inboxapi.OpenResponse
	body := inboxapi.OpenRequest{GuestIdentity: guest, HostIdentity: host}
	if err := s.do(ctx, http.MethodPost, "/conversations", nil, body, http.StatusOK, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Send delivers draft as the caller. A draft without an ID gets a fresh one,
// which is reused for every retry so a timed-out attempt that was stored is
// returned instead of duplicated.
func (s *HTTPInboxService) Send(ctx context.Context, conversationID string, draft inboxservice.Draft) (*messagestore.Message, error) {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	body := inboxapi.SendRequest{
		ID:           draft.ID,
		Text:         draft.Text,
		SenderName:   draft.SenderName,
		SenderAvatar: draft.SenderAvatar,
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"

	var err error
	for attempt := 1; ; attempt++ {
		var msg messagestore.Message
		err = s.do(ctx, http.MethodPost, path, nil, body, http.StatusCreated, &msg)
		if err == nil {
			return &msg, nil
		}
		if !errors.Is(err, inboxservice.ErrSendTimeout) || attempt >= s.sendAttempts {
			return nil, err
		}
		wait, ok := apiframework.RetryAfter(err)
		if !ok {
			wait = s.retryWait
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *HTTPInboxService) MarkRead(ctx context.Context, conversationID string) error {
	return s.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil, http.StatusNoContent, nil)
}

func (s *HTTPInboxService) TotalUnread(ctx context.Context, role conversationid.Role) (int, error) {
	var resp inboxapi.UnreadResponse
	query := url.Values{"role": {string(role)}}
	if err := s.do(ctx, http.MethodGet, "/unread", query, nil, http.StatusOK, &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

func (s *HTTPInboxService) ListConversations(ctx context.Context, role conversationid.Role, query string) ([]inboxservice.ConversationSummary, error) {
	params := url.Values{"role": {string(role)}}
	if query != "" {
		params.Set("q", query)
	}
	var list []inboxservice.ConversationSummary
	if err := s.do(ctx, http.MethodGet, "/conversations", params, nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *HTTPInboxService) Thread(ctx context.Context, conversationID string) (*inboxservice.Thread, error) {
	var thread inboxservice.Thread
	if err := s.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID)+"/messages", nil, nil, http.StatusOK, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// Subscribe streams change events into ch. An empty conversationID follows
// every conversation of the caller. Each value sent is one encoded inboxservice.Event.
func (s *HTTPInboxService) Subscribe(ctx context.Context, conversationID string, ch chan<- []byte) (libbus.Subscription, error) {
	var query url.Values
	if conversationID != "" {
		query = url.Values{"conversation": {conversationID}}
	}
	ctx, cancel := context.WithCancel(ctx)
	req, err := s.newRequest(ctx, http.MethodGet, "/events", query, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, apiframework.HandleAPIError(resp)
	}

	sub := &eventSubscription{
		resp:    resp,
		eventCh: ch,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go sub.readStream()
	return sub, nil
}

type eventSubscription struct {
	resp    *http.Response
	eventCh chan<- []byte
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// readStream forwards every "data: " line of the stream until it ends or the
// subscription is cancelled. Comment lines such as keep-alives are skipped.
func (s *eventSubscription) readStream() {
	defer close(s.done)
	defer s.resp.Body.Close()

	scanner := bufio.NewScanner(s.resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		select {
		case s.eventCh <- []byte(data):
		case <-s.resp.Request.Context().Done():
			return
		}
	}
}

func (s *eventSubscription) Unsubscribe() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
