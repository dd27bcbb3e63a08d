package inboxapi

import (
	"fmt"
	"net/http"

	"github.com/medstay/inbox/apiframework"
	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/inboxservice"
)

func AddInboxRoutes(mux *http.ServeMux, service inboxservice.Service, limiter *apiframework.RateLimiter) {
	m := &inboxManager{service: service, limiter: limiter}

	mux.HandleFunc("POST /conversations", m.openConversation)
	mux.HandleFunc("GET /conversations", m.listConversations)
	mux.HandleFunc("GET /conversations/{id}/messages", m.getThread)
	mux.HandleFunc("POST /conversations/{id}/messages", m.sendMessage)
	mux.HandleFunc("POST /conversations/{id}/read", m.markRead)
	mux.HandleFunc("GET /unread", m.totalUnread)
	mux.HandleFunc("GET /events", m.streamEvents)
}

type inboxManager struct {
	service inboxservice.Service
	limiter *apiframework.RateLimiter
}

type OpenRequest struct {
	GuestIdentity string `json:"guestIdentity"`
	HostIdentity  string `json:"hostIdentity"`
}

type OpenResponse struct {
	ID string `json:"id"`
}

type SendRequest struct {
	ID           string `json:"id,omitempty"`
	Text         string `json:"text"`
	SenderName   string `json:"senderName,omitempty"`
	SenderAvatar string `json:"senderAvatar,omitempty"`
}

type UnreadResponse struct {
	Total int `json:"total"`
}

// Opens the conversation between a guest and a host, creating it when it does not exist.
//
// The caller must be one of the two parties.
func (m *inboxManager) openConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	req, err := apiframework.Decode[OpenRequest](r) // @request inboxapi.OpenRequest
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}
	if caller != req.GuestIdentity && caller != req.HostIdentity {
		_ = apiframework.Error(w, r, fmt.Errorf("%w: %s", inboxservice.ErrNotParticipant, caller), apiframework.CreateOperation)
		return
	}
	id, err := m.service.OpenOrCreateConversation(ctx, req.GuestIdentity, req.HostIdentity)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}
	_ = apiframework.Encode(w, r, http.StatusOK, OpenResponse{ID: id}) // @response inboxapi.OpenResponse
}

// Lists the caller's conversations in one role, most recent activity first.
func (m *inboxManager) listConversations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	role, err := conversationid.ParseRole(apiframework.GetQueryParam(r, "role", "guest", "The role the caller acts in: guest or host."))
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ListOperation)
		return
	}
	query := apiframework.GetQueryParam(r, "q", "", "Case-insensitive filter on counterpart name or last message.")

	list, err := m.service.ListConversations(ctx, caller, role, query)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ListOperation)
		return
	}
	_ = apiframework.Encode(w, r, http.StatusOK, list) // @response []inboxservice.ConversationSummary
}

func (m *inboxManager) getThread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	id := apiframework.GetPathParam(r, "id", "The conversation id.")
	thread, err := m.service.Thread(ctx, id, caller)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.GetOperation)
		return
	}
	_ = apiframework.Encode(w, r, http.StatusOK, thread) // @response inboxservice.Thread
}

// Sends a message as the caller.
//
// Clients that retry should send a stable id; a repeated id returns the stored
// message instead of appending a duplicate. A 503 with code send_timeout is retryable.
func (m *inboxManager) sendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	if m.limiter != nil && !m.limiter.Allow(caller) {
		_ = apiframework.Error(w, r, apiframework.RateLimited(), apiframework.CreateOperation)
		return
	}
	id := apiframework.GetPathParam(r, "id", "The conversation id.")
	req, err := apiframework.Decode[SendRequest](r) // @request inboxapi.SendRequest
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}
	msg, err := m.service.Send(ctx, id, inboxservice.Draft{
		ID:           req.ID,
		SenderID:     caller,
		SenderName:   req.SenderName,
		SenderAvatar: req.SenderAvatar,
		Text:         req.Text,
	})
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.CreateOperation)
		return
	}
	_ = apiframework.Encode(w, r, http.StatusCreated, msg) // @response messagestore.Message
}

func (m *inboxManager) markRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	id := apiframework.GetPathParam(r, "id", "The conversation id.")
	if err := m.service.MarkRead(ctx, id, caller); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.UpdateOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Returns the caller's unread total across every conversation of one role.
func (m *inboxManager) totalUnread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	role, err := conversationid.ParseRole(apiframework.GetQueryParam(r, "role", "guest", "The role the caller acts in: guest or host."))
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.GetOperation)
		return
	}
	total, err := m.service.TotalUnread(ctx, caller, role)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.GetOperation)
		return
	}
	_ = apiframework.Encode(w, r, http.StatusOK, UnreadResponse{Total: total}) // @response inboxapi.UnreadResponse
}
