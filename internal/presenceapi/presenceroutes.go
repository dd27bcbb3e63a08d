package presenceapi

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/medstay/inbox/apiframework"
	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/presence"
)

func AddPresenceRoutes(mux *http.ServeMux, service presence.Service) {
	p := &presenceManager{service: service}

	mux.HandleFunc("POST /presence/heartbeat", p.heartbeat)
	mux.HandleFunc("DELETE /presence", p.leave)
	mux.HandleFunc("GET /presence/online", p.listOnline)
	mux.HandleFunc("GET /presence/{identity}", p.getPresence)
}

type presenceManager struct {
	service presence.Service
}

type PresenceResponse struct {
	Identity string     `json:"identity"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
	// NextBeatIn tells clients how long to wait before the next heartbeat.
	NextBeatIn string `json:"nextBeatIn,omitempty"`
}

type OnlineEntry struct {
	Identity string    `json:"identity"`
	LastSeen time.Time `json:"lastSeen"`
}

// Records that the caller is active. Clients call it on a fixed interval while open.
func (p *presenceManager) heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	hb, err := p.service.Beat(ctx, caller)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.UpdateOperation)
		return
	}
	_ = apiframework.Encode(w, r, http.StatusOK, PresenceResponse{
		Identity:   hb.Identity,
		Online:     true,
		LastSeen:   &hb.LastSeen,
		NextBeatIn: p.service.Config().Interval.String(),
	}) // @response presenceapi.PresenceResponse
}

// Removes the caller's heartbeat. Best-effort: without it the caller still goes offline once the heartbeat expires.
func (p *presenceManager) leave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, err := apiframework.RequireIdentity(r)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	if err := p.service.Leave(ctx, caller); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.DeleteOperation)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *presenceManager) listOnline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := apiframework.RequireIdentity(r); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	online, err := p.service.OnlineSet(ctx)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.ListOperation)
		return
	}
	resp := make([]OnlineEntry, 0, len(online))
	for identity, lastSeen := range online {
		resp = append(resp, OnlineEntry{Identity: identity, LastSeen: lastSeen})
	}
	slices.SortFunc(resp, func(a, b OnlineEntry) int { return strings.Compare(a.Identity, b.Identity) })
	_ = apiframework.Encode(w, r, http.StatusOK, resp) // @response []presenceapi.OnlineEntry
}

func (p *presenceManager) getPresence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := apiframework.RequireIdentity(r); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.AuthorizeOperation)
		return
	}
	identity := apiframework.GetPathParam(r, "identity", "The identity to look up.")
	if err := conversationid.ValidateIdentity(identity); err != nil {
		_ = apiframework.Error(w, r, err, apiframework.GetOperation)
		return
	}
	lastSeen, found, err := p.service.LastSeen(ctx, identity)
	if err != nil {
		_ = apiframework.Error(w, r, err, apiframework.GetOperation)
		return
	}
	resp := PresenceResponse{Identity: identity}
	if found {
		resp.LastSeen = &lastSeen
		resp.Online, err = p.service.IsOnline(ctx, identity)
		if err != nil {
			_ = apiframework.Error(w, r, err, apiframework.GetOperation)
			return
		}
	}
	_ = apiframework.Encode(w, r, http.StatusOK, resp) // @response presenceapi.PresenceResponse
}
