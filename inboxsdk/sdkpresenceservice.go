package inboxsdk

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/medstay/inbox/internal/presenceapi"
	"github.com/medstay/inbox/presence"
)

// Status is what the server reports about one identity.
type Status = presenceapi.PresenceResponse

// HTTPPresenceService calls the presence routes as the configured caller.
type HTTPPresenceService struct {
	transport
}

func NewHTTPPresenceService(config Config, client *http.Client) *HTTPPresenceService {
	return &HTTPPresenceService{transport: newTransport(config, client)}
}

// Heartbeat marks the caller active and returns the interval the server
// expects before the next beat.
func (s *HTTPPresenceService) Heartbeat(ctx context.Context) (presence.Heartbeat, time.Duration, error) {
	var resp presenceapi.PresenceResponse
	if err := s.do(ctx, http.MethodPost, "/presence/heartbeat", nil, nil, http.StatusOK, &resp); err != nil {
		return presence.Heartbeat{}, 0, err
	}
	hb := presence.Heartbeat{Identity: resp.Identity}
	if resp.LastSeen != nil {
		hb.LastSeen = *resp.LastSeen
	}
	next, err := time.ParseDuration(resp.NextBeatIn)
	if err != nil {
		next = presence.DefaultConfig().Interval
	}
	return hb, next, nil
}

func (s *HTTPPresenceService) Leave(ctx context.Context) error {
	return s.do(ctx, http.MethodDelete, "/presence", nil, nil, http.StatusNoContent, nil)
}

func (s *HTTPPresenceService) Status(ctx context.Context, identity string) (Status, error) {
	var status Status
	err := s.do(ctx, http.MethodGet, "/presence/"+url.PathEscape(identity), nil, nil, http.StatusOK, &status)
	return status, err
}

// Online lists every online identity, sorted by identity.
func (s *HTTPPresenceService) Online(ctx context.Context) ([]presence.Heartbeat, error) {
	var list []presence.Heartbeat
	if err := s.do(ctx, http.MethodGet, "/presence/online", nil, nil, http.StatusOK, &list); err != nil {
		return nil, err
	}
	return list, nil
}
