package inboxsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/medstay/inbox/apiframework"
)

// Client bundles the HTTP clients of one caller.
type Client struct {
	Inbox    *HTTPInboxService
	Presence *HTTPPresenceService
}

// Config holds configuration for the SDK client.
//
// Token is sent as a bearer token. Identity is sent in the identity header
// instead, which only servers running without a token secret accept.
type Config struct {
	BaseURL  string
	Token    string
	Identity string
}

func createClient(config Config, httpClient *http.Client) *Client {
	return &Client{
		Inbox:    NewHTTPInboxService(config, httpClient),
		Presence: NewHTTPPresenceService(config, httpClient),
	}
}

// NewClient checks that the server runs the same build as the SDK and returns a client.
func NewClient(ctx context.Context, config Config, httpClient *http.Client) (*Client, error) {
	about, err := fetchServerVersion(ctx, config, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to validate server version: %w", err)
	}

	sdkVersion := apiframework.GetVersion()
	if about.Version == "unknown" || strings.Contains(about.Version, "dev") || strings.Contains(sdkVersion, "dev") {
		return createClient(config, httpClient), nil
	}
	if sdkVersion != about.Version {
		return nil, fmt.Errorf("version mismatch: server=%q, sdk=%q (must be identical)", about.Version, sdkVersion)
	}
	return createClient(config, httpClient), nil
}

func fetchServerVersion(ctx context.Context, config Config, httpClient *http.Client) (apiframework.AboutServer, error) {
	t := newTransport(config, httpClient)
	var about apiframework.AboutServer
	if err := t.do(ctx, http.MethodGet, "/version", nil, nil, http.StatusOK, &about); err != nil {
		return apiframework.AboutServer{}, err
	}
	return about, nil
}

// transport carries the caller credentials shared by every request.
type transport struct {
	client   *http.Client
	baseURL  string
	token    string
	identity string
}

func newTransport(config Config, client *http.Client) transport {
	if client == nil {
		client = http.DefaultClient
	}
	return transport{
		client:   client,
		baseURL:  strings.TrimSuffix(config.BaseURL, "/"),
		token:    config.Token,
		identity: config.Identity,
	}
}

func (t transport) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case t.token != "":
		req.Header.Set("Authorization", "Bearer "+t.token)
	case t.identity != "":
		req.Header.Set(apiframework.IdentityHeader, t.identity)
	}
	return req, nil
}

// do sends one request and decodes the response into out when it is non-nil.
// Any status other than want is turned into an API error.
func (t transport) do(ctx context.Context, method, path string, query url.Values, body any, want int, out any) error {
	req, err := t.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return apiframework.HandleAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}
