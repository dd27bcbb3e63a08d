package apidoc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/medstay/inbox/internal/apidoc"
	libbus "github.com/medstay/inbox/libbus"
	libdb "github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/libkvstore"
	"github.com/medstay/inbox/messagestore"
	"github.com/medstay/inbox/serverapi"
	"github.com/medstay/inbox/userdirectory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	guest = "ana@example.com"
	host  = "harbor@example.com"
)

func TestUnit_DocumentIsValid(t *testing.T) {
	doc, err := apidoc.Build("v1.2.3")
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	require.Equal(t, "v1.2.3", doc.Info.Version)

	send := doc.Paths.Find("/conversations/{id}/messages")
	require.NotNil(t, send)
	require.NotNil(t, send.Post)
	require.NotNil(t, send.Get)
	require.NotNil(t, send.Post.Responses.Status(http.StatusCreated))
	require.Contains(t, doc.Components.Schemas, "Message")
	require.Contains(t, doc.Components.Schemas, "ErrorResponse")
	require.Contains(t, doc.Components.Schemas, "ListOfConversationSummary")
}

func setupServer(t *testing.T) (*httptest.Server, routers.Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := libdb.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "inbox.db"), messagestore.SchemaSQLite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	config := &serverapi.Config{}
	mux := http.NewServeMux()
	directory := userdirectory.NewStatic(
		userdirectory.User{Identity: guest, Name: "Nurse Ana"},
		userdirectory.User{Identity: host, Name: "Harbor Flats"},
	)
	cleanup, err := serverapi.New(ctx, mux, "apidoc-test", config, db, libbus.NewInMem(), libkvstore.NewInMem(), directory, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cleanup() })
	srv := httptest.NewServer(serverapi.Middleware(config, mux))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	doc, err := openapi3.NewLoader().LoadFromData(data)
	require.NoError(t, err)
	router, err := legacy.NewRouter(doc)
	require.NoError(t, err)
	return srv, router
}

// call performs a request and checks the response against the served document.
func call(t *testing.T, srv *httptest.Server, router routers.Router, method, path, identity string, body any) []byte {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Inbox-Identity", identity)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Less(t, resp.StatusCode, 300, string(respBody))

	route, pathParams, err := router.FindRoute(req)
	require.NoError(t, err, path)
	err = openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    io.NopCloser(bytes.NewReader(respBody)),
		Options: &openapi3filter.Options{IncludeResponseStatus: true},
	})
	require.NoError(t, err, "%s %s: %s", method, path, respBody)
	return respBody
}

func TestSystem_ResponsesMatchDocument(t *testing.T) {
	srv, router := setupServer(t)

	var opened struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(call(t, srv, router, http.MethodPost, "/conversations", guest,
		map[string]string{"guestIdentity": guest, "hostIdentity": host}), &opened))

	call(t, srv, router, http.MethodPost, "/conversations/"+opened.ID+"/messages", guest, map[string]string{"text": "Is there parking?"})
	call(t, srv, router, http.MethodGet, "/conversations?role=host", host, nil)
	call(t, srv, router, http.MethodGet, "/conversations/"+opened.ID+"/messages", host, nil)
	call(t, srv, router, http.MethodGet, "/unread?role=host", host, nil)
	call(t, srv, router, http.MethodPost, "/conversations/"+opened.ID+"/read", host, nil)
	call(t, srv, router, http.MethodPost, "/presence/heartbeat", host, nil)
	call(t, srv, router, http.MethodGet, "/presence/online", guest, nil)
	call(t, srv, router, http.MethodGet, "/presence/"+host, guest, nil)
	call(t, srv, router, http.MethodGet, "/version", guest, nil)
}
