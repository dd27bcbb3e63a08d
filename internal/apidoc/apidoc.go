// Package apidoc describes the inbox HTTP API as an OpenAPI 3 document.
package apidoc

import (
	"fmt"
	"net/http"
	"reflect"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
	"github.com/medstay/inbox/apiframework"
	"github.com/medstay/inbox/inboxservice"
	"github.com/medstay/inbox/internal/inboxapi"
	"github.com/medstay/inbox/internal/presenceapi"
	"github.com/medstay/inbox/messagestore"
)

type param struct {
	name        string
	in          string
	description string
}

type route struct {
	method      string
	path        string
	summary     string
	params      []param
	request     any
	status      int
	response    any
	contentType string
}

var (
	conversationParam = param{"id", openapi3.ParameterInPath, "The conversation id, guest and host joined by ___."}
	roleParam         = param{"role", openapi3.ParameterInQuery, "The role the caller acts in: guest or host."}
)

var routes = []route{
	{method: http.MethodPost, path: "/conversations", summary: "Open the conversation between a guest and a host, creating it if needed.",
		request: inboxapi.OpenRequest{}, status: http.StatusOK, response: inboxapi.OpenResponse{}},
	{method: http.MethodGet, path: "/conversations", summary: "List the caller's conversations in one role, most recent activity first.",
		params: []param{roleParam, {"q", openapi3.ParameterInQuery, "Case-insensitive filter on counterpart name or last message."}},
		status: http.StatusOK, response: []inboxservice.ConversationSummary{}},
	{method: http.MethodGet, path: "/conversations/{id}/messages", summary: "Read a conversation as the caller sees it.",
		params: []param{conversationParam}, status: http.StatusOK, response: inboxservice.Thread{}},
	{method: http.MethodPost, path: "/conversations/{id}/messages", summary: "Send a message as the caller. A repeated id returns the stored message.",
		params: []param{conversationParam}, request: inboxapi.SendRequest{}, status: http.StatusCreated, response: messagestore.Message{}},
	{method: http.MethodPost, path: "/conversations/{id}/read", summary: "Mark a conversation read for the caller.",
		params: []param{conversationParam}, status: http.StatusNoContent},
	{method: http.MethodGet, path: "/unread", summary: "The caller's unread total across every conversation of one role.",
		params: []param{roleParam}, status: http.StatusOK, response: inboxapi.UnreadResponse{}},
	{method: http.MethodGet, path: "/events", summary: "Stream change events as Server-Sent Events.",
		params: []param{{"conversation", openapi3.ParameterInQuery, "Restrict the stream to one conversation."}},
		status: http.StatusOK, response: inboxservice.Event{}, contentType: "text/event-stream"},
	{method: http.MethodPost, path: "/presence/heartbeat", summary: "Record that the caller is active.",
		status: http.StatusOK, response: presenceapi.PresenceResponse{}},
	{method: http.MethodDelete, path: "/presence", summary: "Remove the caller's heartbeat.",
		status: http.StatusNoContent},
	{method: http.MethodGet, path: "/presence/online", summary: "List every online identity.",
		status: http.StatusOK, response: []presenceapi.OnlineEntry{}},
	{method: http.MethodGet, path: "/presence/{identity}", summary: "Report whether an identity is online.",
		params: []param{{"identity", openapi3.ParameterInPath, "The identity to look up."}},
		status: http.StatusOK, response: presenceapi.PresenceResponse{}},
	{method: http.MethodGet, path: "/version", summary: "Build version of the serving node.",
		status: http.StatusOK, response: apiframework.AboutServer{}},
}

// Build returns the API document for the given server version.
func Build(version string) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Inbox API",
			Description: "Guest and host messaging for the lodging marketplace.",
			Version:     version,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
			SecuritySchemes: openapi3.SecuritySchemes{
				"bearer": &openapi3.SecuritySchemeRef{
					Value: openapi3.NewJWTSecurityScheme(),
				},
				"identity": &openapi3.SecuritySchemeRef{
					Value: openapi3.NewSecurityScheme().
						WithType("apiKey").
						WithIn(openapi3.ParameterInHeader).
						WithName(apiframework.IdentityHeader).
						WithDescription("Trusted caller identity, honored only when the server has no token secret."),
				},
			},
		},
	}
	doc.Security = *openapi3.NewSecurityRequirements().
		With(openapi3.SecurityRequirement{"bearer": []string{}}).
		With(openapi3.SecurityRequirement{"identity": []string{}})

	errorRef, err := componentRef(doc, "ErrorResponse", errorResponse{})
	if err != nil {
		return nil, err
	}

	for _, rt := range routes {
		op := openapi3.NewOperation()
		op.Summary = rt.summary
		op.Responses = openapi3.NewResponses()
		for _, p := range rt.params {
			parameter := &openapi3.Parameter{
				Name:        p.name,
				In:          p.in,
				Description: p.description,
				Required:    p.in == openapi3.ParameterInPath,
				Schema:      openapi3.NewStringSchema().NewRef(),
			}
			op.AddParameter(parameter)
		}
		if rt.request != nil {
			ref, err := componentRef(doc, typeName(rt.request), rt.request)
			if err != nil {
				return nil, err
			}
			op.RequestBody = &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(ref),
			}
		}

		response := openapi3.NewResponse().WithDescription(http.StatusText(rt.status))
		if rt.response != nil {
			ref, err := componentRef(doc, typeName(rt.response), rt.response)
			if err != nil {
				return nil, err
			}
			contentType := rt.contentType
			if contentType == "" {
				contentType = "application/json"
			}
			response.Content = openapi3.NewContentWithSchemaRef(ref, []string{contentType})
		}
		op.AddResponse(rt.status, response)
		op.Responses.Set("default", &openapi3.ResponseRef{
			Value: openapi3.NewResponse().
				WithDescription("Error").
				WithContent(openapi3.NewContentWithJSONSchemaRef(errorRef)),
		})

		doc.AddOperation(rt.path, rt.method, op)
	}
	return doc, nil
}

// errorResponse mirrors the body apiframework.Error writes.
type errorResponse struct {
	Error struct {
		Message string  `json:"message"`
		Type    string  `json:"type"`
		Param   *string `json:"param"`
		Code    string  `json:"code"`
	} `json:"error"`
}

// componentRef registers the schema of v under name and returns a resolved reference to it.
func componentRef(doc *openapi3.T, name string, v any) (*openapi3.SchemaRef, error) {
	if existing, ok := doc.Components.Schemas[name]; ok {
		return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name, Value: existing.Value}, nil
	}
	ref, err := openapi3gen.NewSchemaRefForValue(v, nil)
	if err != nil {
		return nil, fmt.Errorf("apidoc: schema for %s: %w", name, err)
	}
	doc.Components.Schemas[name] = openapi3.NewSchemaRef("", ref.Value)
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name, Value: ref.Value}, nil
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	prefix := ""
	if t.Kind() == reflect.Slice {
		prefix = "ListOf"
		t = t.Elem()
	}
	return prefix + t.Name()
}
