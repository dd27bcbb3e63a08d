package apiframework

import (
	"errors"
	"net/http"

	"github.com/medstay/inbox/conversationid"
	"github.com/medstay/inbox/inboxservice"
	"github.com/medstay/inbox/libauth"
	libdb "github.com/medstay/inbox/libdbexec"
	"github.com/medstay/inbox/libkvstore"
	"github.com/medstay/inbox/libroutine"
	"github.com/medstay/inbox/messagestore"
)

var (
	ErrBadPathValue         = errors.New("api: bad path value")
	ErrEmptyRequestBody     = errors.New("api: empty request body")
	ErrRateLimited          = errors.New("api: rate limit exceeded")
	ErrStreamingUnsupported = errors.New("api: streaming unsupported")

	ErrBadRequest          = errors.New("api: bad request")
	ErrUnauthorized        = errors.New("api: unauthorized")
	ErrForbidden           = errors.New("api: forbidden")
	ErrNotFound            = errors.New("api: not found")
	ErrConflict            = errors.New("api: conflict")
	ErrInternalServerError = errors.New("api: internal server error")
	ErrServiceUnavailable  = errors.New("api: service unavailable")
)

// Operation tells Error which fallback status applies to unclassified errors.
type Operation uint16

const (
	CreateOperation Operation = iota
	GetOperation
	UpdateOperation
	DeleteOperation
	ListOperation
	AuthorizeOperation
	ServerOperation
)

const (
	typeInvalidRequest = "invalid_request_error"
	typeAuthentication = "authentication_error"
	typeAuthorization  = "authorization_error"
	typeRateLimit      = "rate_limit_error"
	typeAPI            = "api_error"
)

// errorRule maps any of errs to a status and wire type/code.
// Rules are matched in order; the first hit wins.
type errorRule struct {
	errs       []error
	status     int
	errorType  string
	errorCode  string
	retryAfter bool
}

var errorRules = []errorRule{
	{errs: []error{libauth.ErrTokenExpired}, status: http.StatusUnauthorized, errorType: typeAuthentication, errorCode: "token_expired"},
	{
		errs:      []error{libauth.ErrNotAuthorized, libauth.ErrTokenMissing, ErrUnauthorized},
		status:    http.StatusUnauthorized,
		errorType: typeAuthentication,
		errorCode: "unauthorized",
	},
	{
		errs: []error{
			libauth.ErrIssuedAtMissing, libauth.ErrIssuedAtInFuture, libauth.ErrIdentityMissing,
			libauth.ErrInvalidTokenClaims, libauth.ErrUnexpectedSigningMethod, libauth.ErrTokenParsingFailed,
		},
		status:    http.StatusBadRequest,
		errorType: typeAuthentication,
		errorCode: "invalid_token",
	},

	{errs: []error{conversationid.ErrInvalidIdentity}, status: http.StatusBadRequest, errorType: typeInvalidRequest, errorCode: "invalid_identity"},
	{errs: []error{conversationid.ErrInvalidConversationID}, status: http.StatusBadRequest, errorType: typeInvalidRequest, errorCode: "invalid_conversation_id"},
	{errs: []error{conversationid.ErrInvalidRole}, status: http.StatusBadRequest, errorType: typeInvalidRequest, errorCode: "invalid_role"},
	{errs: []error{inboxservice.ErrEmptyMessage}, status: http.StatusBadRequest, errorType: typeInvalidRequest, errorCode: "empty_message"},
	{errs: []error{messagestore.ErrInvalidMessage}, status: http.StatusBadRequest, errorType: typeInvalidRequest, errorCode: "invalid_message"},
	{errs: []error{inboxservice.ErrNotParticipant}, status: http.StatusForbidden, errorType: typeAuthorization, errorCode: "not_participant"},
	{errs: []error{messagestore.ErrIDConflict}, status: http.StatusConflict, errorType: typeInvalidRequest, errorCode: "message_id_conflict"},
	{errs: []error{inboxservice.ErrSendTimeout}, status: http.StatusServiceUnavailable, errorType: typeAPI, errorCode: "send_timeout", retryAfter: true},

	{errs: []error{ErrRateLimited}, status: http.StatusTooManyRequests, errorType: typeRateLimit, errorCode: "rate_limit_exceeded", retryAfter: true},
	{
		errs:       []error{ErrServiceUnavailable, libroutine.ErrCircuitOpen, libkvstore.ErrClosed},
		status:     http.StatusServiceUnavailable,
		errorType:  typeAPI,
		errorCode:  "service_unavailable",
		retryAfter: true,
	},
	{errs: []error{ErrBadPathValue}, status: http.StatusBadRequest, errorType: typeInvalidRequest, errorCode: "bad_path_value"},
	{errs: []error{ErrEmptyRequestBody}, status: http.StatusBadRequest, errorType: typeInvalidRequest, errorCode: "empty_request_body"},
	{errs: []error{ErrBadRequest}, status: http.StatusBadRequest, errorType: typeInvalidRequest, errorCode: "bad_request"},
	{errs: []error{ErrForbidden}, status: http.StatusForbidden, errorType: typeAuthorization, errorCode: "forbidden"},
	{
		errs:      []error{messagestore.ErrNotFound, libdb.ErrNotFound, ErrNotFound},
		status:    http.StatusNotFound,
		errorType: typeInvalidRequest,
		errorCode: "not_found",
	},
	{
		errs: []error{
			ErrConflict, libdb.ErrUniqueViolation, libdb.ErrForeignKeyViolation,
			libdb.ErrNotNullViolation, libdb.ErrCheckViolation, libdb.ErrConstraintViolation,
		},
		status:    http.StatusConflict,
		errorType: typeInvalidRequest,
		errorCode: "conflict",
	},
	{
		errs:       []error{libdb.ErrDeadlockDetected, libdb.ErrSerializationFailure, libdb.ErrLockNotAvailable},
		status:     http.StatusServiceUnavailable,
		errorType:  typeAPI,
		errorCode:  "storage_busy",
		retryAfter: true,
	},
	{errs: []error{ErrStreamingUnsupported}, status: http.StatusInternalServerError, errorType: typeAPI, errorCode: "streaming_unsupported"},
	{
		errs:      []error{ErrInternalServerError, libauth.ErrTokenSigningFailed, libauth.ErrSecretMissing},
		status:    http.StatusInternalServerError,
		errorType: typeAPI,
		errorCode: "internal_error",
	},
}

var (
	tooLargeRule  = errorRule{status: http.StatusRequestEntityTooLarge, errorType: typeInvalidRequest, errorCode: "request_too_large"}
	forbiddenRule = errorRule{status: http.StatusForbidden, errorType: typeAuthorization, errorCode: "forbidden"}
	internalRule  = errorRule{status: http.StatusInternalServerError, errorType: typeAPI, errorCode: "internal_error"}
)

func matchRule(err error) (errorRule, bool) {
	for _, rule := range errorRules {
		for _, target := range rule.errs {
			if errors.Is(err, target) {
				return rule, true
			}
		}
	}
	return errorRule{}, false
}

// classify picks the rule for err. Unknown errors fall back by operation:
// authorization failures become 403, everything else 500.
func classify(op Operation, err error) errorRule {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return tooLargeRule
	}
	if rule, ok := matchRule(err); ok {
		return rule
	}
	if op == AuthorizeOperation {
		return forbiddenRule
	}
	return internalRule
}

// NewAPIError wraps err with a caller-facing message and the offending parameter.
// An empty message falls back to err's own text.
func NewAPIError(err error, message, param string) *APIError {
	if message == "" {
		message = err.Error()
	}
	apiErr := &APIError{err: err, message: message, param: param}
	if rule, ok := matchRule(err); ok {
		apiErr.errorType, apiErr.errorCode = rule.errorType, rule.errorCode
	}
	return apiErr
}

func BadPathValue(param string, message ...string) *APIError {
	msg := "Bad path value"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	return NewAPIError(ErrBadPathValue, msg, param)
}

func RateLimited(message ...string) *APIError {
	msg := "Too many requests"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}
	return NewAPIError(ErrRateLimited, msg, "")
}
