package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// codeSentinels resolves a wire error code back to the errors the server
// maps to it. Codes shared by several errors unwrap to all of them.
var codeSentinels = func() map[string]error {
	grouped := make(map[string][]error)
	for _, rule := range errorRules {
		grouped[rule.errorCode] = append(grouped[rule.errorCode], rule.errs...)
	}
	m := make(map[string]error, len(grouped)+1)
	for code, errs := range grouped {
		if len(errs) == 1 {
			m[code] = errs[0]
			continue
		}
		m[code] = errors.Join(errs...)
	}
	m[tooLargeRule.errorCode] = ErrBadRequest
	return m
}()

func statusSentinel(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusServiceUnavailable:
		return ErrServiceUnavailable
	default:
		return ErrInternalServerError
	}
}

// HandleAPIError turns a non-2xx inbox response into an *APIError.
// The result unwraps to the sentinel named by the body's code, so
// errors.Is(err, inboxservice.ErrSendTimeout) holds on the client side.
func HandleAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxRequestBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: status %s: reading body: %v", statusSentinel(resp.StatusCode), resp.Status, err)
	}

	var decoded errorBody
	if jsonErr := json.Unmarshal(body, &decoded); jsonErr != nil || decoded.Error.Message == "" {
		snippet := string(body)
		if len(snippet) > 100 {
			snippet = snippet[:100] + "..."
		}
		return fmt.Errorf("%w: status %d: %s", statusSentinel(resp.StatusCode), resp.StatusCode, snippet)
	}

	sentinel, ok := codeSentinels[decoded.Error.Code]
	if !ok {
		sentinel = statusSentinel(resp.StatusCode)
	}
	apiErr := &APIError{
		err:        sentinel,
		message:    decoded.Error.Message,
		errorType:  decoded.Error.Type,
		errorCode:  decoded.Error.Code,
		retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
	if decoded.Error.Param != nil {
		apiErr.param = *decoded.Error.Param
	}
	return apiErr
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0)
	}
	return 0
}

// RetryAfter reports how long the server asked the caller to wait, if at all.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.retryAfter > 0 {
		return apiErr.retryAfter, true
	}
	return 0, false
}
