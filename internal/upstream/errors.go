package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind is the classification assigned to a failed call.
type Kind string

const (
	KindTransientNetwork   Kind = "transient_network"
	KindAuthExpired        Kind = "auth_expired"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindTokenInvalid       Kind = "token_invalid"
	KindInvalidRequest     Kind = "invalid_request"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindMethodNotAllowed   Kind = "method_not_allowed"
	KindRateLimited        Kind = "rate_limited"
	KindUnavailable        Kind = "unavailable"
	KindCredentialsMissing Kind = "credentials_missing"
)

const (
	msgBadRequest        = "Invalid request parameters or missing required fields"
	msgUnauthorized      = "Authentication failed, please check your login status"
	msgNotFound          = "The requested resource does not exist"
	msgMethodNotAllowed  = "Method not allowed"
	msgUnavailable       = "Service temporarily unavailable"
	msgRateLimited       = "Too many requests, please try again later"
	msgAddressInUse      = "This email address is already in use, please try another username"
	msgInvalidData       = "Invalid request data format"
	msgInvalidDataDetail = "Invalid request data, please check the username length or domain format"
	msgNetwork           = "Network request failed, please check your connection"
)

// Violation is one entry of a 422 validation payload.
type Violation struct {
	PropertyPath string `json:"propertyPath"`
	Message      string `json:"message"`
}

// Error is the single failure type returned by the request layer. Status is 0
// for failures that never produced a response.
type Error struct {
	Kind       Kind
	Status     int
	Message    string
	Retryable  bool
	Violation  *Violation
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}

// CredentialsMissing builds the local precondition failure raised before any network call.
func CredentialsMissing(format string, args ...any) *Error {
	return &Error{Kind: KindCredentialsMissing, Message: fmt.Sprintf(format, args...)}
}

func authExpired(cause error) *Error {
	return &Error{Kind: KindAuthExpired, Status: http.StatusUnauthorized, Message: msgUnauthorized, Err: cause}
}

func networkError(err error) *Error {
	return &Error{Kind: KindTransientNetwork, Message: msgNetwork, Retryable: true, Err: err}
}

type errorBody struct {
	Message     string      `json:"message"`
	Details     string      `json:"details"`
	Detail      string      `json:"detail"`
	Error       string      `json:"error"`
	Description string      `json:"hydra:description"`
	Violations  []Violation `json:"violations"`
}

// classify maps a non-2xx response onto an *Error. The retryable flag is fixed
// here and never re-derived later.
func classify(status int, header http.Header, body []byte) *Error {
	var payload errorBody
	_ = json.Unmarshal(body, &payload)
	if payload.Detail == "" {
		payload.Detail = payload.Description
	}

	e := &Error{Status: status}
	switch {
	case status == http.StatusBadRequest:
		e.Kind, e.Message = KindInvalidRequest, msgBadRequest
	case status == http.StatusUnauthorized:
		e.Kind, e.Message = KindAuthExpired, msgUnauthorized
	case status == http.StatusForbidden:
		e.Kind, e.Message = KindForbidden, fallbackMessage(payload, status)
	case status == http.StatusNotFound:
		e.Kind, e.Message = KindNotFound, msgNotFound
	case status == http.StatusMethodNotAllowed:
		e.Kind, e.Message = KindMethodNotAllowed, msgMethodNotAllowed
	case status == http.StatusTeapot:
		e.Kind, e.Message, e.Retryable = KindUnavailable, msgUnavailable, true
	case status == http.StatusUnprocessableEntity:
		e.Kind = KindInvalidRequest
		e.Message, e.Violation = unprocessableMessage(payload)
	case status == http.StatusTooManyRequests:
		e.Kind, e.Message = KindRateLimited, msgRateLimited
		e.RetryAfter = ParseRetryAfter(header)
	case status >= 500:
		e.Kind, e.Message, e.Retryable = KindTransientNetwork, fallbackMessage(payload, status), true
	default:
		// Statuses outside the table are retried like server errors.
		e.Kind, e.Message, e.Retryable = KindUnavailable, fallbackMessage(payload, status), true
	}
	return e
}

func unprocessableMessage(p errorBody) (string, *Violation) {
	if len(p.Violations) > 0 {
		v := p.Violations[0]
		if v.PropertyPath == "address" && strings.Contains(v.Message, "already used") {
			return msgAddressInUse, &v
		}
		if v.Message != "" {
			return v.Message, &v
		}
		return msgInvalidData, &v
	}

	text := p.Detail
	if text == "" {
		text = p.Message
	}
	if strings.Contains(text, "already exists") ||
		strings.Contains(text, "already used") ||
		strings.Contains(text, "Email address already exists") {
		return msgAddressInUse, nil
	}
	if text != "" {
		return text, nil
	}
	return msgInvalidDataDetail, nil
}

func fallbackMessage(p errorBody, status int) string {
	for _, s := range []string{p.Message, p.Details, p.Error} {
		if s != "" {
			return s
		}
	}
	return fmt.Sprintf("Request failed (%d)", status)
}
