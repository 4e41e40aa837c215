// Package mailapi exposes the mail backend's REST endpoints as typed calls on
// top of the resilient request layer.
package mailapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"github.com/sirupsen/logrus"
)

// ErrMercureUnsupported is returned for real-time subscription requests.
var ErrMercureUnsupported = errors.New("mercure real-time updates are no longer supported, use polling")

// Caller is the subset of *upstream.Client used here.
type Caller interface {
	Do(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// Auth identifies the bearer credential for account and message calls.
// Refreshable must only be true when Token is the active session's token.
type Auth struct {
	Token       string
	ProviderID  string
	Refreshable bool
}

// API issues calls against the provider resolved for each request.
type API struct {
	caller   Caller
	registry *catalog.Registry
	log      logrus.FieldLogger
}

// New creates the API.
func New(caller Caller, registry *catalog.Registry, log logrus.FieldLogger) *API {
	return &API{caller: caller, registry: registry, log: logging.OrDiscard(log)}
}

func (a *API) bearer(method, path string, auth Auth) upstream.Request {
	req := upstream.Request{
		Method:      method,
		Path:        path,
		Provider:    a.registry.Resolve(auth.ProviderID),
		Auth:        upstream.AuthBearer,
		Token:       auth.Token,
		Refreshable: auth.Refreshable,
	}
	if !auth.Refreshable {
		req.UnauthorizedKind = upstream.KindTokenInvalid
	}
	return req
}

// GetToken exchanges address and password for a bearer token.
func (a *API) GetToken(ctx context.Context, address, password, providerID string) (*TokenResponse, error) {
	resp, err := a.caller.Do(ctx, upstream.Request{
		Method:           http.MethodPost,
		Path:             "/token",
		Body:             map[string]string{"address": address, "password": password},
		Provider:         a.registry.Resolve(providerID),
		Auth:             upstream.AuthNone,
		NoRetry:          true,
		UnauthorizedKind: upstream.KindInvalidCredentials,
	})
	if err != nil {
		return nil, err
	}

	var out TokenResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("token exchange for %s returned no token", address)
	}
	return &out, nil
}

// CreateAccount registers a new mailbox. It uses the API key when one is configured.
func (a *API) CreateAccount(ctx context.Context, address, password, providerID string) (*Account, error) {
	resp, err := a.caller.Do(ctx, upstream.Request{
		Method:   http.MethodPost,
		Path:     "/accounts",
		Body:     map[string]string{"address": address, "password": password},
		Provider: a.registry.Resolve(providerID),
		Auth:     upstream.AuthAPIKey,
		NoRetry:  true,
	})
	if err != nil {
		return nil, err
	}

	var out Account
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMe fetches the profile of the token's account.
func (a *API) GetMe(ctx context.Context, auth Auth) (*Account, error) {
	resp, err := a.caller.Do(ctx, a.bearer(http.MethodGet, "/me", auth))
	if err != nil {
		return nil, err
	}
	var out Account
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMessages fetches one page of the inbox. Pages start at 1.
func (a *API) ListMessages(ctx context.Context, auth Auth, page int) (*MessagePage, error) {
	if page < 1 {
		page = 1
	}
	req := a.bearer(http.MethodGet, "/messages", auth)
	req.Query = url.Values{"page": {strconv.Itoa(page)}}

	resp, err := a.caller.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	messages, total, err := decodeCollection[Message](resp.Body)
	if err != nil {
		return nil, err
	}
	a.log.Debugf("📊 Messages page %d: %d of %d", page, len(messages), total)
	return &MessagePage{
		Messages: messages,
		Total:    total,
		Page:     page,
		HasMore:  HasMore(page, len(messages), total),
	}, nil
}

// GetMessage fetches a full message.
func (a *API) GetMessage(ctx context.Context, auth Auth, id string) (*MessageDetail, error) {
	resp, err := a.caller.Do(ctx, a.bearer(http.MethodGet, "/messages/"+url.PathEscape(id), auth))
	if err != nil {
		return nil, err
	}
	var out MessageDetail
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkSeen marks a message as read. A 2xx reply without a JSON body counts as seen.
func (a *API) MarkSeen(ctx context.Context, auth Auth, id string) (bool, error) {
	req := a.bearer(http.MethodPatch, "/messages/"+url.PathEscape(id), auth)
	req.Body = map[string]bool{"seen": true}
	req.ContentType = upstream.ContentTypeMergePatch

	resp, err := a.caller.Do(ctx, req)
	if err != nil {
		return false, err
	}

	var out struct {
		Seen bool `json:"seen"`
	}
	if err := resp.DecodeJSON(&out); err != nil {
		return true, nil
	}
	return out.Seen, nil
}

// DeleteMessage removes a message.
func (a *API) DeleteMessage(ctx context.Context, auth Auth, id string) error {
	_, err := a.caller.Do(ctx, a.bearer(http.MethodDelete, "/messages/"+url.PathEscape(id), auth))
	return err
}

// DeleteAccount removes the mailbox server-side.
func (a *API) DeleteAccount(ctx context.Context, auth Auth, id string) error {
	_, err := a.caller.Do(ctx, a.bearer(http.MethodDelete, "/accounts/"+url.PathEscape(id), auth))
	return err
}

// MercureToken always fails: real-time push was retired in favor of polling.
func (a *API) MercureToken(context.Context, Auth) (string, error) {
	return "", ErrMercureUnsupported
}

// decodeCollection accepts both hydra collections and plain JSON arrays.
func decodeCollection[T any](body []byte) ([]T, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		resp := upstream.Response{Body: trimmed}
		if err := resp.DecodeJSON(&items); err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	}

	var c hydraCollection[T]
	resp := upstream.Response{Body: trimmed}
	if err := resp.DecodeJSON(&c); err != nil {
		return nil, 0, err
	}
	if c.Member == nil {
		c.Member = []T{}
	}
	return c.Member, c.TotalItems, nil
}
