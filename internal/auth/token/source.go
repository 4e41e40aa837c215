package token

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenSource adapts the active session to oauth2.TokenSource. A token whose
// JWT expiry has passed is refreshed before it is returned.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &activeTokenSource{ctx: ctx, m: m}
}

type activeTokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *activeTokenSource) Token() (*oauth2.Token, error) {
	s.m.mu.Lock()
	src := s.m.source
	s.m.mu.Unlock()
	if src == nil {
		return nil, fmt.Errorf("no active session")
	}

	creds, ok := src.ActiveCredentials()
	if !ok {
		return nil, fmt.Errorf("no active session")
	}

	tok := newOAuthToken(creds.Token)
	if creds.Token != "" && tok.Valid() {
		return tok, nil
	}

	refreshed, err := s.m.RefreshIfNeeded(s.ctx)
	if err != nil {
		return nil, err
	}
	if refreshed == "" {
		if creds.Token == "" {
			return nil, fmt.Errorf("no token for %s", creds.Address)
		}
		// Expired and not refreshable: let the backend decide.
		return tok, nil
	}
	return newOAuthToken(refreshed), nil
}

func newOAuthToken(raw string) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	if exp, ok := Expiry(raw); ok {
		tok.Expiry = exp
	}
	return tok
}
