package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"github.com/pysugar/tempmail-nexus/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	refreshTimeout = 30 * time.Second

	// expiringWindow is how close to exp the background loop starts refreshing.
	expiringWindow = 5 * time.Minute
)

// Credentials are the active session's login material.
type Credentials struct {
	Address    string
	Password   string
	ProviderID string
	Token      string
}

// CredentialSource exposes the credentials of the active session.
type CredentialSource interface {
	ActiveCredentials() (Credentials, bool)
}

// Exchanger is the backend surface the manager needs.
type Exchanger interface {
	GetToken(ctx context.Context, address, password, providerID string) (*mailapi.TokenResponse, error)
	GetMe(ctx context.Context, auth mailapi.Auth) (*mailapi.Account, error)
}

// RefreshEvent is published after a successful refresh.
type RefreshEvent struct {
	Address    string
	ProviderID string
	Token      string
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

// Manager acquires, validates and refreshes bearer tokens. At most one
// refresh exchange is in flight at any time; concurrent callers share it.
type Manager struct {
	api Exchanger
	log logrus.FieldLogger

	mu      sync.Mutex
	source  CredentialSource
	pending *refreshCall
	joined  int

	subsMu sync.RWMutex
	subs   map[int]func(RefreshEvent)
	nextID int
}

// NewManager creates a new token manager
func NewManager(api Exchanger, log logrus.FieldLogger) *Manager {
	return &Manager{
		api:  api,
		log:  logging.OrDiscard(log),
		subs: make(map[int]func(RefreshEvent)),
	}
}

// SetSource installs the provider of active credentials.
func (m *Manager) SetSource(src CredentialSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = src
}

// Subscribe registers fn for refresh events. fn runs on the refreshing
// goroutine before waiting callers are released.
func (m *Manager) Subscribe(fn func(RefreshEvent)) (unsubscribe func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		delete(m.subs, id)
	}
}

// AcquireToken exchanges credentials for a token. Rejected credentials fail
// with upstream.KindInvalidCredentials and are never retried.
func (m *Manager) AcquireToken(ctx context.Context, address, password, providerID string) (string, error) {
	resp, err := m.api.GetToken(ctx, address, password, providerID)
	if err != nil {
		m.log.WithError(err).Warnf("❌ Token exchange failed for %s", address)
		return "", err
	}
	m.log.Infof("🎫 Token acquired for %s (%s)", address, util.MaskSecret(resp.Token))
	return resp.Token, nil
}

// ValidateToken fetches the profile behind token. A rejected token fails with
// upstream.KindTokenInvalid. It never triggers a refresh.
func (m *Manager) ValidateToken(ctx context.Context, token, providerID string) (*mailapi.Account, error) {
	return m.api.GetMe(ctx, mailapi.Auth{Token: token, ProviderID: providerID})
}

// RefreshIfNeeded obtains a new token for the active account using its stored
// password. Callers arriving while a refresh is pending get that refresh's
// result. Without a password it returns "" and nil and makes no call.
func (m *Manager) RefreshIfNeeded(ctx context.Context) (string, error) {
	m.mu.Lock()
	if call := m.pending; call != nil {
		m.joined++
		m.mu.Unlock()
		refreshJoinedTotal.Inc()
		return wait(ctx, call)
	}

	var creds Credentials
	ok := false
	if m.source != nil {
		creds, ok = m.source.ActiveCredentials()
	}
	if !ok || creds.Password == "" {
		m.mu.Unlock()
		refreshTotal.WithLabelValues("skipped").Inc()
		m.log.Debug("⚠️ No stored password for the active account, cannot refresh")
		return "", nil
	}

	call := &refreshCall{done: make(chan struct{})}
	m.pending = call
	m.mu.Unlock()

	go m.runRefresh(context.WithoutCancel(ctx), call, creds)
	return wait(ctx, call)
}

func (m *Manager) runRefresh(ctx context.Context, call *refreshCall, creds Credentials) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	m.log.Infof("🔄 Refreshing token for %s", creds.Address)
	token, err := m.AcquireToken(ctx, creds.Address, creds.Password, creds.ProviderID)
	if err != nil {
		call.err = fmt.Errorf("refresh token for %s: %w", creds.Address, err)
		refreshTotal.WithLabelValues(outcomeLabel(err)).Inc()
		if upstream.IsKind(err, upstream.KindInvalidCredentials) {
			m.log.Warnf("🔒 Stored password for %s was rejected. Please log in again.", creds.Address)
		}
	} else {
		call.token = token
		refreshTotal.WithLabelValues("ok").Inc()
		m.publish(RefreshEvent{Address: creds.Address, ProviderID: creds.ProviderID, Token: token})
		m.log.Infof("✅ Refreshed token for %s", creds.Address)
	}

	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	close(call.done)
}

func (m *Manager) publish(ev RefreshEvent) {
	m.subsMu.RLock()
	subs := make([]func(RefreshEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subsMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func wait(ctx context.Context, call *refreshCall) (string, error) {
	select {
	case <-call.done:
		return call.token, call.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// StartRefreshLoop refreshes the active token shortly before its JWT expiry.
// It stops when ctx is done.
func (m *Manager) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshExpiring(ctx)
			}
		}
	}()
	m.log.Infof("🔄 Token refresh loop started (interval: %v)", interval)
}

func (m *Manager) refreshExpiring(ctx context.Context) {
	m.mu.Lock()
	src := m.source
	m.mu.Unlock()
	if src == nil {
		return
	}
	creds, ok := src.ActiveCredentials()
	if !ok || creds.Token == "" {
		return
	}
	exp, ok := Expiry(creds.Token)
	if !ok || time.Until(exp) > expiringWindow {
		return
	}
	m.log.Infof("⚠️ Token for %s expires at %s, refreshing...", creds.Address, exp.Format(time.RFC3339))
	if _, err := m.RefreshIfNeeded(ctx); err != nil {
		m.log.WithError(err).Warn("⏳ Background refresh failed")
	}
}

func outcomeLabel(err error) string {
	switch upstream.KindOf(err) {
	case upstream.KindInvalidCredentials:
		return "rejected"
	case "":
		return "error"
	default:
		return "failed"
	}
}
