package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/mailapi/mailapitest"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
)

type staticSource struct {
	mu    sync.Mutex
	creds Credentials
	ok    bool
}

func (s *staticSource) ActiveCredentials() (Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.ok
}

func newTestManager(t *testing.T) (*Manager, *mailapitest.Harness, *staticSource) {
	t.Helper()
	h := mailapitest.NewHarness(t)
	h.Backend.AddAccount("alice@duck.test", "pw")

	m := NewManager(h.API, nil)
	src := &staticSource{
		creds: Credentials{Address: "alice@duck.test", Password: "pw", ProviderID: catalog.ProviderDuckMail},
		ok:    true,
	}
	m.SetSource(src)
	return m, h, src
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (m *Manager) joinedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined
}

func TestRefreshIfNeeded_ConcurrentCallersShareOneExchange(t *testing.T) {
	m, h, _ := newTestManager(t)
	release := h.Backend.BlockTokenExchange()

	var events []RefreshEvent
	var evMu sync.Mutex
	m.Subscribe(func(ev RefreshEvent) {
		evMu.Lock()
		events = append(events, ev)
		evMu.Unlock()
	})

	const callers = 8
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = m.RefreshIfNeeded(context.Background())
		}()
	}

	waitFor(t, "token exchange to start", func() bool { return h.Backend.TokenCalls.Load() == 1 })
	waitFor(t, "callers to join", func() bool { return m.joinedCount() == callers-1 })
	release()
	wg.Wait()

	if got := h.Backend.TokenCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one token exchange, got %d", got)
	}
	for i := range tokens {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] == "" || tokens[i] != tokens[0] {
			t.Fatalf("callers observed different tokens: %q vs %q", tokens[i], tokens[0])
		}
	}
	if len(events) != 1 || events[0].Token != tokens[0] || events[0].Address != "alice@duck.test" {
		t.Fatalf("expected one refresh event, got %+v", events)
	}
}

func TestRefreshIfNeeded_SharedFailureThenFreshAttempt(t *testing.T) {
	m, h, src := newTestManager(t)
	src.mu.Lock()
	src.creds.Password = "wrong"
	src.mu.Unlock()

	release := h.Backend.BlockTokenExchange()
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.RefreshIfNeeded(context.Background())
		}()
	}
	waitFor(t, "callers to join", func() bool { return m.joinedCount() == len(errs)-1 })
	release()
	wg.Wait()

	for i, err := range errs {
		if !upstream.IsKind(err, upstream.KindInvalidCredentials) {
			t.Fatalf("caller %d: expected invalid credentials, got %v", i, err)
		}
	}
	if h.Backend.TokenCalls.Load() != 1 {
		t.Fatalf("expected one exchange, got %d", h.Backend.TokenCalls.Load())
	}

	src.mu.Lock()
	src.creds.Password = "pw"
	src.mu.Unlock()
	tok, err := m.RefreshIfNeeded(context.Background())
	if err != nil || tok == "" {
		t.Fatalf("expected guard cleared after failure, got tok=%q err=%v", tok, err)
	}
	if h.Backend.TokenCalls.Load() != 2 {
		t.Fatalf("expected a fresh exchange, got %d", h.Backend.TokenCalls.Load())
	}
}

func TestRefreshIfNeeded_FailsClosedWithoutPassword(t *testing.T) {
	m, h, src := newTestManager(t)
	src.mu.Lock()
	src.creds.Password = ""
	src.mu.Unlock()

	tok, err := m.RefreshIfNeeded(context.Background())
	if tok != "" || err != nil {
		t.Fatalf("expected empty result, got tok=%q err=%v", tok, err)
	}

	src.mu.Lock()
	src.ok = false
	src.mu.Unlock()
	if tok, err := m.RefreshIfNeeded(context.Background()); tok != "" || err != nil {
		t.Fatalf("expected empty result without session, got tok=%q err=%v", tok, err)
	}
	if h.Backend.TokenCalls.Load() != 0 {
		t.Fatalf("expected no network call, got %d", h.Backend.TokenCalls.Load())
	}
}

func TestRefreshIfNeeded_CallerCancelDoesNotAbortExchange(t *testing.T) {
	m, h, _ := newTestManager(t)
	release := h.Backend.BlockTokenExchange()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.RefreshIfNeeded(ctx)
		done <- err
	}()
	waitFor(t, "token exchange to start", func() bool { return h.Backend.TokenCalls.Load() == 1 })
	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected canceled caller to return an error")
	}

	joined := make(chan string, 1)
	go func() {
		tok, _ := m.RefreshIfNeeded(context.Background())
		joined <- tok
	}()
	waitFor(t, "second caller to join", func() bool { return m.joinedCount() == 1 })
	release()
	if tok := <-joined; tok == "" {
		t.Fatal("expected the pending exchange to complete for the joined caller")
	}
	if h.Backend.TokenCalls.Load() != 1 {
		t.Fatalf("expected one exchange, got %d", h.Backend.TokenCalls.Load())
	}
}

func TestClientRefreshesThroughManager(t *testing.T) {
	m, h, src := newTestManager(t)
	h.Client.SetRefresher(m)

	stale := h.Backend.IssueToken("alice@duck.test")
	h.Backend.RevokeTokens("alice@duck.test")
	src.mu.Lock()
	src.creds.Token = stale
	src.mu.Unlock()

	me, err := h.API.GetMe(context.Background(), mailapi.Auth{Token: stale, ProviderID: catalog.ProviderDuckMail, Refreshable: true})
	if err != nil {
		t.Fatalf("expected refreshed call to succeed, got %v", err)
	}
	if me.Address != "alice@duck.test" || h.Backend.TokenCalls.Load() != 1 {
		t.Fatalf("unexpected result: %+v token calls=%d", me, h.Backend.TokenCalls.Load())
	}
}

func TestAcquireAndValidate(t *testing.T) {
	m, h, _ := newTestManager(t)
	ctx := context.Background()

	tok, err := m.AcquireToken(ctx, "alice@duck.test", "pw", catalog.ProviderDuckMail)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	profile, err := m.ValidateToken(ctx, tok, catalog.ProviderDuckMail)
	if err != nil || profile.Address != "alice@duck.test" {
		t.Fatalf("validate: %+v %v", profile, err)
	}

	h.Backend.RevokeTokens("alice@duck.test")
	if _, err := m.ValidateToken(ctx, tok, catalog.ProviderDuckMail); !upstream.IsKind(err, upstream.KindTokenInvalid) {
		t.Fatalf("expected token invalid, got %v", err)
	}
	if _, err := m.AcquireToken(ctx, "alice@duck.test", "nope", catalog.ProviderDuckMail); !upstream.IsKind(err, upstream.KindInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, ok := Expiry(raw)
	if !ok || !got.Equal(exp) {
		t.Fatalf("expected %v, got %v ok=%v", exp, got, ok)
	}
	if _, ok := Expiry("opaque-token"); ok {
		t.Fatal("expected opaque token to have no expiry")
	}
}

func TestTokenSourceRefreshesExpired(t *testing.T) {
	m, h, src := newTestManager(t)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	src.mu.Lock()
	src.creds.Token = expired
	src.mu.Unlock()

	tok, err := m.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken == expired || !tok.Valid() {
		t.Fatalf("expected a refreshed valid token, got %+v", tok)
	}
	if h.Backend.TokenCalls.Load() != 1 {
		t.Fatalf("expected one exchange, got %d", h.Backend.TokenCalls.Load())
	}
}
