// Package mailapitest provides an in-process mail backend for tests.
package mailapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
)

var signingKey = []byte("mailapitest")

type account struct {
	mailapi.Account
	password string
	messages []mailapi.MessageDetail
}

// Backend implements the REST endpoints the client consumes.
type Backend struct {
	Server *httptest.Server

	TokenCalls    atomic.Int32
	MeCalls       atomic.Int32
	MessagesCalls atomic.Int32

	mu       sync.Mutex
	accounts map[string]*account
	tokens   map[string]string
	domains  []map[string]any
	failures map[string][]int
	tokenTTL time.Duration
	gates    map[string]chan struct{}
}

// New starts a backend that is closed with the test.
func New(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		failures: make(map[string][]int),
		gates:    make(map[string]chan struct{}),
		tokenTTL: time.Hour,
	}

	r := chi.NewRouter()
	r.Use(b.injectFailures)
	r.Post("/token", b.handleToken)
	r.Post("/accounts", b.handleCreateAccount)
	r.Delete("/accounts/{id}", b.handleDeleteAccount)
	r.Get("/me", b.handleMe)
	r.Get("/messages", b.handleMessages)
	r.Get("/messages/{id}", b.handleMessage)
	r.Patch("/messages/{id}", b.handlePatchMessage)
	r.Delete("/messages/{id}", b.handleDeleteMessage)
	r.Get("/domains", b.handleDomains)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)
	return b
}

// URL is the backend base URL.
func (b *Backend) URL() string { return b.Server.URL }

// AddAccount registers a mailbox directly.
func (b *Backend) AddAccount(address, password string) mailapi.Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addAccountLocked(address, password).Account
}

func (b *Backend) addAccountLocked(address, password string) *account {
	now := time.Now().UTC().Format(time.RFC3339)
	a := &account{
		Account: mailapi.Account{
			ID:        uuid.NewString(),
			Address:   address,
			Quota:     40000000,
			CreatedAt: now,
			UpdatedAt: now,
		},
		password: password,
	}
	b.accounts[address] = a
	return a
}

// IssueToken returns a valid bearer token for address without a /token call.
func (b *Backend) IssueToken(address string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.issueLocked(b.accounts[address])
}

// RevokeTokens invalidates every token of address.
func (b *Backend) RevokeTokens(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tok, addr := range b.tokens {
		if addr == address {
			delete(b.tokens, tok)
		}
	}
}

// HasAccount reports whether address still exists server-side.
func (b *Backend) HasAccount(address string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.accounts[address]
	return ok
}

// SetMessages replaces the inbox of address. Order is preserved in listings.
func (b *Backend) SetMessages(address string, ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.accounts[address]
	if a == nil {
		return
	}
	a.messages = a.messages[:0]
	for _, id := range ids {
		a.messages = append(a.messages, mailapi.MessageDetail{
			Message: mailapi.Message{
				ID:        id,
				AccountID: a.ID,
				From:      mailapi.Addressee{Address: "sender@example.com", Name: "Sender"},
				Subject:   "Subject " + id,
				Intro:     "Intro " + id,
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			},
			Text: "Body " + id,
			HTML: []string{"<p>Body " + id + "</p>"},
		})
	}
}

// SetDomains replaces the /domains payload.
func (b *Backend) SetDomains(domains ...map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.domains = domains
}

// FailNext makes the next len(statuses) requests to path reply with those statuses.
func (b *Backend) FailNext(path string, statuses ...int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[path] = append(b.failures[path], statuses...)
}

// BlockTokenExchange holds every /token call until release is called.
func (b *Backend) BlockTokenExchange() (release func()) {
	return b.BlockPath("/token")
}

// BlockPath holds requests to path, after they are counted, until release is called.
func (b *Backend) BlockPath(path string) (release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	gate := make(chan struct{})
	b.gates[path] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.gates, path)
			b.mu.Unlock()
			close(gate)
		})
	}
}

func (b *Backend) waitGate(path string) {
	b.mu.Lock()
	gate := b.gates[path]
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (b *Backend) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		queue := b.failures[r.URL.Path]
		status := 0
		if len(queue) > 0 {
			status = queue[0]
			b.failures[r.URL.Path] = queue[1:]
		}
		b.mu.Unlock()

		if status != 0 {
			writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) issueLocked(a *account) string {
	if a == nil {
		return ""
	}
	claims := jwt.MapClaims{
		"id":       a.ID,
		"username": a.Address,
		"jti":      uuid.NewString(),
		"iat":      time.Now().Unix(),
		"exp":      time.Now().Add(b.tokenTTL).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("sign token: %v", err))
	}
	b.tokens[tok] = a.Address
	return tok
}

func (b *Backend) authenticate(r *http.Request) *account {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	defer b.mu.Unlock()
	addr, ok := b.tokens[raw]
	if !ok {
		return nil
	}
	return b.accounts[addr]
}

func (b *Backend) handleToken(w http.ResponseWriter, r *http.Request) {
	b.TokenCalls.Add(1)

	var body struct {
		Address  string `json:"address"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad json"})
		return
	}

	b.waitGate("/token")

	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.accounts[body.Address]
	if a == nil || a.password != body.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials."})
		return
	}
	writeJSON(w, http.StatusOK, mailapi.TokenResponse{Token: b.issueLocked(a), ID: a.ID})
}

func (b *Backend) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Address  string `json:"address"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad json"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[body.Address]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"violations": []map[string]string{{"propertyPath": "address", "message": "This value is already used."}},
		})
		return
	}
	a := b.addAccountLocked(body.Address, body.Password)
	writeJSON(w, http.StatusCreated, a.Account)
}

func (b *Backend) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	a := b.authenticate(r)
	if a == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if a.ID != chi.URLParam(r, "id") {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	b.mu.Lock()
	delete(b.accounts, a.Address)
	b.mu.Unlock()
	b.RevokeTokens(a.Address)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.MeCalls.Add(1)
	a := b.authenticate(r)
	if a == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Expired JWT Token"})
		return
	}
	writeJSON(w, http.StatusOK, a.Account)
}

func (b *Backend) handleMessages(w http.ResponseWriter, r *http.Request) {
	b.MessagesCalls.Add(1)
	b.waitGate("/messages")
	a := b.authenticate(r)
	if a == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	b.mu.Lock()
	total := len(a.messages)
	start := (page - 1) * mailapi.PageSize
	end := start + mailapi.PageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	members := make([]mailapi.Message, 0, end-start)
	for _, m := range a.messages[start:end] {
		members = append(members, m.Message)
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"hydra:member": members, "hydra:totalItems": total})
}

func (b *Backend) findMessage(a *account, id string) int {
	for i, m := range a.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (b *Backend) handleMessage(w http.ResponseWriter, r *http.Request) {
	a := b.authenticate(r)
	if a == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.findMessage(a, chi.URLParam(r, "id"))
	if i < 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a.messages[i])
}

func (b *Backend) handlePatchMessage(w http.ResponseWriter, r *http.Request) {
	a := b.authenticate(r)
	if a == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Header.Get("Content-Type") != "application/merge-patch+json" {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.findMessage(a, chi.URLParam(r, "id"))
	if i < 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	a.messages[i].Seen = true
	writeJSON(w, http.StatusOK, map[string]bool{"seen": true})
}

func (b *Backend) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	a := b.authenticate(r)
	if a == nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.findMessage(a, chi.URLParam(r, "id"))
	if i < 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	a.messages = append(a.messages[:i], a.messages[i+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleDomains(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	members := b.domains
	b.mu.Unlock()
	if members == nil {
		members = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hydra:member": members, "hydra:totalItems": len(members)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
