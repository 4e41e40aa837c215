package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"github.com/pysugar/tempmail-nexus/internal/version"
)

type credentialsRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

type switchRequest struct {
	Address    string `json:"address"`
	ProviderID string `json:"providerId,omitempty"`
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

// handleSession returns the session state without passwords or tokens.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Session.Snapshot().Redacted())
}

func (s *Server) readCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return req, false
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" || req.Password == "" {
		writeErrorMessage(w, http.StatusBadRequest, string(upstream.KindInvalidRequest), "address and password are required")
		return req, false
	}
	return req, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readCredentials(w, r)
	if !ok {
		return
	}
	acct, err := s.deps.Session.Login(r.Context(), req.Address, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redact(acct))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readCredentials(w, r)
	if !ok {
		return
	}
	acct, err := s.deps.Session.Register(r.Context(), req.Address, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, redact(acct))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.deps.Session.Logout(r.Context())
	writeJSON(w, http.StatusOK, s.deps.Session.Snapshot().Redacted())
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Session.SwitchTo(r.Context(), strings.TrimSpace(req.Address), req.ProviderID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.Snapshot().Redacted())
}

// handleAccounts lists stored accounts, optionally for one provider. The
// provider "current" selects the active account's provider.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	var accounts []mailapi.Account
	switch provider := r.URL.Query().Get("provider"); provider {
	case "":
		accounts = s.deps.Session.Snapshot().Accounts
	case "current":
		accounts = s.deps.Session.CurrentProviderAccounts()
	default:
		accounts = s.deps.Session.AccountsForProvider(provider)
	}
	views := make([]mailapi.Account, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, redact(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": views,
		"count":    len(views),
	})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorMessage(w, http.StatusBadRequest, string(upstream.KindInvalidRequest), "page must be a positive integer")
			return
		}
		page = n
	}
	result, err := s.deps.Inbox.ListMessages(r.Context(), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetMessage returns one message. ?read=true also marks it seen.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		msg *mailapi.MessageDetail
		err error
	)
	if read, _ := strconv.ParseBool(r.URL.Query().Get("read")); read {
		msg, err = s.deps.Inbox.ReadMessage(r.Context(), id)
	} else {
		msg, err = s.deps.Inbox.GetMessage(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMarkSeen(w http.ResponseWriter, r *http.Request) {
	seen, err := s.deps.Inbox.MarkSeen(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"seen": seen})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Inbox.DeleteMessage(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMercureToken always fails; clients watch /api/events instead.
func (s *Server) handleMercureToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.deps.Inbox.MercureToken(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.deps.Mail.FetchAllDomains(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("⚠️ Failed to cache domains")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"domains": domains,
		"count":   len(domains),
	})
}

type providerView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Registry
	providers := reg.Providers()
	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, providerView{ID: p.ID, Name: p.Name, BaseURL: p.BaseURL, Enabled: reg.IsEnabled(p.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": views})
}

func (s *Server) handleSetProviderEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Registry.Lookup(id); !ok {
		writeErrorMessage(w, http.StatusNotFound, string(upstream.KindNotFound), "unknown provider "+id)
		return
	}
	if err := s.deps.Registry.SetEnabled(r.Context(), id, req.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": s.deps.Registry.IsEnabled(id)})
}

func (s *Server) handlePollerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pollerStatus())
}

// handleSetPoller starts or stops polling. Polling runs on the server context.
func (s *Server) handleSetPoller(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled {
		s.deps.Poller.Start(s.ctx)
	} else {
		s.deps.Poller.Stop()
	}
	writeJSON(w, http.StatusOK, s.pollerStatus())
}

func (s *Server) pollerStatus() map[string]any {
	return map[string]any{
		"enabled":  s.deps.Poller.Enabled(),
		"interval": s.deps.Poller.Interval().String(),
	}
}

func (s *Server) handleMonitorLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}
	since, _ := strconv.Atoi(r.URL.Query().Get("since_minutes"))

	logs := s.deps.Monitor.GetLogs(limit, since)
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleMonitorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Monitor.GetStats())
}

func (s *Server) handleClearMonitorLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Monitor.Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func redact(a mailapi.Account) mailapi.Account {
	a.Password = ""
	a.Token = ""
	return a
}
