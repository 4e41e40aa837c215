// Package session holds the multi-account session: known accounts, the active
// account and its bearer token. Every transition is persisted.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/pysugar/tempmail-nexus/internal/auth/token"
	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/storage"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"github.com/sirupsen/logrus"
)

// ErrAccountNotFound is returned when an operation names an unknown account.
var ErrAccountNotFound = errors.New("account not found")

// TokenManager is the token lifecycle surface used by the store.
type TokenManager interface {
	AcquireToken(ctx context.Context, address, password, providerID string) (string, error)
	ValidateToken(ctx context.Context, tok, providerID string) (*mailapi.Account, error)
	Subscribe(fn func(token.RefreshEvent)) (unsubscribe func())
	SetSource(src token.CredentialSource)
}

// AccountAPI is the backend surface for account creation and removal.
type AccountAPI interface {
	CreateAccount(ctx context.Context, address, password, providerID string) (*mailapi.Account, error)
	DeleteAccount(ctx context.Context, auth mailapi.Auth, id string) error
}

// Options configures a Store.
type Options struct {
	Storage  storage.Store
	Registry *catalog.Registry
	Tokens   TokenManager
	API      AccountAPI
	Logger   logrus.FieldLogger

	// DiscardPasswords keeps passwords out of the session. Accounts then
	// cannot be refreshed or re-authenticated without the user.
	DiscardPasswords bool
}

// Store is the session state holder. Logical operations are serialized by
// opMu; mu only guards the fields and is never held across network calls.
type Store struct {
	storage          storage.Store
	registry         *catalog.Registry
	tokens           TokenManager
	api              AccountAPI
	log              logrus.FieldLogger
	discardPasswords bool

	opMu      sync.Mutex
	persistMu sync.Mutex

	mu       sync.RWMutex
	accounts []mailapi.Account
	current  int
	token    string

	listenersMu sync.RWMutex
	listeners   map[int]func(State)
	nextID      int

	unsubscribe func()
}

// New restores the session from storage and registers it as the token
// manager's credential source.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Storage == nil || opts.Registry == nil || opts.Tokens == nil || opts.API == nil {
		return nil, fmt.Errorf("session: storage, registry, tokens and api are required")
	}
	s := &Store{
		storage:          opts.Storage,
		registry:         opts.Registry,
		tokens:           opts.Tokens,
		api:              opts.API,
		log:              logging.OrDiscard(opts.Logger),
		discardPasswords: opts.DiscardPasswords,
		current:          -1,
		listeners:        make(map[int]func(State)),
	}
	if err := s.restore(ctx); err != nil {
		return nil, err
	}

	s.tokens.SetSource(s)
	s.unsubscribe = s.tokens.Subscribe(s.applyRefresh)
	return s, nil
}

// Close detaches the store from the token manager.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Subscribe registers fn to receive the state after every transition.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := State{
		Token:    s.token,
		Accounts: append([]mailapi.Account{}, s.accounts...),
	}
	if s.current >= 0 {
		cur := s.accounts[s.current]
		st.CurrentAccount = &cur
	}
	st.IsAuthenticated = st.Token != "" && st.CurrentAccount != nil
	return st
}

// Current returns the active account.
func (s *Store) Current() (mailapi.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return mailapi.Account{}, false
	}
	return s.accounts[s.current], true
}

// Token returns the active bearer token, or "".
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ActiveCredentials implements token.CredentialSource.
func (s *Store) ActiveCredentials() (token.Credentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return token.Credentials{}, false
	}
	a := s.accounts[s.current]
	return token.Credentials{
		Address:    a.Address,
		Password:   a.Password,
		ProviderID: providerOf(a),
		Token:      s.token,
	}, true
}

// Find returns the account with the given address. An empty providerID
// matches any provider.
func (s *Store) Find(address, providerID string) (mailapi.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.Address == address && (providerID == "" || providerOf(a) == providerID) {
			return a, true
		}
	}
	return mailapi.Account{}, false
}

// AccountsForProvider lists accounts of one provider. Accounts without a
// provider count as the default provider.
func (s *Store) AccountsForProvider(providerID string) []mailapi.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []mailapi.Account{}
	for _, a := range s.accounts {
		if providerOf(a) == providerID {
			out = append(out, a)
		}
	}
	return out
}

// CurrentProviderAccounts lists the accounts sharing the active account's provider.
func (s *Store) CurrentProviderAccounts() []mailapi.Account {
	cur, ok := s.Current()
	if !ok {
		return []mailapi.Account{}
	}
	return s.AccountsForProvider(providerOf(cur))
}

// Login authenticates address and makes it the active account, replacing any
// stored entry for the same address.
func (s *Store) Login(ctx context.Context, address, password string) (mailapi.Account, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.loginLocked(ctx, address, password)
}

func (s *Store) loginLocked(ctx context.Context, address, password string) (mailapi.Account, error) {
	providerID := s.registry.InferProviderFromAddress(address)
	log := s.log.WithFields(logrus.Fields{"address": address, "provider": providerID})

	tok, err := s.tokens.AcquireToken(ctx, address, password, providerID)
	if err != nil {
		log.WithError(err).Warn("❌ Login failed")
		return mailapi.Account{}, err
	}
	profile, err := s.tokens.ValidateToken(ctx, tok, providerID)
	if err != nil {
		log.WithError(err).Warn("❌ Profile fetch after login failed")
		return mailapi.Account{}, err
	}

	acct := mailapi.Account{Address: address, Token: tok, ProviderID: providerID}.WithProfile(profile)
	acct.Password = s.keptPassword(password)

	s.mu.Lock()
	idx := s.upsertLocked(acct)
	s.current = idx
	s.token = tok
	s.mu.Unlock()

	log.Info("✅ Logged in")
	s.commit(ctx)
	return acct, nil
}

// Register creates the mailbox server-side, then logs in with the same credentials.
func (s *Store) Register(ctx context.Context, address, password string) (mailapi.Account, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	providerID := s.registry.InferProviderFromAddress(address)
	if _, err := s.api.CreateAccount(ctx, address, password, providerID); err != nil {
		s.log.WithError(err).Warnf("❌ Registration failed for %s", address)
		return mailapi.Account{}, err
	}
	s.log.Infof("📝 Registered %s on %s", address, providerID)
	return s.loginLocked(ctx, address, password)
}

// Logout removes the active account from the session. The first remaining
// account becomes active, authenticated only if it has its own token.
func (s *Store) Logout(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch {
	case s.current < 0:
		s.token = ""
	default:
		removed := s.accounts[s.current].Address
		s.accounts = append(s.accounts[:s.current:s.current], s.accounts[s.current+1:]...)
		if len(s.accounts) > 0 {
			s.current = 0
			s.token = s.accounts[0].Token
			s.log.Infof("🔁 Logged out %s, switched to %s", removed, s.accounts[0].Address)
		} else {
			s.resetLocked()
			s.log.Infof("🚪 Logged out %s", removed)
		}
	}
	s.mu.Unlock()

	s.commit(ctx)
}

// AddAccount inserts an account obtained elsewhere and makes it active.
func (s *Store) AddAccount(ctx context.Context, acct mailapi.Account, tok, password string) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	acct.ProviderID = s.registry.InferProviderFromAddress(acct.Address)
	acct.Token = tok
	acct.Password = s.keptPassword(password)

	s.mu.Lock()
	s.current = s.upsertLocked(acct)
	s.token = tok
	s.mu.Unlock()

	s.commit(ctx)
}

// SwitchTo switches to a stored account by address.
func (s *Store) SwitchTo(ctx context.Context, address, providerID string) error {
	acct, ok := s.Find(address, providerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return s.SwitchAccount(ctx, acct)
}

// SwitchAccount makes target active. Without a token or password it fails
// with upstream.KindCredentialsMissing and changes nothing.
func (s *Store) SwitchAccount(ctx context.Context, target mailapi.Account) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.switchLocked(ctx, target)
}

func (s *Store) switchLocked(ctx context.Context, target mailapi.Account) error {
	providerID := providerOf(target)
	target.ProviderID = providerID
	log := s.log.WithFields(logrus.Fields{"address": target.Address, "provider": providerID})

	if target.Token == "" && target.Password == "" {
		log.Warn("⚠️ No credentials available for account")
		return upstream.CredentialsMissing("No stored credentials for %s, please log in again", target.Address)
	}

	log.Info("🔄 Switching account")

	if target.Token != "" {
		profile, err := s.tokens.ValidateToken(ctx, target.Token, providerID)
		if err == nil {
			s.activate(ctx, target.WithProfile(profile), target.Token)
			log.Info("✅ Token validated, switched")
			return nil
		}
		if !upstream.IsKind(err, upstream.KindTokenInvalid) {
			return err
		}

		log.Warn("⚠️ Stored token is no longer valid")
		if target.Password == "" {
			s.clearStoredToken(ctx, target)
			return &upstream.Error{
				Kind:    upstream.KindAuthExpired,
				Status:  http.StatusUnauthorized,
				Message: "Token expired, please log in again",
				Err:     err,
			}
		}

		if err := s.reauthenticate(ctx, target); err != nil {
			s.clearStoredToken(ctx, target)
			return &upstream.Error{
				Kind:    upstream.KindAuthExpired,
				Status:  http.StatusUnauthorized,
				Message: "Token expired and could not be renewed, please log in again",
				Err:     err,
			}
		}
		return nil
	}

	if err := s.reauthenticate(ctx, target); err != nil {
		log.WithError(err).Warn("❌ Failed to obtain token")
		return fmt.Errorf("switch to %s: %w", target.Address, err)
	}
	return nil
}

func (s *Store) reauthenticate(ctx context.Context, target mailapi.Account) error {
	tok, err := s.tokens.AcquireToken(ctx, target.Address, target.Password, target.ProviderID)
	if err != nil {
		return err
	}
	profile, err := s.tokens.ValidateToken(ctx, tok, target.ProviderID)
	if err != nil {
		return err
	}
	target.Token = tok
	s.activate(ctx, target.WithProfile(profile), tok)
	s.log.Infof("✅ Fresh token obtained, switched to %s", target.Address)
	return nil
}

func (s *Store) activate(ctx context.Context, acct mailapi.Account, tok string) {
	acct.Token = tok
	s.mu.Lock()
	s.current = s.upsertLocked(acct)
	s.token = tok
	s.mu.Unlock()
	s.commit(ctx)
}

func (s *Store) clearStoredToken(ctx context.Context, target mailapi.Account) {
	s.mu.Lock()
	changed := false
	for i := range s.accounts {
		if sameAccount(s.accounts[i], target) && s.accounts[i].Token != "" {
			s.accounts[i].Token = ""
			changed = true
		}
	}
	s.mu.Unlock()
	if changed {
		s.commit(ctx)
	}
}

// DeleteAccount removes the mailbox server-side and from the session. A
// non-active account needs its own token or password.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.RLock()
	idx := s.indexByIDLocked(id)
	if idx < 0 {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	target := s.accounts[idx]
	isCurrent := idx == s.current
	sessionToken := s.token
	s.mu.RUnlock()

	providerID := providerOf(target)
	log := s.log.WithFields(logrus.Fields{"address": target.Address, "provider": providerID})
	log.Info("🗑️ Deleting account")

	auth := mailapi.Auth{ProviderID: providerID}
	switch {
	case isCurrent && sessionToken != "":
		auth.Token, auth.Refreshable = sessionToken, true
	case target.Token != "":
		auth.Token = target.Token
	case target.Password != "":
		tok, err := s.tokens.AcquireToken(ctx, target.Address, target.Password, providerID)
		if err != nil {
			return fmt.Errorf("delete %s: %w", target.Address, err)
		}
		auth.Token = tok
	default:
		return upstream.CredentialsMissing("Missing credentials to delete %s, please log in to that account first", target.Address)
	}

	err := s.api.DeleteAccount(ctx, auth, id)
	if upstream.IsKind(err, upstream.KindTokenInvalid) && target.Password != "" {
		log.Warn("⚠️ Stored token rejected, logging in again before delete")
		tok, aerr := s.tokens.AcquireToken(ctx, target.Address, target.Password, providerID)
		if aerr != nil {
			return fmt.Errorf("delete %s: %w", target.Address, aerr)
		}
		auth.Token = tok
		err = s.api.DeleteAccount(ctx, auth, id)
	}
	if err != nil {
		log.WithError(err).Warn("❌ Delete account failed")
		return err
	}

	s.mu.Lock()
	if i := s.indexByIDLocked(id); i >= 0 {
		s.removeLocked(i)
	}
	remaining := len(s.accounts)
	if !isCurrent || remaining == 0 {
		if remaining == 0 {
			s.resetLocked()
			log.Info("🚪 Deleted last account, logged out")
		}
		s.mu.Unlock()
		s.commit(ctx)
		return nil
	}

	s.current = -1
	s.token = ""
	candidate := s.accounts[0]
	for _, a := range s.accounts {
		if a.Token != "" || a.Password != "" {
			candidate = a
			break
		}
	}
	s.mu.Unlock()
	s.commit(ctx)

	log.Infof("🔁 Deleted current account, trying to switch to %s", candidate.Address)
	if err := s.switchLocked(ctx, candidate); err != nil {
		log.WithError(err).Warn("❌ Auto switch after delete failed")
	}
	return nil
}

// applyRefresh stores a token produced by the token manager. It runs on the
// refresher's goroutine, possibly while another operation holds opMu.
func (s *Store) applyRefresh(ev token.RefreshEvent) {
	s.mu.Lock()
	changed := false
	for i := range s.accounts {
		a := s.accounts[i]
		if a.Address == ev.Address && providerOf(a) == ev.ProviderID {
			s.accounts[i].Token = ev.Token
			if i == s.current {
				s.token = ev.Token
			}
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.log.Debugf("🔄 Applied refreshed token for %s", ev.Address)
		s.commit(context.Background())
	}
}

func (s *Store) keptPassword(password string) string {
	if s.discardPasswords {
		return ""
	}
	return password
}

// upsertLocked replaces the entry matching acct or appends it. It returns the index.
func (s *Store) upsertLocked(acct mailapi.Account) int {
	for i := range s.accounts {
		if sameAccount(s.accounts[i], acct) {
			s.accounts[i] = acct
			return i
		}
	}
	s.accounts = append(s.accounts, acct)
	return len(s.accounts) - 1
}

func (s *Store) indexByIDLocked(id string) int {
	for i, a := range s.accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeLocked(i int) {
	s.accounts = append(s.accounts[:i:i], s.accounts[i+1:]...)
	switch {
	case s.current == i:
		s.current = -1
	case s.current > i:
		s.current--
	}
}

func (s *Store) resetLocked() {
	s.accounts = nil
	s.current = -1
	s.token = ""
}

// commit persists the state and notifies listeners.
func (s *Store) commit(ctx context.Context) {
	st := s.persist(ctx)

	s.listenersMu.RLock()
	fns := make([]func(State), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(st)
	}
}
