package session

import (
	"context"
	"errors"

	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/storage"
)

// persist writes the state, or deletes the record when the session holds
// nothing. Writes happen in snapshot order.
func (s *Store) persist(ctx context.Context) State {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	st := s.Snapshot()
	ctx = context.WithoutCancel(ctx)

	if len(st.Accounts) == 0 && st.CurrentAccount == nil && st.Token == "" {
		if err := s.storage.Delete(ctx, storage.KeyAuth); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).Warn("⚠️ Failed to clear persisted session")
		}
		return st
	}

	rec := persistedState{
		CurrentAccount:  st.CurrentAccount,
		Accounts:        st.Accounts,
		IsAuthenticated: st.IsAuthenticated,
	}
	if st.Token != "" {
		tok := st.Token
		rec.Token = &tok
	}
	if err := storage.PutJSON(ctx, s.storage, storage.KeyAuth, rec); err != nil {
		s.log.WithError(err).Warn("⚠️ Failed to persist session")
	}
	return st
}

// restore loads the persisted record. Accounts saved before provider support
// get the default provider, and the current account is relinked into the list.
func (s *Store) restore(ctx context.Context) error {
	var rec persistedState
	found, err := storage.GetJSON(ctx, s.storage, storage.KeyAuth, &rec)
	if err != nil {
		s.log.WithError(err).Warn("⚠️ Ignoring unreadable persisted session")
		return nil
	}
	if !found {
		return nil
	}

	migrated := 0
	accounts := make([]mailapi.Account, 0, len(rec.Accounts))
	for _, a := range rec.Accounts {
		if a.ProviderID == "" {
			a.ProviderID = catalog.DefaultProviderID
			migrated++
		}
		accounts = append(accounts, a)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = accounts
	s.current = -1
	if rec.Token != nil {
		s.token = *rec.Token
	}
	if rec.CurrentAccount != nil {
		cur := *rec.CurrentAccount
		if cur.ProviderID == "" {
			cur.ProviderID = catalog.DefaultProviderID
			migrated++
		}
		s.current = s.upsertCurrentLocked(cur)
	}

	if migrated > 0 {
		s.log.Infof("📦 Migrated %d session entries to provider %s", migrated, catalog.DefaultProviderID)
	}
	s.log.Debugf("📦 Restored session with %d accounts", len(s.accounts))
	return nil
}

// upsertCurrentLocked links cur to its entry in accounts, inserting it when
// missing. The stored list entry wins so the two stay identical.
func (s *Store) upsertCurrentLocked(cur mailapi.Account) int {
	for i := range s.accounts {
		if sameAccount(s.accounts[i], cur) {
			return i
		}
	}
	s.accounts = append(s.accounts, cur)
	return len(s.accounts) - 1
}
