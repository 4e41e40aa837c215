package session

import (
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/util"
)

// State is a copy of the session at one point in time.
type State struct {
	Token           string            `json:"token,omitempty"`
	CurrentAccount  *mailapi.Account  `json:"currentAccount"`
	Accounts        []mailapi.Account `json:"accounts"`
	IsAuthenticated bool              `json:"isAuthenticated"`
}

// Redacted drops passwords and masks tokens for display.
func (s State) Redacted() State {
	out := State{
		Token:           util.MaskSecret(s.Token),
		IsAuthenticated: s.IsAuthenticated,
		Accounts:        make([]mailapi.Account, 0, len(s.Accounts)),
	}
	if s.Token == "" {
		out.Token = ""
	}
	for _, a := range s.Accounts {
		out.Accounts = append(out.Accounts, redactAccount(a))
	}
	if s.CurrentAccount != nil {
		cur := redactAccount(*s.CurrentAccount)
		out.CurrentAccount = &cur
	}
	return out
}

func redactAccount(a mailapi.Account) mailapi.Account {
	a.Password = ""
	if a.Token != "" {
		a.Token = util.MaskSecret(a.Token)
	}
	return a
}

// persistedState is the layout stored under the "auth" key.
type persistedState struct {
	Token           *string           `json:"token"`
	CurrentAccount  *mailapi.Account  `json:"currentAccount"`
	Accounts        []mailapi.Account `json:"accounts"`
	IsAuthenticated bool              `json:"isAuthenticated"`
}

func providerOf(a mailapi.Account) string {
	if a.ProviderID == "" {
		return catalog.DefaultProviderID
	}
	return a.ProviderID
}

func sameAccount(a, b mailapi.Account) bool {
	return a.Address == b.Address && providerOf(a) == providerOf(b)
}
