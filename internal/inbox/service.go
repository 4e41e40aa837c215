// Package inbox provides mailbox operations for the active account and the
// poller that watches it for new mail.
package inbox

import (
	"context"
	"fmt"

	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/session"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Mailbox is the backend surface used for message operations.
type Mailbox interface {
	ListMessages(ctx context.Context, auth mailapi.Auth, page int) (*mailapi.MessagePage, error)
	GetMessage(ctx context.Context, auth mailapi.Auth, id string) (*mailapi.MessageDetail, error)
	MarkSeen(ctx context.Context, auth mailapi.Auth, id string) (bool, error)
	DeleteMessage(ctx context.Context, auth mailapi.Auth, id string) error
	MercureToken(ctx context.Context, auth mailapi.Auth) (string, error)
}

// SessionView is the read side of the session store.
type SessionView interface {
	Snapshot() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
}

// Service runs message operations with the active account's token.
type Service struct {
	mailbox Mailbox
	session SessionView
	tokens  oauth2.TokenSource
	log     logrus.FieldLogger
}

// NewService creates the service. tokens may be nil, in which case the
// session token is used as is.
func NewService(mailbox Mailbox, sess SessionView, tokens oauth2.TokenSource, log logrus.FieldLogger) *Service {
	return &Service{mailbox: mailbox, session: sess, tokens: tokens, log: logging.OrDiscard(log)}
}

func (s *Service) auth() (mailapi.Auth, error) {
	st := s.session.Snapshot()
	if !st.IsAuthenticated {
		return mailapi.Auth{}, upstream.CredentialsMissing("Not logged in")
	}

	tok := st.Token
	if s.tokens != nil {
		t, err := s.tokens.Token()
		if err != nil {
			return mailapi.Auth{}, fmt.Errorf("active token: %w", err)
		}
		tok = t.AccessToken
	}

	providerID := st.CurrentAccount.ProviderID
	if providerID == "" {
		providerID = catalog.DefaultProviderID
	}
	return mailapi.Auth{Token: tok, ProviderID: providerID, Refreshable: true}, nil
}

// ListMessages returns one page of the active inbox.
func (s *Service) ListMessages(ctx context.Context, page int) (*mailapi.MessagePage, error) {
	auth, err := s.auth()
	if err != nil {
		return nil, err
	}
	return s.mailbox.ListMessages(ctx, auth, page)
}

// GetMessage returns a full message.
func (s *Service) GetMessage(ctx context.Context, id string) (*mailapi.MessageDetail, error) {
	auth, err := s.auth()
	if err != nil {
		return nil, err
	}
	return s.mailbox.GetMessage(ctx, auth, id)
}

// ReadMessage fetches a message and marks it seen if it was not.
// A failed mark is logged and does not fail the read.
func (s *Service) ReadMessage(ctx context.Context, id string) (*mailapi.MessageDetail, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Seen {
		return msg, nil
	}
	seen, err := s.MarkSeen(ctx, id)
	if err != nil {
		s.log.WithError(err).Warnf("⚠️ Failed to mark message %s as read", id)
		return msg, nil
	}
	msg.Seen = seen
	return msg, nil
}

// MarkSeen marks a message as read.
func (s *Service) MarkSeen(ctx context.Context, id string) (bool, error) {
	auth, err := s.auth()
	if err != nil {
		return false, err
	}
	return s.mailbox.MarkSeen(ctx, auth, id)
}

// DeleteMessage removes a message.
func (s *Service) DeleteMessage(ctx context.Context, id string) error {
	auth, err := s.auth()
	if err != nil {
		return err
	}
	return s.mailbox.DeleteMessage(ctx, auth, id)
}

// MercureToken requests a real-time subscription token for the active
// account. Backends no longer issue them; callers should poll instead.
func (s *Service) MercureToken(ctx context.Context) (string, error) {
	auth, err := s.auth()
	if err != nil {
		return "", err
	}
	return s.mailbox.MercureToken(ctx, auth)
}
