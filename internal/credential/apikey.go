// Package credential resolves the long-lived API key used for domain listing
// and account creation.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/storage"
	"github.com/sirupsen/logrus"
)

const apiKeyItem = "api-key"

// Source names where an API key came from.
type Source string

const (
	SourceNone    Source = ""
	SourceConfig  Source = "config"
	SourceKeyring Source = "keyring"
	SourceStore   Source = "store"
)

// APIKeys looks up the API key in configuration, then the keyring, then the
// persisted store. Writes go to the keyring when one is available.
type APIKeys struct {
	configured string
	ring       keyring.Keyring
	store      storage.Store
	log        logrus.FieldLogger
}

// NewAPIKeys creates the resolver. ring may be nil.
func NewAPIKeys(configured string, ring keyring.Keyring, store storage.Store, log logrus.FieldLogger) *APIKeys {
	return &APIKeys{
		configured: strings.TrimSpace(configured),
		ring:       ring,
		store:      store,
		log:        logging.OrDiscard(log),
	}
}

// APIKey implements upstream.APIKeySource.
func (k *APIKeys) APIKey(ctx context.Context) string {
	key, _ := k.Lookup(ctx)
	return key
}

// Lookup returns the key and where it was found.
func (k *APIKeys) Lookup(ctx context.Context) (string, Source) {
	if k.configured != "" {
		return k.configured, SourceConfig
	}

	if k.ring != nil {
		item, err := k.ring.Get(apiKeyItem)
		switch {
		case err == nil && len(item.Data) > 0:
			return strings.TrimSpace(string(item.Data)), SourceKeyring
		case err != nil && !errors.Is(err, keyring.ErrKeyNotFound):
			k.log.WithError(err).Debug("⚠️ Keyring lookup failed")
		}
	}

	if k.store != nil {
		data, err := k.store.Get(ctx, storage.KeyAPIKey)
		switch {
		case err == nil && len(data) > 0:
			return strings.TrimSpace(string(data)), SourceStore
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			k.log.WithError(err).Debug("⚠️ Stored API key lookup failed")
		}
	}
	return "", SourceNone
}

// Set stores key in the keyring, or in the persisted store without one.
func (k *APIKeys) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key is empty")
	}
	if k.ring != nil {
		if err := k.ring.Set(keyring.Item{Key: apiKeyItem, Data: []byte(key), Label: "tempmail API key"}); err != nil {
			return fmt.Errorf("setting credential %q: %w", apiKeyItem, err)
		}
		k.log.Info("🔑 API key saved to keyring")
		return nil
	}
	if k.store == nil {
		return fmt.Errorf("no credential store configured")
	}
	if err := k.store.Put(ctx, storage.KeyAPIKey, []byte(key)); err != nil {
		return fmt.Errorf("saving api key: %w", err)
	}
	k.log.Info("🔑 API key saved")
	return nil
}

// Clear removes the key from the keyring and the persisted store.
func (k *APIKeys) Clear(ctx context.Context) error {
	if k.ring != nil {
		if err := k.ring.Remove(apiKeyItem); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", apiKeyItem, err)
		}
	}
	if k.store != nil {
		if err := k.store.Delete(ctx, storage.KeyAPIKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("deleting api key: %w", err)
		}
	}
	return nil
}
