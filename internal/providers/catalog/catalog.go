package catalog

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/storage"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	ProviderDuckMail = "duckmail"
	ProviderMailTM   = "mailtm"

	// DefaultProviderID is used whenever a provider cannot be determined.
	DefaultProviderID = ProviderDuckMail
)

var providerIDRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Provider is a backend instance offering the mail REST API.
type Provider struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	BaseURL    string `json:"baseUrl" yaml:"base_url"`
	MercureURL string `json:"mercureUrl,omitempty" yaml:"mercure_url"`
}

// CachedDomain maps a mail domain to the provider serving it.
type CachedDomain struct {
	Domain     string `json:"domain"`
	ProviderID string `json:"providerId"`
}

type seedFile struct {
	Providers []Provider `yaml:"providers"`
}

var presetProviders = []Provider{
	{
		ID:         ProviderDuckMail,
		Name:       "DuckMail",
		BaseURL:    "https://api.duckmail.sbs",
		MercureURL: "https://mercure.duckmail.sbs/.well-known/mercure",
	},
	{
		ID:         ProviderMailTM,
		Name:       "Mail.tm",
		BaseURL:    "https://api.mail.tm",
		MercureURL: "https://mercure.mail.tm/.well-known/mercure",
	},
}

// knownDomainPatterns overrides the cached domain map for domains whose
// provider is fixed regardless of what was last fetched.
var knownDomainPatterns = map[string]string{
	"1secmail.com": ProviderMailTM,
}

// Mail.tm stays off until the user enables it.
var defaultDisabledProviders = []string{ProviderMailTM}

// Registry resolves provider ids and mail domains. Custom providers, the
// disabled set and the domain cache are persisted through the storage port.
type Registry struct {
	store storage.Store
	log   logrus.FieldLogger

	mu       sync.RWMutex
	custom   []Provider
	disabled []string
	domains  map[string]string
}

// NewRegistry loads the persisted provider lists from store.
func NewRegistry(ctx context.Context, store storage.Store, log logrus.FieldLogger) (*Registry, error) {
	r := &Registry{
		store:   store,
		log:     logging.OrDiscard(log),
		domains: make(map[string]string),
	}

	if _, err := storage.GetJSON(ctx, store, storage.KeyCustomProviders, &r.custom); err != nil {
		r.log.WithError(err).Warn("⚠️ Ignoring unreadable custom provider list")
		r.custom = nil
	}

	found, err := storage.GetJSON(ctx, store, storage.KeyDisabledProviders, &r.disabled)
	if err != nil || !found {
		if err != nil {
			r.log.WithError(err).Warn("⚠️ Ignoring unreadable disabled provider list")
		}
		r.disabled = append([]string(nil), defaultDisabledProviders...)
	}

	var cached []CachedDomain
	if _, err := storage.GetJSON(ctx, store, storage.KeyCachedDomains, &cached); err != nil {
		r.log.WithError(err).Warn("⚠️ Ignoring unreadable domain cache")
	}
	for _, d := range cached {
		if d.Domain != "" && d.ProviderID != "" {
			r.domains[strings.ToLower(d.Domain)] = d.ProviderID
		}
	}

	r.log.Debugf("📦 Loaded %d custom providers, %d cached domains", len(r.custom), len(r.domains))
	return r, nil
}

// LoadSeedFile merges custom providers declared in a YAML file. Entries that
// collide with a preset id are skipped.
func (r *Registry) LoadSeedFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read providers file %q: %w", path, err)
	}

	var cfg seedFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse providers file %q: %w", path, err)
	}

	for _, p := range cfg.Providers {
		if err := r.AddCustomProvider(ctx, p); err != nil {
			r.log.WithError(err).Warnf("⚠️ Skipping provider %q from %s", p.ID, path)
		}
	}
	return nil
}

// Resolve returns the provider for id: presets first, then custom providers,
// then the first preset as a fallback. It never fails.
func (r *Registry) Resolve(id string) Provider {
	if p, ok := r.Lookup(id); ok {
		return p
	}
	return applyEnvOverride(presetProviders[0])
}

// Lookup reports whether id names a preset or custom provider.
func (r *Registry) Lookup(id string) (Provider, bool) {
	id = normalizeProviderID(id)
	for _, p := range presetProviders {
		if p.ID == id {
			return applyEnvOverride(p), true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.custom {
		if p.ID == id {
			return applyEnvOverride(p), true
		}
	}
	return Provider{}, false
}

// InferProviderFromAddress maps an email address to a provider id using the
// static domain table, then the cached domain list, then the default provider.
func (r *Registry) InferProviderFromAddress(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return DefaultProviderID
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))

	if id, ok := knownDomainPatterns[domain]; ok {
		return id
	}

	r.mu.RLock()
	id, ok := r.domains[domain]
	r.mu.RUnlock()
	if ok {
		return id
	}

	r.log.Debugf("⚠️ Domain %s not found, using default provider: %s", domain, DefaultProviderID)
	return DefaultProviderID
}

// Providers returns presets followed by custom providers.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Provider, 0, len(presetProviders)+len(r.custom))
	for _, p := range presetProviders {
		result = append(result, applyEnvOverride(p))
	}
	for _, p := range r.custom {
		result = append(result, applyEnvOverride(p))
	}
	return result
}

// EnabledProviders returns presets and custom providers minus the disabled set.
func (r *Registry) EnabledProviders() []Provider {
	all := r.Providers()

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Provider, 0, len(all))
	for _, p := range all {
		if !containsID(r.disabled, p.ID) {
			result = append(result, p)
		}
	}
	return result
}

// EnabledProviderIDs is EnabledProviders reduced to ids.
func (r *Registry) EnabledProviderIDs() []string {
	enabled := r.EnabledProviders()
	ids := make([]string, 0, len(enabled))
	for _, p := range enabled {
		ids = append(ids, p.ID)
	}
	return ids
}

// IsEnabled reports whether id is a known provider outside the disabled set.
func (r *Registry) IsEnabled(id string) bool {
	if _, ok := r.Lookup(id); !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !containsID(r.disabled, normalizeProviderID(id))
}

// SetEnabled adds or removes id from the disabled set and persists it.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) error {
	id = normalizeProviderID(id)
	if _, ok := r.Lookup(id); !ok {
		return fmt.Errorf("unknown provider %q", id)
	}

	r.mu.Lock()
	next := make([]string, 0, len(r.disabled)+1)
	for _, d := range r.disabled {
		if d != id {
			next = append(next, d)
		}
	}
	if !enabled {
		next = append(next, id)
	}
	r.disabled = next
	r.mu.Unlock()

	return storage.PutJSON(ctx, r.store, storage.KeyDisabledProviders, next)
}

// AddCustomProvider validates p and inserts or replaces it in the custom list.
func (r *Registry) AddCustomProvider(ctx context.Context, p Provider) error {
	p.ID = normalizeProviderID(p.ID)
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	p.Name = strings.TrimSpace(p.Name)

	if !providerIDRegexp.MatchString(p.ID) {
		return fmt.Errorf("invalid provider id %q", p.ID)
	}
	if isPreset(p.ID) {
		return fmt.Errorf("provider %q is a preset", p.ID)
	}
	if p.BaseURL == "" {
		return fmt.Errorf("provider %q has no base URL", p.ID)
	}
	if p.Name == "" {
		p.Name = p.ID
	}

	r.mu.Lock()
	next := make([]Provider, 0, len(r.custom)+1)
	replaced := false
	for _, existing := range r.custom {
		if existing.ID == p.ID {
			next = append(next, p)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, p)
	}
	r.custom = next
	r.mu.Unlock()

	r.log.Infof("✅ Custom provider %s registered (%s)", p.ID, p.BaseURL)
	return storage.PutJSON(ctx, r.store, storage.KeyCustomProviders, next)
}

// RemoveCustomProvider deletes a custom provider. Presets cannot be removed.
func (r *Registry) RemoveCustomProvider(ctx context.Context, id string) error {
	id = normalizeProviderID(id)
	if isPreset(id) {
		return fmt.Errorf("provider %q is a preset", id)
	}

	r.mu.Lock()
	next := make([]Provider, 0, len(r.custom))
	for _, p := range r.custom {
		if p.ID != id {
			next = append(next, p)
		}
	}
	r.custom = next
	r.mu.Unlock()

	return storage.PutJSON(ctx, r.store, storage.KeyCustomProviders, next)
}

// CacheDomains replaces the domain-to-provider cache used by InferProviderFromAddress.
func (r *Registry) CacheDomains(ctx context.Context, domains []CachedDomain) error {
	next := make(map[string]string, len(domains))
	cleaned := make([]CachedDomain, 0, len(domains))
	for _, d := range domains {
		if d.Domain == "" || d.ProviderID == "" {
			continue
		}
		next[strings.ToLower(d.Domain)] = d.ProviderID
		cleaned = append(cleaned, d)
	}

	r.mu.Lock()
	r.domains = next
	r.mu.Unlock()

	return storage.PutJSON(ctx, r.store, storage.KeyCachedDomains, cleaned)
}

func isPreset(id string) bool {
	for _, p := range presetProviders {
		if p.ID == id {
			return true
		}
	}
	return false
}

func applyEnvOverride(p Provider) Provider {
	if v := strings.TrimSpace(os.Getenv(providerEnvName(p.ID, "BASE_URL"))); v != "" {
		p.BaseURL = strings.TrimRight(v, "/")
	}
	return p
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func normalizeProviderID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func providerEnvName(id, suffix string) string {
	upper := strings.ToUpper(id)
	replacer := strings.NewReplacer("-", "_", ".", "_", "/", "_", " ", "_")
	upper = replacer.Replace(upper)
	return fmt.Sprintf("TEMPMAIL_%s_%s", upper, suffix)
}

// NormalizeProviderID lower-cases and trims a provider id.
// Empty input defaults to the default provider.
func NormalizeProviderID(id string) string {
	p := normalizeProviderID(id)
	if p == "" {
		return DefaultProviderID
	}
	return p
}
