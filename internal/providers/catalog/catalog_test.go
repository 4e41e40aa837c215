package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pysugar/tempmail-nexus/internal/storage"
)

func newTestRegistry(t *testing.T, store storage.Store) *Registry {
	t.Helper()
	if store == nil {
		store = storage.NewMemory()
	}
	r, err := NewRegistry(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestResolveFallsBackToFirstPreset(t *testing.T) {
	r := newTestRegistry(t, nil)

	if got := r.Resolve("mailtm"); got.BaseURL != "https://api.mail.tm" {
		t.Fatalf("expected mail.tm base url, got %+v", got)
	}
	if got := r.Resolve("does-not-exist"); got.ID != ProviderDuckMail {
		t.Fatalf("expected fallback to duckmail, got %+v", got)
	}
	if got := r.Resolve(""); got.ID != ProviderDuckMail {
		t.Fatalf("expected fallback for empty id, got %+v", got)
	}
}

func TestResolveEnvOverride(t *testing.T) {
	t.Setenv("TEMPMAIL_DUCKMAIL_BASE_URL", "http://127.0.0.1:9999/")
	r := newTestRegistry(t, nil)

	if got := r.Resolve(ProviderDuckMail).BaseURL; got != "http://127.0.0.1:9999" {
		t.Fatalf("expected env override, got %q", got)
	}
}

func TestInferProviderFromAddress(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)

	if err := r.CacheDomains(ctx, []CachedDomain{{Domain: "Example.org", ProviderID: "mailtm"}}); err != nil {
		t.Fatalf("cache domains: %v", err)
	}

	cases := map[string]string{
		"user@1secmail.com": ProviderMailTM,
		"user@example.org":  ProviderMailTM,
		"user@unknown.test": DefaultProviderID,
		"not-an-address":    DefaultProviderID,
		"trailing-at@":      DefaultProviderID,
		"USER@EXAMPLE.ORG":  ProviderMailTM,
	}
	for addr, want := range cases {
		if got := r.InferProviderFromAddress(addr); got != want {
			t.Fatalf("infer %q: expected %q, got %q", addr, want, got)
		}
	}
}

func TestDomainCacheSurvivesReload(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	r := newTestRegistry(t, store)
	if err := r.CacheDomains(ctx, []CachedDomain{{Domain: "duck.test", ProviderID: "custom-one"}}); err != nil {
		t.Fatalf("cache domains: %v", err)
	}

	reloaded := newTestRegistry(t, store)
	if got := reloaded.InferProviderFromAddress("a@duck.test"); got != "custom-one" {
		t.Fatalf("expected cached provider after reload, got %q", got)
	}
}

func TestEnabledProvidersDefaultDisablesMailTM(t *testing.T) {
	r := newTestRegistry(t, nil)

	ids := r.EnabledProviderIDs()
	if len(ids) != 1 || ids[0] != ProviderDuckMail {
		t.Fatalf("expected only duckmail enabled by default, got %v", ids)
	}
	if r.IsEnabled(ProviderMailTM) {
		t.Fatal("expected mailtm disabled by default")
	}
}

func TestSetEnabledPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	r := newTestRegistry(t, store)

	if err := r.SetEnabled(ctx, ProviderMailTM, true); err != nil {
		t.Fatalf("enable mailtm: %v", err)
	}
	if err := r.SetEnabled(ctx, ProviderDuckMail, false); err != nil {
		t.Fatalf("disable duckmail: %v", err)
	}
	if err := r.SetEnabled(ctx, "ghost", true); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	reloaded := newTestRegistry(t, store)
	ids := reloaded.EnabledProviderIDs()
	if len(ids) != 1 || ids[0] != ProviderMailTM {
		t.Fatalf("expected only mailtm enabled after reload, got %v", ids)
	}
}

func TestCustomProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	r := newTestRegistry(t, store)

	if err := r.AddCustomProvider(ctx, Provider{ID: "Self-Hosted", BaseURL: "https://mail.example.net/"}); err != nil {
		t.Fatalf("add provider: %v", err)
	}
	if err := r.AddCustomProvider(ctx, Provider{ID: "duckmail", BaseURL: "https://x"}); err == nil {
		t.Fatal("expected preset id to be rejected")
	}
	if err := r.AddCustomProvider(ctx, Provider{ID: "-bad", BaseURL: "https://x"}); err == nil {
		t.Fatal("expected invalid id to be rejected")
	}
	if err := r.AddCustomProvider(ctx, Provider{ID: "nourl"}); err == nil {
		t.Fatal("expected missing base url to be rejected")
	}

	p, ok := newTestRegistry(t, store).Lookup("self-hosted")
	if !ok {
		t.Fatal("expected custom provider after reload")
	}
	if p.BaseURL != "https://mail.example.net" || p.Name != "self-hosted" {
		t.Fatalf("unexpected normalized provider: %+v", p)
	}

	if err := r.RemoveCustomProvider(ctx, "self-hosted"); err != nil {
		t.Fatalf("remove provider: %v", err)
	}
	if _, ok := r.Lookup("self-hosted"); ok {
		t.Fatal("expected provider removed")
	}
	if err := r.RemoveCustomProvider(ctx, ProviderDuckMail); err == nil {
		t.Fatal("expected preset removal to fail")
	}
}

func TestLoadSeedFile(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)

	path := filepath.Join(t.TempDir(), "providers.yaml")
	cfg := `providers:
  - id: corp-mail
    name: Corp Mail
    base_url: https://mail.corp.test
  - id: mailtm
    base_url: https://shadow.test
`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if err := r.LoadSeedFile(ctx, path); err != nil {
		t.Fatalf("load seed: %v", err)
	}

	if p, ok := r.Lookup("corp-mail"); !ok || p.Name != "Corp Mail" {
		t.Fatalf("expected corp-mail from seed, got %+v ok=%v", p, ok)
	}
	if got := r.Resolve(ProviderMailTM).BaseURL; got != "https://api.mail.tm" {
		t.Fatalf("seed must not shadow presets, got %q", got)
	}
	if err := r.LoadSeedFile(ctx, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing seed file")
	}
}

func TestFilterAndNormalizeDomains(t *testing.T) {
	public := false
	raw := []Domain{
		{DomainName: "ok.test", IsVerified: true, IsActive: true, IsPublic: &public},
		{DomainName: "unverified.test", IsActive: true},
		{DomainName: "inactive.test", IsVerified: true},
	}

	normalized := make([]Domain, 0, len(raw))
	for _, d := range raw {
		normalized = append(normalized, NormalizeDomain(ProviderDuckMail, d))
	}
	kept := FilterDomains(ProviderDuckMail, normalized)
	if len(kept) != 1 || kept[0].Domain != "ok.test" || !kept[0].IsPrivate {
		t.Fatalf("unexpected duckmail domains: %+v", kept)
	}

	other := FilterDomains(ProviderMailTM, []Domain{{Domain: "a.test"}, {DomainName: "b.test"}})
	if len(other) != 2 {
		t.Fatalf("expected mailtm domains unfiltered, got %+v", other)
	}
	if got := NormalizeDomain(ProviderMailTM, Domain{DomainName: "b.test"}).Domain; got != "b.test" {
		t.Fatalf("expected domainName fallback, got %q", got)
	}
}
