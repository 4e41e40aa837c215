package mailapi

import (
	"context"
	"net/http"

	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"golang.org/x/sync/errgroup"
)

// FetchDomainsFromProvider lists the usable domains of one provider. Failures
// are logged and collapse to an empty list so other providers still work.
func (a *API) FetchDomainsFromProvider(ctx context.Context, providerID string) []catalog.Domain {
	provider := a.registry.Resolve(providerID)
	log := a.log.WithField("provider", provider.ID)

	resp, err := a.caller.Do(ctx, upstream.Request{
		Method:   http.MethodGet,
		Path:     "/domains",
		Header:   http.Header{"Cache-Control": {"no-cache"}},
		Provider: provider,
		Auth:     upstream.AuthAPIKey,
	})
	if err != nil {
		log.WithError(err).Warn("⚠️ Failed to fetch domains")
		return []catalog.Domain{}
	}

	raw, _, err := decodeCollection[catalog.Domain](resp.Body)
	if err != nil {
		log.WithError(err).Warn("⚠️ Invalid domains payload")
		return []catalog.Domain{}
	}

	normalized := make([]catalog.Domain, 0, len(raw))
	for _, d := range raw {
		d = catalog.NormalizeDomain(provider.ID, d)
		d.ProviderID = provider.ID
		d.ProviderName = provider.Name
		normalized = append(normalized, d)
	}
	kept := catalog.FilterDomains(provider.ID, normalized)
	if dropped := len(normalized) - len(kept); dropped > 0 {
		log.Debugf("🚫 Filtered out %d unavailable domains", dropped)
	}
	return kept
}

// FetchAllDomains queries every enabled provider in parallel and returns the
// domains in provider order. The domain-to-provider map is cached for
// address inference.
func (a *API) FetchAllDomains(ctx context.Context) ([]catalog.Domain, error) {
	providers := a.registry.EnabledProviders()
	results := make([][]catalog.Domain, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			results[i] = a.FetchDomainsFromProvider(gctx, p.ID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []catalog.Domain
	cache := make([]catalog.CachedDomain, 0)
	for _, ds := range results {
		for _, d := range ds {
			all = append(all, d)
			cache = append(cache, catalog.CachedDomain{Domain: d.Domain, ProviderID: d.ProviderID})
		}
	}
	if all == nil {
		all = []catalog.Domain{}
	}

	if err := a.registry.CacheDomains(ctx, cache); err != nil {
		a.log.WithError(err).Warn("⚠️ Failed to cache domains")
	}
	a.log.Infof("✅ Loaded %d domains from %d providers", len(all), len(providers))
	return all, nil
}
