package catalog

import "strings"

// Domain is a mail domain as returned by a provider, after normalization.
type Domain struct {
	ID         string `json:"id,omitempty"`
	Domain     string `json:"domain"`
	DomainName string `json:"domainName,omitempty"`
	IsActive   bool   `json:"isActive"`
	IsPrivate  bool   `json:"isPrivate"`
	IsVerified bool   `json:"isVerified,omitempty"`
	IsPublic   *bool  `json:"isPublic,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`

	ProviderID   string `json:"providerId,omitempty"`
	ProviderName string `json:"providerName,omitempty"`
}

// DomainFilter decides whether a provider's domain is usable for new accounts.
type DomainFilter func(Domain) bool

// DuckMail lists unverified and suspended domains; only verified active ones accept mail.
var domainFilters = map[string]DomainFilter{
	ProviderDuckMail: func(d Domain) bool { return d.IsVerified && d.IsActive },
}

// FilterDomains keeps the domains accepted by the provider's predicate.
// Providers without a predicate keep everything.
func FilterDomains(providerID string, domains []Domain) []Domain {
	filter, ok := domainFilters[providerID]
	if !ok {
		return domains
	}
	kept := make([]Domain, 0, len(domains))
	for _, d := range domains {
		if filter(d) {
			kept = append(kept, d)
		}
	}
	return kept
}

// NormalizeDomain fills Domain and IsPrivate from provider-specific field names.
func NormalizeDomain(providerID string, d Domain) Domain {
	if providerID == ProviderDuckMail {
		if d.DomainName != "" {
			d.Domain = d.DomainName
		}
		if d.IsPublic != nil && !*d.IsPublic {
			d.IsPrivate = true
		}
	} else if d.Domain == "" {
		d.Domain = d.DomainName
	}
	d.Domain = strings.TrimSpace(d.Domain)
	return d
}
