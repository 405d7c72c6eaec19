// Package policy evaluates the instance's federation trust policy: whether a
// remote URL may be exchanged with, based on the site-wide federation toggle
// and the allow/block domain lists.
package policy

import (
	"context"
	"net/url"
	"strings"

	dErrors "agora/pkg/domain-errors"
)

// Snapshot is an immutable view of the trust policy. Domain comparisons are
// case-insensitive; sets are lowercased at construction and never mutated.
type Snapshot struct {
	FederationEnabled bool
	blocked           map[string]struct{}
	allowed           map[string]struct{}
}

// NewSnapshot builds a snapshot from raw domain lists.
func NewSnapshot(federationEnabled bool, blocked, allowed []string) Snapshot {
	return Snapshot{
		FederationEnabled: federationEnabled,
		blocked:           lowerSet(blocked),
		allowed:           lowerSet(allowed),
	}
}

func lowerSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if d == "" {
			continue
		}
		set[strings.ToLower(d)] = struct{}{}
	}
	return set
}

// Blocked reports whether domain is block-listed.
func (s Snapshot) Blocked(domain string) bool {
	_, ok := s.blocked[strings.ToLower(domain)]
	return ok
}

// Allowed reports whether domain is allow-listed.
func (s Snapshot) Allowed(domain string) bool {
	_, ok := s.allowed[strings.ToLower(domain)]
	return ok
}

// HasAllowList reports whether the allow list is active (non-empty).
func (s Snapshot) HasAllowList() bool { return len(s.allowed) > 0 }

// BlockedDomains returns the block list for the admin API.
func (s Snapshot) BlockedDomains() []string { return setToSlice(s.blocked) }

// AllowedDomains returns the allow list for the admin API.
func (s Snapshot) AllowedDomains() []string { return setToSlice(s.allowed) }

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	return out
}

// Check decides whether rawURL is allowed for sending or receiving under the
// snapshot. First match wins:
//
//  1. no parseable domain
//  2. local host: always trusted, lists never apply
//  3. federation disabled site-wide
//  4. domain block-listed
//  5. allow list active and domain not on it
//  6. strict mode (actor/community class objects only): domain must be in
//     allow list or local when the allow list is active
//
// Pure function of the snapshot; used for both inbound gating and outbound
// recipient filtering.
func Check(snap Snapshot, localHost, rawURL string, strict bool) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return dErrors.Newf(dErrors.CodeURLWithoutDomain, "url %q has no domain", rawURL)
	}
	domain := strings.ToLower(u.Hostname())
	local := strings.EqualFold(domain, localHost)

	if local {
		return nil
	}
	if !snap.FederationEnabled {
		return dErrors.New(dErrors.CodeFederationDisabled, "federation is disabled")
	}
	if snap.Blocked(domain) {
		return dErrors.Newf(dErrors.CodeDomainBlocked, "domain %q is blocked", domain)
	}
	if snap.HasAllowList() && !snap.Allowed(domain) {
		return dErrors.Newf(dErrors.CodeDomainNotInAllowList, "domain %q is not in allowlist", domain)
	}
	if strict && snap.HasAllowList() && !snap.Allowed(domain) && !local {
		return dErrors.New(dErrors.CodeStrictAllowList, "strict allowlist rejects this domain")
	}
	return nil
}

// Validator binds the cache and local hostname so callers validate with a
// single call. It is shared read-mostly across the engine.
type Validator struct {
	cache     *Cache
	localHost string
}

// NewValidator creates a Validator over the given cache.
func NewValidator(cache *Cache, localHost string) *Validator {
	return &Validator{cache: cache, localHost: localHost}
}

// Validate fetches the current snapshot and applies Check.
func (v *Validator) Validate(ctx context.Context, rawURL string, strict bool) error {
	snap, err := v.cache.Get(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "load trust policy")
	}
	return Check(snap, v.localHost, rawURL, strict)
}

// LocalHost returns the local instance hostname the validator trusts
// unconditionally.
func (v *Validator) LocalHost() string { return v.localHost }
