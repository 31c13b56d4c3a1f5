// Package resolve turns validated profiles into AWS credentials. Each
// resolvable profile is backed by a provider that caches its last result
// until shortly before expiry; a manager owns the provider set, shares
// concurrent resolutions, and publishes change events across file reloads.
package resolve

import (
	"context"
	"sync"
	"time"

	"github.com/credchain/credchain/internal/core"
)

// expirySkew is how long before the stated expiration cached credentials
// are treated as stale and re-fetched.
const expirySkew = time.Minute

// fetchFunc produces fresh credentials for one profile.
type fetchFunc func(ctx context.Context) (core.Credentials, error)

// Provider is the cached credential source for a single profile. It is
// created by the manager for each profile in the valid set and retired when
// the profile is removed or modified.
type Provider struct {
	id    core.CredentialIdentifier
	kind  core.ProviderKind
	fetch fetchFunc

	mu      sync.Mutex
	cached  core.Credentials
	haveSet bool
	retired bool
}

func newProvider(id core.CredentialIdentifier, kind core.ProviderKind, fetch fetchFunc) *Provider {
	return &Provider{id: id, kind: kind, fetch: fetch}
}

// Identifier returns the provider's stable handle.
func (p *Provider) Identifier() core.CredentialIdentifier { return p.id }

// Kind returns the credential source this provider resolves through.
func (p *Provider) Kind() core.ProviderKind { return p.kind }

// Retrieve returns cached credentials when they are still comfortably
// inside their lifetime, fetching otherwise. A retired provider fails with
// ProviderNotFoundError regardless of what it had cached.
//
// The lock is never held across the fetch: a fetch can block on the network
// or on an MFA prompt, and retire/setFetch must not wait on it. Concurrent
// duplicate fetches are collapsed by the manager's singleflight layer above.
// A provider retired mid-fetch discards the fetched result.
func (p *Provider) Retrieve(ctx context.Context) (core.Credentials, error) {
	p.mu.Lock()
	if p.retired {
		p.mu.Unlock()
		return core.Credentials{}, &core.ProviderNotFoundError{Profile: p.id.ProfileName}
	}
	if p.haveSet && !p.cached.Expired(expirySkew) {
		creds := p.cached
		p.mu.Unlock()
		return creds, nil
	}
	fetch := p.fetch
	p.mu.Unlock()

	creds, err := fetch(ctx)
	if err != nil {
		return core.Credentials{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired {
		return core.Credentials{}, &core.ProviderNotFoundError{Profile: p.id.ProfileName}
	}
	p.cached = creds
	p.haveSet = true
	return creds, nil
}

// Invalidate drops any cached credentials, forcing the next Retrieve to
// fetch. The provider stays usable.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haveSet = false
	p.cached = core.Credentials{}
}

// setFetch swaps the fetch closure after a reload so it resolves against
// the current snapshot. Cached credentials are kept.
func (p *Provider) setFetch(fetch fetchFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetch = fetch
}

// retire permanently decommissions the provider after its profile is
// removed or changed. In-flight holders see ProviderNotFoundError next time.
func (p *Provider) retire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retired = true
	p.haveSet = false
	p.cached = core.Credentials{}
}
