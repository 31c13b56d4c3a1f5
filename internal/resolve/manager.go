package resolve

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/credchain/credchain/internal/audit"
	"github.com/credchain/credchain/internal/core"
	"github.com/credchain/credchain/internal/graph"
	"github.com/credchain/credchain/internal/profile"
)

// subscriberBuffer is the per-subscriber event channel capacity. A
// subscriber that falls this far behind starts losing events rather than
// blocking reloads.
const subscriberBuffer = 16

// Manager owns the provider set over the lifetime of the process. It loads
// profile files, validates them, hands out cached providers, collapses
// concurrent resolutions of the same profile, and publishes change events
// when a reload alters the resolvable set.
type Manager struct {
	store       *profile.Store
	validator   *graph.Validator
	resolver    *Resolver
	logger      zerolog.Logger
	auditLogger *audit.Logger
	factoryID   string

	group singleflight.Group

	mu          sync.RWMutex
	snapshot    *graph.Result
	providers   map[string]*Provider
	version     uint64
	subscribers []chan core.CredentialsChangeEvent
}

// NewManager creates a manager. Call Load before first use.
func NewManager(store *profile.Store, validator *graph.Validator, resolver *Resolver, logger zerolog.Logger, al *audit.Logger) *Manager {
	return &Manager{
		store:       store,
		validator:   validator,
		resolver:    resolver,
		logger:      logger,
		auditLogger: al,
		factoryID:   uuid.NewString(),
		providers:   make(map[string]*Provider),
	}
}

// Load performs the initial file load and validation without emitting
// change events.
func (m *Manager) Load() error {
	fs, err := m.store.Load()
	if err != nil {
		return err
	}
	result := m.validator.Validate(fs)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = result
	m.version++
	for name, p := range result.Valid {
		m.providers[name] = m.newProviderLocked(name, p, result)
	}

	m.auditLogger.Log(audit.EventProfilesLoaded, "", map[string]int{
		"valid":   len(result.Valid),
		"invalid": len(result.Invalid),
	})
	return nil
}

// Reload re-reads the files, swaps the snapshot, retires providers whose
// resolution inputs changed or vanished, and notifies subscribers with the
// diff. An unchanged resolvable set produces no event.
func (m *Manager) Reload() error {
	fs, err := m.store.Load()
	if err != nil {
		return err
	}
	result := m.validator.Validate(fs)

	m.mu.Lock()
	old := m.snapshot
	if old == nil {
		old = &graph.Result{}
	}
	m.snapshot = result
	m.version++

	// A profile's resolution depends on every profile below it in the
	// source_profile chain and on its sso-session section, not just on its
	// own properties. A cached assume-role result derived from rotated base
	// keys must not survive the rotation.
	dirty := make(map[string]bool)
	var isDirty func(name string) bool
	isDirty = func(name string) bool {
		if d, ok := dirty[name]; ok {
			return d
		}
		p := result.Valid[name]
		oldProfile, existed := old.Valid[name]
		sessionRef := p.Get(profile.KeySSOSession)
		d := !existed ||
			!sameProperties(oldProfile, p) ||
			!sameSession(old.SSOSessions[sessionRef], result.SSOSessions[sessionRef])
		if !d {
			if source := p.Get(profile.KeySourceProfile); source != "" {
				d = isDirty(source)
			}
		}
		dirty[name] = d
		return d
	}

	var event core.CredentialsChangeEvent
	for name, p := range result.Valid {
		_, existed := old.Valid[name]
		switch {
		case !existed:
			m.providers[name] = m.newProviderLocked(name, p, result)
			event.Added = append(event.Added, m.providers[name].Identifier())
		case isDirty(name):
			m.providers[name].retire()
			m.providers[name] = m.newProviderLocked(name, p, result)
			event.Modified = append(event.Modified, m.providers[name].Identifier())
		default:
			// Unchanged profiles keep their provider and its cache, but
			// fetch closures must see the new snapshot.
			m.providers[name].setFetch(m.fetchFor(name, result))
		}
	}
	for name := range old.Valid {
		if _, stillValid := result.Valid[name]; !stillValid {
			prov := m.providers[name]
			prov.retire()
			delete(m.providers, name)
			event.Removed = append(event.Removed, prov.Identifier())
		}
	}

	subscribers := append([]chan core.CredentialsChangeEvent(nil), m.subscribers...)
	m.mu.Unlock()

	for name, err := range result.Invalid {
		m.auditLogger.Log(audit.EventProfileInvalid, name, err.Error())
	}

	if event.Empty() {
		return nil
	}

	sortIdentifiers(event.Added)
	sortIdentifiers(event.Modified)
	sortIdentifiers(event.Removed)

	m.logger.Info().
		Int("added", len(event.Added)).
		Int("modified", len(event.Modified)).
		Int("removed", len(event.Removed)).
		Msg("profile files reloaded")

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			m.logger.Warn().Msg("dropping change event for slow subscriber")
		}
	}
	return nil
}

func (m *Manager) newProviderLocked(name string, p *profile.Profile, snapshot *graph.Result) *Provider {
	kind, _ := profile.Classify(p, snapshot.SSOSessions)
	id := core.CredentialIdentifier{
		ProfileName:   name,
		DefaultRegion: p.Region(),
		FactoryID:     m.factoryID,
	}
	return newProvider(id, kind, m.fetchFor(name, snapshot))
}

func (m *Manager) fetchFor(name string, snapshot *graph.Result) fetchFunc {
	return func(ctx context.Context) (core.Credentials, error) {
		return m.resolver.Resolve(ctx, name, snapshot)
	}
}

// Resolve returns credentials for the named profile. Concurrent calls for
// the same profile share one underlying resolution.
func (m *Manager) Resolve(ctx context.Context, name string) (core.Credentials, error) {
	m.mu.RLock()
	prov, ok := m.providers[name]
	version := m.version
	m.mu.RUnlock()

	if !ok {
		return core.Credentials{}, &core.ProviderNotFoundError{Profile: name}
	}

	key := fmt.Sprintf("%s@%d", name, version)
	v, err, _ := m.group.Do(key, func() (any, error) {
		return prov.Retrieve(ctx)
	})
	if err != nil {
		if ctx.Err() != nil {
			return core.Credentials{}, ctx.Err()
		}
		return core.Credentials{}, err
	}
	return v.(core.Credentials), nil
}

// Provider returns the provider for a profile, nil when the profile is not
// resolvable.
func (m *Manager) Provider(name string) *Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[name]
}

// Identifiers lists the resolvable profiles sorted by name.
func (m *Manager) Identifiers() []core.CredentialIdentifier {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]core.CredentialIdentifier, 0, len(m.providers))
	for _, prov := range m.providers {
		ids = append(ids, prov.Identifier())
	}
	sortIdentifiers(ids)
	return ids
}

// InvalidProfiles returns the per-profile validation failures of the
// current snapshot.
func (m *Manager) InvalidProfiles() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snapshot == nil {
		return map[string]error{}
	}
	out := make(map[string]error, len(m.snapshot.Invalid))
	for name, err := range m.snapshot.Invalid {
		out[name] = err
	}
	return out
}

// Invalidate drops the cached credentials of one profile, or of every
// profile when name is empty.
func (m *Manager) Invalidate(name string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		for _, prov := range m.providers {
			prov.Invalidate()
		}
		m.auditLogger.Log(audit.EventProviderInvalidated, "", "all providers")
		return
	}
	if prov, ok := m.providers[name]; ok {
		prov.Invalidate()
		m.auditLogger.Log(audit.EventProviderInvalidated, name, nil)
	}
}

// Subscribe registers a change-event channel. The channel is buffered;
// events are dropped, not blocked on, when the subscriber lags.
func (m *Manager) Subscribe() <-chan core.CredentialsChangeEvent {
	ch := make(chan core.CredentialsChangeEvent, subscriberBuffer)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel registered with Subscribe and closes it.
func (m *Manager) Unsubscribe(ch <-chan core.CredentialsChangeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// UserActionRequired reports whether resolving the profile would need user
// interaction right now (SSO login or an MFA prompt with no prompter). It
// inspects local state only and never performs network calls.
func (m *Manager) UserActionRequired(name string) bool {
	m.mu.RLock()
	snapshot := m.snapshot
	m.mu.RUnlock()
	if snapshot == nil {
		return false
	}
	return m.resolver.UserActionRequired(name, snapshot)
}

func sameProperties(a, b *profile.Profile) bool {
	if len(a.Properties) != len(b.Properties) {
		return false
	}
	for k, v := range a.Properties {
		if b.Properties[k] != v {
			return false
		}
	}
	return true
}

func sameSession(a, b *profile.SSOSession) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Properties) != len(b.Properties) {
		return false
	}
	for k, v := range a.Properties {
		if b.Properties[k] != v {
			return false
		}
	}
	return true
}

func sortIdentifiers(ids []core.CredentialIdentifier) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].ProfileName < ids[j].ProfileName })
}
