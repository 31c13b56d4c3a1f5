// Package core defines the foundational types for credchain: profile
// credentials, identifiers, and the error taxonomy shared by the store,
// validator, and resolver layers.
package core

import (
	"time"
)

// Credentials is a resolved credential triple plus optional expiry.
// SessionToken is empty for long-lived IAM user keys.
type Credentials struct {
	AccessKeyID     string     `json:"access_key_id"`
	SecretAccessKey string     `json:"secret_access_key"`
	SessionToken    string     `json:"session_token,omitempty"`
	Expiration      *time.Time `json:"expiration,omitempty"`
}

// Expired reports whether the credentials are past (or within skew of)
// their expiration. Credentials without an expiration never expire.
func (c Credentials) Expired(skew time.Duration) bool {
	if c.Expiration == nil {
		return false
	}
	return time.Now().Add(skew).After(*c.Expiration)
}

// ProviderKind enumerates the credential sources a profile can resolve to.
type ProviderKind string

const (
	ProviderStatic     ProviderKind = "static"
	ProviderSession    ProviderKind = "session"
	ProviderProcess    ProviderKind = "credential_process"
	ProviderSSO        ProviderKind = "sso"
	ProviderAssumeRole ProviderKind = "assume_role"
)

// CredentialIdentifier is a stable handle for a resolvable profile. It is
// independent of any resolved provider instance and survives file reloads
// for as long as the backing profile exists.
type CredentialIdentifier struct {
	ProfileName   string `json:"profile_name"`
	DefaultRegion string `json:"default_region,omitempty"`
	FactoryID     string `json:"factory_id"`
}

// CredentialsChangeEvent is the diff delivered to subscribers after a
// profile file reload settles. The three sets are disjoint.
type CredentialsChangeEvent struct {
	Added    []CredentialIdentifier `json:"added"`
	Modified []CredentialIdentifier `json:"modified"`
	Removed  []CredentialIdentifier `json:"removed"`
}

// Empty reports whether the event carries no changes.
func (e CredentialsChangeEvent) Empty() bool {
	return len(e.Added) == 0 && len(e.Modified) == 0 && len(e.Removed) == 0
}
