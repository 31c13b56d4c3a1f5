package profile

import (
	"github.com/credchain/credchain/internal/core"
)

// Classify determines which credential source a profile resolves through,
// applying the dispatch rules in order: credential_process, static/session
// keys, SSO, assume-role. The first matching rule wins. A rule that matches
// but is incomplete yields a MissingPropertyError (or a
// DanglingReferenceError for an unknown sso_session); a profile matching no
// rule is reported as missing aws_access_key_id.
func Classify(p *Profile, sessions map[string]*SSOSession) (core.ProviderKind, error) {
	if p.Has(KeyCredentialProc) {
		return core.ProviderProcess, nil
	}

	if !p.Has(KeyRoleARN) && (p.Has(KeyAccessKeyID) || p.Has(KeySecretAccessKey)) {
		if !p.Has(KeyAccessKeyID) {
			return "", &core.MissingPropertyError{Profile: p.Name, Property: KeyAccessKeyID}
		}
		if !p.Has(KeySecretAccessKey) {
			return "", &core.MissingPropertyError{Profile: p.Name, Property: KeySecretAccessKey}
		}
		if p.Has(KeySessionToken) {
			return core.ProviderSession, nil
		}
		return core.ProviderStatic, nil
	}

	if p.Has(KeySSOSession) || p.Has(KeySSOStartURL) || p.Has(KeySSOAccountID) || p.Has(KeySSORoleName) {
		if _, err := SSOConfigFor(p, sessions); err != nil {
			return "", err
		}
		return core.ProviderSSO, nil
	}

	if p.Has(KeyRoleARN) {
		if !p.Has(KeySourceProfile) {
			return "", &core.MissingPropertyError{Profile: p.Name, Property: KeySourceProfile}
		}
		return core.ProviderAssumeRole, nil
	}

	return "", &core.MissingPropertyError{Profile: p.Name, Property: KeyAccessKeyID}
}

// SSOConfig is the fully inherited SSO configuration of a profile: values
// set on the profile win over values from its sso-session section.
type SSOConfig struct {
	StartURL  string
	Region    string
	AccountID string
	RoleName  string
	// Scopes carried by the sso-session registration, if any.
	Scopes []string
}

// SSOConfigFor merges a profile's SSO properties with its referenced
// sso-session section and validates completeness.
func SSOConfigFor(p *Profile, sessions map[string]*SSOSession) (*SSOConfig, error) {
	cfg := &SSOConfig{
		StartURL:  p.Get(KeySSOStartURL),
		Region:    p.Get(KeySSORegion),
		AccountID: p.Get(KeySSOAccountID),
		RoleName:  p.Get(KeySSORoleName),
	}

	if ref := p.Get(KeySSOSession); ref != "" {
		session, ok := sessions[ref]
		if !ok {
			return nil, &core.DanglingReferenceError{Profile: p.Name, Reference: ref, Kind: "sso-session"}
		}
		if cfg.StartURL == "" {
			cfg.StartURL = session.StartURL()
		}
		if cfg.Region == "" {
			cfg.Region = session.Region()
		}
	}

	switch {
	case cfg.StartURL == "":
		return nil, &core.MissingPropertyError{Profile: p.Name, Property: KeySSOStartURL}
	case cfg.Region == "":
		return nil, &core.MissingPropertyError{Profile: p.Name, Property: KeySSORegion}
	case cfg.AccountID == "":
		return nil, &core.MissingPropertyError{Profile: p.Name, Property: KeySSOAccountID}
	case cfg.RoleName == "":
		return nil, &core.MissingPropertyError{Profile: p.Name, Property: KeySSORoleName}
	}

	return cfg, nil
}
