// Package profile loads AWS shared config/credentials files into a merged
// map of named profiles. Parsing is line-oriented: a malformed line produces
// a localized diagnostic, drops its section, and never aborts the rest of
// the file.
package profile

// Property keys recognized on a profile section.
const (
	KeyAccessKeyID     = "aws_access_key_id"
	KeySecretAccessKey = "aws_secret_access_key"
	KeySessionToken    = "aws_session_token"
	KeyCredentialProc  = "credential_process"
	KeyRoleARN         = "role_arn"
	KeySourceProfile   = "source_profile"
	KeyRoleSessionName = "role_session_name"
	KeyExternalID      = "external_id"
	KeyMFASerial       = "mfa_serial"
	KeySSOStartURL     = "sso_start_url"
	KeySSORegion       = "sso_region"
	KeySSOAccountID    = "sso_account_id"
	KeySSORoleName     = "sso_role_name"
	KeySSOSession      = "sso_session"
	KeyRegion          = "region"
)

// Profile is a named bag of string properties merged from the config and
// credentials files. Identity is the name.
type Profile struct {
	Name       string
	Properties map[string]string
}

// Get returns a property value, empty when absent.
func (p *Profile) Get(key string) string {
	return p.Properties[key]
}

// Has reports whether a property is set to a non-empty value.
func (p *Profile) Has(key string) bool {
	return p.Properties[key] != ""
}

// Region returns the profile's region property, empty when unset.
func (p *Profile) Region() string { return p.Get(KeyRegion) }

// clone returns a deep copy, used when merging the two file views.
func (p *Profile) clone() *Profile {
	props := make(map[string]string, len(p.Properties))
	for k, v := range p.Properties {
		props[k] = v
	}
	return &Profile{Name: p.Name, Properties: props}
}

// SSOSession is an [sso-session <name>] section from the config file.
// Profiles reference it via the sso_session property and inherit its
// sso_start_url and sso_region unless they set their own.
type SSOSession struct {
	Name       string
	Properties map[string]string
}

// StartURL returns the session's sso_start_url.
func (s *SSOSession) StartURL() string { return s.Properties[KeySSOStartURL] }

// Region returns the session's sso_region.
func (s *SSOSession) Region() string { return s.Properties[KeySSORegion] }
