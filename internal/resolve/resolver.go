package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/credchain/credchain/internal/audit"
	"github.com/credchain/credchain/internal/aws"
	"github.com/credchain/credchain/internal/core"
	"github.com/credchain/credchain/internal/graph"
	"github.com/credchain/credchain/internal/profile"
	"github.com/credchain/credchain/internal/tokencache"
)

// defaultSessionPrefix names assume-role sessions when the profile does not
// set role_session_name.
const defaultSessionPrefix = "credchain-"

// processTimeout bounds a credential_process execution.
const processTimeout = 30 * time.Second

// MFAPrompter supplies a one-time code when an assume-role hop carries
// mfa_serial. Implementations may block on user input.
type MFAPrompter interface {
	PromptMFA(profileName, serial string) (string, error)
}

// Resolver walks a profile's dependency chain bottom-up and produces
// credentials for it. It is stateless across calls; caching lives in the
// providers above it.
type Resolver struct {
	clients       aws.ServiceClients
	tokens        tokencache.Cache
	mfa           MFAPrompter
	logger        zerolog.Logger
	auditLogger   *audit.Logger
	defaultRegion string
}

// NewResolver creates a resolver. mfa may be nil, in which case an MFA hop
// fails with InteractiveActionRequiredError. auditLogger may be nil.
func NewResolver(clients aws.ServiceClients, tokens tokencache.Cache, mfa MFAPrompter, defaultRegion string, logger zerolog.Logger, al *audit.Logger) *Resolver {
	return &Resolver{
		clients:       clients,
		tokens:        tokens,
		mfa:           mfa,
		logger:        logger,
		auditLogger:   al,
		defaultRegion: defaultRegion,
	}
}

// Resolve produces credentials for the named profile out of the validated
// snapshot. The valid set is acyclic, so the source_profile recursion
// terminates.
func (r *Resolver) Resolve(ctx context.Context, name string, snapshot *graph.Result) (core.Credentials, error) {
	p, ok := snapshot.Valid[name]
	if !ok {
		return core.Credentials{}, &core.ProviderNotFoundError{Profile: name}
	}

	kind, err := profile.Classify(p, snapshot.SSOSessions)
	if err != nil {
		// Unreachable for profiles in the valid set; kept as a guard
		// against a stale snapshot.
		return core.Credentials{}, err
	}

	var creds core.Credentials
	switch kind {
	case core.ProviderStatic, core.ProviderSession:
		creds = core.Credentials{
			AccessKeyID:     p.Get(profile.KeyAccessKeyID),
			SecretAccessKey: p.Get(profile.KeySecretAccessKey),
			SessionToken:    p.Get(profile.KeySessionToken),
		}
	case core.ProviderProcess:
		creds, err = r.resolveProcess(ctx, p)
	case core.ProviderSSO:
		creds, err = r.resolveSSO(ctx, p, snapshot.SSOSessions)
	case core.ProviderAssumeRole:
		creds, err = r.resolveAssumeRole(ctx, p, snapshot)
	default:
		return core.Credentials{}, &core.ProviderNotFoundError{Profile: name}
	}
	if err != nil {
		// A failure caused by cancellation is reported as the
		// cancellation, not as a provider error.
		if ctx.Err() != nil {
			return core.Credentials{}, ctx.Err()
		}
		return core.Credentials{}, err
	}

	r.logger.Debug().Str("profile", name).Str("kind", string(kind)).Msg("credentials resolved")
	r.auditLogger.Log(audit.EventCredentialsResolved, name, map[string]string{"kind": string(kind)})
	return creds, nil
}

// processOutput is the credential_process JSON contract.
type processOutput struct {
	Version         int    `json:"Version"`
	AccessKeyID     string `json:"AccessKeyId"`
	SecretAccessKey string `json:"SecretAccessKey"`
	SessionToken    string `json:"SessionToken"`
	Expiration      string `json:"Expiration"`
}

func (r *Resolver) resolveProcess(ctx context.Context, p *profile.Profile) (core.Credentials, error) {
	command := p.Get(profile.KeyCredentialProc)

	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return core.Credentials{}, &core.ProcessExecutionError{
			Command: command,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}

	var out processOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return core.Credentials{}, &core.ProcessExecutionError{
			Command: command,
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     fmt.Errorf("parsing output: %w", err),
		}
	}
	if out.AccessKeyID == "" || out.SecretAccessKey == "" {
		return core.Credentials{}, &core.ProcessExecutionError{
			Command: command,
			Err:     fmt.Errorf("output missing AccessKeyId or SecretAccessKey"),
		}
	}

	creds := core.Credentials{
		AccessKeyID:     out.AccessKeyID,
		SecretAccessKey: out.SecretAccessKey,
		SessionToken:    out.SessionToken,
	}
	if out.Expiration != "" {
		exp, err := time.Parse(time.RFC3339, out.Expiration)
		if err != nil {
			return core.Credentials{}, &core.ProcessExecutionError{
				Command: command,
				Err:     fmt.Errorf("parsing Expiration %q: %w", out.Expiration, err),
			}
		}
		creds.Expiration = &exp
	}
	return creds, nil
}

func (r *Resolver) resolveSSO(ctx context.Context, p *profile.Profile, sessions map[string]*profile.SSOSession) (core.Credentials, error) {
	cfg, err := profile.SSOConfigFor(p, sessions)
	if err != nil {
		return core.Credentials{}, err
	}

	token, err := r.accessToken(ctx, p.Name, cfg)
	if err != nil {
		return core.Credentials{}, err
	}

	return r.clients.GetRoleCredentials(ctx, cfg.Region, token, cfg.AccountID, cfg.RoleName)
}

// accessToken returns a live SSO access token for the start URL, refreshing
// silently when possible. A missing or unrefreshable token requires an
// interactive login and is reported as such, never attempted here.
func (r *Resolver) accessToken(ctx context.Context, profileName string, cfg *profile.SSOConfig) (string, error) {
	key := tokencache.Key(cfg.StartURL, cfg.Scopes)

	token, err := r.tokens.Load(key)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", &core.InteractiveActionRequiredError{
			Profile: profileName,
			Reason:  fmt.Sprintf("no cached SSO token for %s, run 'credchain login'", cfg.StartURL),
		}
	}
	if !token.Expired() {
		return token.AccessToken, nil
	}
	if !token.CanRefresh() {
		return "", &core.InteractiveActionRequiredError{
			Profile: profileName,
			Reason:  fmt.Sprintf("SSO token for %s expired, run 'credchain login'", cfg.StartURL),
		}
	}

	reg := &aws.OIDCRegistration{
		ClientID:     token.ClientID,
		ClientSecret: token.ClientSecret,
		ExpiresAt:    token.RegistrationExpiresAt,
	}
	refreshed, err := r.clients.CreateTokenByRefreshToken(ctx, cfg.Region, reg, token.RefreshToken)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Refresh is best-effort; a rejected refresh token means the user
		// has to log in again.
		r.logger.Warn().Str("profile", profileName).Err(err).Msg("sso token refresh failed")
		return "", &core.InteractiveActionRequiredError{
			Profile: profileName,
			Reason:  fmt.Sprintf("SSO token refresh for %s failed, run 'credchain login'", cfg.StartURL),
		}
	}

	token.AccessToken = refreshed.AccessToken
	if refreshed.RefreshToken != "" {
		token.RefreshToken = refreshed.RefreshToken
	}
	token.ExpiresAt = time.Now().Add(time.Duration(refreshed.ExpiresIn) * time.Second)
	if err := r.tokens.Store(key, token); err != nil {
		r.logger.Warn().Str("profile", profileName).Err(err).Msg("persisting refreshed sso token failed")
	}

	r.auditLogger.Log(audit.EventTokenRefreshed, profileName, map[string]string{"start_url": cfg.StartURL})
	return token.AccessToken, nil
}

func (r *Resolver) resolveAssumeRole(ctx context.Context, p *profile.Profile, snapshot *graph.Result) (core.Credentials, error) {
	source, err := r.Resolve(ctx, p.Get(profile.KeySourceProfile), snapshot)
	if err != nil {
		return core.Credentials{}, err
	}

	in := aws.AssumeRoleInput{
		Credentials: source,
		Region:      r.regionFor(p, snapshot),
		RoleARN:     p.Get(profile.KeyRoleARN),
		SessionName: p.Get(profile.KeyRoleSessionName),
		ExternalID:  p.Get(profile.KeyExternalID),
	}
	if in.SessionName == "" {
		in.SessionName = defaultSessionPrefix + uuid.NewString()
	}

	if serial := p.Get(profile.KeyMFASerial); serial != "" {
		if r.mfa == nil {
			return core.Credentials{}, &core.InteractiveActionRequiredError{
				Profile: p.Name,
				Reason:  fmt.Sprintf("MFA code for %s required but no prompt is available", serial),
			}
		}
		code, err := r.mfa.PromptMFA(p.Name, serial)
		if err != nil {
			return core.Credentials{}, &core.InteractiveActionRequiredError{
				Profile: p.Name,
				Reason:  fmt.Sprintf("MFA prompt failed: %v", err),
			}
		}
		in.MFASerial = serial
		in.MFACode = code
	}

	creds, err := r.clients.AssumeRole(ctx, in)
	if err != nil {
		return core.Credentials{}, err
	}

	r.auditLogger.Log(audit.EventAssumeRole, p.Name, map[string]string{
		"role_arn":     in.RoleARN,
		"session_name": in.SessionName,
	})
	return creds, nil
}

// UserActionRequired reports whether resolving the named profile would
// need user interaction, judging from local state only: an SSO chain with
// no live or refreshable cached token, or an MFA hop with no prompter.
func (r *Resolver) UserActionRequired(name string, snapshot *graph.Result) bool {
	for p := snapshot.Valid[name]; p != nil; p = snapshot.Valid[p.Get(profile.KeySourceProfile)] {
		kind, err := profile.Classify(p, snapshot.SSOSessions)
		if err != nil {
			return false
		}
		switch kind {
		case core.ProviderSSO:
			cfg, err := profile.SSOConfigFor(p, snapshot.SSOSessions)
			if err != nil {
				return false
			}
			token, err := r.tokens.Load(tokencache.Key(cfg.StartURL, cfg.Scopes))
			if err != nil || token == nil {
				return true
			}
			return token.Expired() && !token.CanRefresh()
		case core.ProviderAssumeRole:
			if p.Has(profile.KeyMFASerial) && r.mfa == nil {
				return true
			}
			continue
		}
		return false
	}
	return false
}

// regionFor picks the region an assume-role hop is issued in: the profile's
// own region, else the nearest region down the source chain, else the
// configured default.
func (r *Resolver) regionFor(p *profile.Profile, snapshot *graph.Result) string {
	current := p
	for current != nil {
		if region := current.Region(); region != "" {
			return region
		}
		current = snapshot.Valid[current.Get(profile.KeySourceProfile)]
	}
	return r.defaultRegion
}
