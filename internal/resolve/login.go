package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	oidctypes "github.com/aws/aws-sdk-go-v2/service/ssooidc/types"

	"github.com/credchain/credchain/internal/audit"
	"github.com/credchain/credchain/internal/aws"
	"github.com/credchain/credchain/internal/profile"
	"github.com/credchain/credchain/internal/tokencache"
)

const oidcClientName = "credchain"

// defaultLoginScopes is requested when the sso-session carries no explicit
// scope list.
var defaultLoginScopes = []string{"sso:account:access"}

// Login runs the SSO device-authorization flow for the given configuration
// and caches the resulting token. notify receives the user-facing
// verification instructions; it must not block.
func (r *Resolver) Login(ctx context.Context, cfg *profile.SSOConfig, notify func(prompt string)) error {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultLoginScopes
	}

	reg, err := r.clients.RegisterClient(ctx, cfg.Region, oidcClientName, scopes)
	if err != nil {
		return err
	}

	auth, err := r.clients.StartDeviceAuthorization(ctx, cfg.Region, reg, cfg.StartURL)
	if err != nil {
		return err
	}
	if notify != nil {
		notify(auth.FormatUserPrompt())
	}

	out, err := r.pollForToken(ctx, cfg.Region, reg, auth)
	if err != nil {
		return err
	}

	token := &tokencache.Token{
		StartURL:              cfg.StartURL,
		Region:                cfg.Region,
		Scopes:                scopes,
		AccessToken:           out.AccessToken,
		RefreshToken:          out.RefreshToken,
		ExpiresAt:             time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
		ClientID:              reg.ClientID,
		ClientSecret:          reg.ClientSecret,
		RegistrationExpiresAt: reg.ExpiresAt,
	}
	if err := r.tokens.Store(tokencache.Key(cfg.StartURL, scopes), token); err != nil {
		return fmt.Errorf("caching sso token: %w", err)
	}

	r.logger.Info().Str("start_url", cfg.StartURL).Msg("sso login completed")
	r.auditLogger.Log(audit.EventLoginCompleted, "", map[string]string{"start_url": cfg.StartURL})
	return nil
}

// Logout removes the cached token for the given configuration.
func (r *Resolver) Logout(cfg *profile.SSOConfig) error {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultLoginScopes
	}
	return r.tokens.Invalidate(tokencache.Key(cfg.StartURL, scopes))
}

// pollForToken polls CreateToken at the server-directed interval until the
// user approves, the grant expires, or ctx is done.
func (r *Resolver) pollForToken(ctx context.Context, region string, reg *aws.OIDCRegistration, auth *aws.DeviceAuthorization) (*aws.TokenOutput, error) {
	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)

	for {
		out, err := r.clients.CreateTokenByDeviceCode(ctx, region, reg, auth.DeviceCode)
		if err == nil {
			return out, nil
		}

		var pending *oidctypes.AuthorizationPendingException
		var slowDown *oidctypes.SlowDownException
		switch {
		case errors.As(err, &slowDown):
			interval += 5 * time.Second
		case errors.As(err, &pending):
		default:
			return nil, err
		}

		if time.Now().Add(interval).After(deadline) {
			return nil, fmt.Errorf("device authorization expired before approval")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
