// Package aws provides the AWS SDK v2 adapter layer for the credential
// resolver: STS AssumeRole, SSO-OIDC token operations, and SSO role
// credential fetch, with rate limiting and audit logging.
package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"

	"github.com/credchain/credchain/internal/audit"
	"github.com/credchain/credchain/internal/core"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// AssumeRoleInput carries one hop of an assume-role chain. Credentials are
// the upstream (source profile) credentials the call is signed with.
type AssumeRoleInput struct {
	Credentials     core.Credentials
	Region          string
	RoleARN         string
	SessionName     string
	ExternalID      string
	MFASerial       string
	MFACode         string
	DurationSeconds int32
}

// STSAPI is the assume-role capability consumed by the resolver.
type STSAPI interface {
	AssumeRole(ctx context.Context, in AssumeRoleInput) (core.Credentials, error)
	GetCallerIdentity(ctx context.Context, creds core.Credentials, region string) (arn, account, userID string, err error)
}

// OIDCRegistration is a registered SSO-OIDC public client.
type OIDCRegistration struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// DeviceAuthorization is an in-flight device authorization grant.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	Interval                int32
	ExpiresIn               int32
}

// TokenOutput is the result of a CreateToken call.
type TokenOutput struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int32
}

// SSOOIDCAPI is the token-minting capability: device authorization for
// interactive login and refresh-token exchange for silent renewal.
type SSOOIDCAPI interface {
	RegisterClient(ctx context.Context, region, clientName string, scopes []string) (*OIDCRegistration, error)
	StartDeviceAuthorization(ctx context.Context, region string, reg *OIDCRegistration, startURL string) (*DeviceAuthorization, error)
	CreateTokenByDeviceCode(ctx context.Context, region string, reg *OIDCRegistration, deviceCode string) (*TokenOutput, error)
	CreateTokenByRefreshToken(ctx context.Context, region string, reg *OIDCRegistration, refreshToken string) (*TokenOutput, error)
}

// SSOAPI exchanges an SSO access token for short-lived role credentials.
type SSOAPI interface {
	GetRoleCredentials(ctx context.Context, region, accessToken, accountID, roleName string) (core.Credentials, error)
}

// ServiceClients bundles every external capability the resolver needs.
type ServiceClients interface {
	STSAPI
	SSOOIDCAPI
	SSOAPI
}

// ClientFactory creates rate-limited, audit-logged AWS service clients.
type ClientFactory struct {
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	auditLogger *audit.Logger
}

var _ ServiceClients = (*ClientFactory)(nil)

// NewClientFactory creates a factory. The audit logger may be nil.
func NewClientFactory(logger zerolog.Logger, al *audit.Logger) *ClientFactory {
	return &ClientFactory{
		rateLimiter: NewRateLimiter(10),
		logger:      logger,
		auditLogger: al,
	}
}

func (f *ClientFactory) awsConfig(creds core.Credentials, region string) aws.Config {
	return aws.Config{
		Region: region,
		Credentials: credentials.NewStaticCredentialsProvider(
			creds.AccessKeyID,
			creds.SecretAccessKey,
			creds.SessionToken,
		),
		RetryMaxAttempts: 5,
	}
}

// anonConfig is used for SSO-OIDC calls, which are unsigned.
func (f *ClientFactory) anonConfig(region string) aws.Config {
	return aws.Config{
		Region:           region,
		Credentials:      aws.AnonymousCredentials{},
		RetryMaxAttempts: 5,
	}
}

// logAPICall records an API call to the structured logger and the journal.
func (f *ClientFactory) logAPICall(service, operation string, params map[string]string, err error) {
	f.logger.Debug().Str("service", service).Str("operation", operation).Msg("aws api call")

	detail := map[string]string{"service": service, "operation": operation}
	for k, v := range params {
		detail[k] = v
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	f.auditLogger.Log(audit.EventAPICall, "", detail)
}

// AssumeRole calls STS AssumeRole for one chain hop.
func (f *ClientFactory) AssumeRole(ctx context.Context, in AssumeRoleInput) (core.Credentials, error) {
	f.rateLimiter.Wait("sts")

	client := sts.NewFromConfig(f.awsConfig(in.Credentials, in.Region))
	input := &sts.AssumeRoleInput{
		RoleArn:         &in.RoleARN,
		RoleSessionName: &in.SessionName,
	}
	if in.ExternalID != "" {
		input.ExternalId = &in.ExternalID
	}
	if in.MFASerial != "" {
		input.SerialNumber = &in.MFASerial
		input.TokenCode = &in.MFACode
	}
	if in.DurationSeconds > 0 {
		input.DurationSeconds = &in.DurationSeconds
	}

	out, err := client.AssumeRole(ctx, input)
	f.logAPICall("sts", "AssumeRole", map[string]string{"role_arn": in.RoleARN, "session_name": in.SessionName}, err)
	if err != nil {
		return core.Credentials{}, &core.UpstreamServiceError{Service: "sts", Operation: "AssumeRole", Err: err}
	}

	result := core.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
	}
	if out.Credentials.Expiration != nil {
		exp := *out.Credentials.Expiration
		result.Expiration = &exp
	}
	return result, nil
}

// GetCallerIdentity performs sts:GetCallerIdentity with the given credentials.
func (f *ClientFactory) GetCallerIdentity(ctx context.Context, creds core.Credentials, region string) (arn, account, userID string, err error) {
	f.rateLimiter.Wait("sts")

	client := sts.NewFromConfig(f.awsConfig(creds, region))
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	f.logAPICall("sts", "GetCallerIdentity", nil, err)
	if err != nil {
		return "", "", "", &core.UpstreamServiceError{Service: "sts", Operation: "GetCallerIdentity", Err: err}
	}
	return aws.ToString(out.Arn), aws.ToString(out.Account), aws.ToString(out.UserId), nil
}

// RegisterClient registers a public SSO-OIDC client for device authorization.
func (f *ClientFactory) RegisterClient(ctx context.Context, region, clientName string, scopes []string) (*OIDCRegistration, error) {
	f.rateLimiter.Wait("sso-oidc")

	client := ssooidc.NewFromConfig(f.anonConfig(region))
	clientType := "public"
	out, err := client.RegisterClient(ctx, &ssooidc.RegisterClientInput{
		ClientName: &clientName,
		ClientType: &clientType,
		Scopes:     scopes,
	})
	f.logAPICall("sso-oidc", "RegisterClient", map[string]string{"client_name": clientName}, err)
	if err != nil {
		return nil, &core.UpstreamServiceError{Service: "sso-oidc", Operation: "RegisterClient", Err: err}
	}

	return &OIDCRegistration{
		ClientID:     aws.ToString(out.ClientId),
		ClientSecret: aws.ToString(out.ClientSecret),
		ExpiresAt:    time.Unix(out.ClientSecretExpiresAt, 0),
	}, nil
}

// StartDeviceAuthorization begins the device grant for the given start URL.
func (f *ClientFactory) StartDeviceAuthorization(ctx context.Context, region string, reg *OIDCRegistration, startURL string) (*DeviceAuthorization, error) {
	f.rateLimiter.Wait("sso-oidc")

	client := ssooidc.NewFromConfig(f.anonConfig(region))
	out, err := client.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     &reg.ClientID,
		ClientSecret: &reg.ClientSecret,
		StartUrl:     &startURL,
	})
	f.logAPICall("sso-oidc", "StartDeviceAuthorization", map[string]string{"start_url": startURL}, err)
	if err != nil {
		return nil, &core.UpstreamServiceError{Service: "sso-oidc", Operation: "StartDeviceAuthorization", Err: err}
	}

	return &DeviceAuthorization{
		DeviceCode:              aws.ToString(out.DeviceCode),
		UserCode:                aws.ToString(out.UserCode),
		VerificationURI:         aws.ToString(out.VerificationUri),
		VerificationURIComplete: aws.ToString(out.VerificationUriComplete),
		Interval:                out.Interval,
		ExpiresIn:               out.ExpiresIn,
	}, nil
}

// CreateTokenByDeviceCode exchanges a device code for tokens. While the
// user has not yet approved, the SDK surfaces AuthorizationPendingException;
// callers poll until approval or expiry.
func (f *ClientFactory) CreateTokenByDeviceCode(ctx context.Context, region string, reg *OIDCRegistration, deviceCode string) (*TokenOutput, error) {
	return f.createToken(ctx, region, reg, deviceGrantType, deviceCode, "")
}

// CreateTokenByRefreshToken silently renews an access token.
func (f *ClientFactory) CreateTokenByRefreshToken(ctx context.Context, region string, reg *OIDCRegistration, refreshToken string) (*TokenOutput, error) {
	return f.createToken(ctx, region, reg, "refresh_token", "", refreshToken)
}

func (f *ClientFactory) createToken(ctx context.Context, region string, reg *OIDCRegistration, grantType, deviceCode, refreshToken string) (*TokenOutput, error) {
	f.rateLimiter.Wait("sso-oidc")

	client := ssooidc.NewFromConfig(f.anonConfig(region))
	input := &ssooidc.CreateTokenInput{
		ClientId:     &reg.ClientID,
		ClientSecret: &reg.ClientSecret,
		GrantType:    &grantType,
	}
	if deviceCode != "" {
		input.DeviceCode = &deviceCode
	}
	if refreshToken != "" {
		input.RefreshToken = &refreshToken
	}

	out, err := client.CreateToken(ctx, input)
	f.logAPICall("sso-oidc", "CreateToken", map[string]string{"grant_type": grantType}, err)
	if err != nil {
		return nil, &core.UpstreamServiceError{Service: "sso-oidc", Operation: "CreateToken", Err: err}
	}

	return &TokenOutput{
		AccessToken:  aws.ToString(out.AccessToken),
		RefreshToken: aws.ToString(out.RefreshToken),
		ExpiresIn:    out.ExpiresIn,
	}, nil
}

// GetRoleCredentials exchanges an SSO access token for role credentials.
func (f *ClientFactory) GetRoleCredentials(ctx context.Context, region, accessToken, accountID, roleName string) (core.Credentials, error) {
	f.rateLimiter.Wait("sso")

	client := sso.NewFromConfig(f.anonConfig(region))
	out, err := client.GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
		AccessToken: &accessToken,
		AccountId:   &accountID,
		RoleName:    &roleName,
	})
	f.logAPICall("sso", "GetRoleCredentials", map[string]string{"account_id": accountID, "role_name": roleName}, err)
	if err != nil {
		return core.Credentials{}, &core.UpstreamServiceError{Service: "sso", Operation: "GetRoleCredentials", Err: err}
	}

	rc := out.RoleCredentials
	result := core.Credentials{
		AccessKeyID:     aws.ToString(rc.AccessKeyId),
		SecretAccessKey: aws.ToString(rc.SecretAccessKey),
		SessionToken:    aws.ToString(rc.SessionToken),
	}
	if rc.Expiration > 0 {
		exp := time.UnixMilli(rc.Expiration)
		result.Expiration = &exp
	}
	return result, nil
}

// --- Rate Limiter ---

// RateLimiter spaces calls per service to at most ratePerSec.
type RateLimiter struct {
	mu         sync.Mutex
	ratePerSec int
	lastCall   map[string]time.Time
}

func NewRateLimiter(ratePerSec int) *RateLimiter {
	return &RateLimiter{
		ratePerSec: ratePerSec,
		lastCall:   make(map[string]time.Time),
	}
}

func (rl *RateLimiter) Wait(service string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	minInterval := time.Second / time.Duration(rl.ratePerSec)
	last, ok := rl.lastCall[service]
	if ok {
		elapsed := time.Since(last)
		if elapsed < minInterval {
			time.Sleep(minInterval - elapsed)
		}
	}
	rl.lastCall[service] = time.Now()
}

// FormatUserPrompt renders the device-authorization instructions shown to
// the user during an interactive login.
func (d *DeviceAuthorization) FormatUserPrompt() string {
	if d.VerificationURIComplete != "" {
		return fmt.Sprintf("Open %s to approve the request (code %s)", d.VerificationURIComplete, d.UserCode)
	}
	return fmt.Sprintf("Open %s and enter code %s", d.VerificationURI, d.UserCode)
}
