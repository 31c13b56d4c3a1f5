// service.go implements the daemon API service layer. It is the business
// logic both the gRPC handler and direct CLI access go through.
package rpc

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/credchain/credchain/internal/audit"
	"github.com/credchain/credchain/internal/resolve"
)

// Service is the unified API service backing the daemon socket.
type Service struct {
	manager     *resolve.Manager
	auditLogger *audit.Logger
	logger      zerolog.Logger
}

// NewService creates an API service over the given manager. auditLogger may
// be nil, in which case audit.verify reports an empty valid chain.
func NewService(manager *resolve.Manager, al *audit.Logger, logger zerolog.Logger) *Service {
	return &Service{
		manager:     manager,
		auditLogger: al,
		logger:      logger,
	}
}

// ProfileInfo is a transport-safe view of one resolvable profile.
type ProfileInfo struct {
	Name               string `json:"name"`
	DefaultRegion      string `json:"default_region,omitempty"`
	Kind               string `json:"kind"`
	UserActionRequired bool   `json:"user_action_required"`
}

// ListProfiles returns every resolvable profile sorted by name.
func (s *Service) ListProfiles() []ProfileInfo {
	ids := s.manager.Identifiers()
	result := make([]ProfileInfo, 0, len(ids))
	for _, id := range ids {
		info := ProfileInfo{
			Name:               id.ProfileName,
			DefaultRegion:      id.DefaultRegion,
			UserActionRequired: s.manager.UserActionRequired(id.ProfileName),
		}
		if prov := s.manager.Provider(id.ProfileName); prov != nil {
			info.Kind = string(prov.Kind())
		}
		result = append(result, info)
	}
	return result
}

// InvalidProfileInfo is one validation failure.
type InvalidProfileInfo struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// ListInvalidProfiles returns the validation failures of the current
// snapshot.
func (s *Service) ListInvalidProfiles() []InvalidProfileInfo {
	invalid := s.manager.InvalidProfiles()
	result := make([]InvalidProfileInfo, 0, len(invalid))
	for name, err := range invalid {
		result = append(result, InvalidProfileInfo{Name: name, Reason: err.Error()})
	}
	return result
}

// CredentialsInfo is the wire form of resolved credentials.
type CredentialsInfo struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
	Expiration      string `json:"expiration,omitempty"`
}

// ResolveCredentials resolves the named profile.
func (s *Service) ResolveCredentials(ctx context.Context, profileName string) (*CredentialsInfo, error) {
	creds, err := s.manager.Resolve(ctx, profileName)
	if err != nil {
		return nil, err
	}

	info := &CredentialsInfo{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
	}
	if creds.Expiration != nil {
		info.Expiration = creds.Expiration.Format(time.RFC3339)
	}
	return info, nil
}

// InvalidateCache drops cached credentials for one profile, or all when
// profileName is empty.
func (s *Service) InvalidateCache(profileName string) {
	s.manager.Invalidate(profileName)
}

// VerifyAuditChain checks the audit journal's hash chain.
func (s *Service) VerifyAuditChain() (bool, int, error) {
	if s.auditLogger == nil || s.auditLogger.DB() == nil {
		return true, 0, nil
	}
	return audit.Verify(s.auditLogger.DB())
}

// Reload forces a re-read of the profile files.
func (s *Service) Reload() error {
	return s.manager.Reload()
}
