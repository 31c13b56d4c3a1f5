package rpc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	credaws "github.com/credchain/credchain/internal/aws"
	"github.com/credchain/credchain/internal/graph"
	"github.com/credchain/credchain/internal/profile"
	"github.com/credchain/credchain/internal/resolve"
	"github.com/credchain/credchain/internal/tokencache"
)

func setupTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config")
	credsPath := filepath.Join(dir, "credentials")

	config := `[profile broken]
role_arn = arn:aws:iam::123456789012:role/dev
source_profile = nope
`
	credentials := `[dev]
aws_access_key_id = AKIADEV
aws_secret_access_key = dev-secret
region = eu-central-1

[ops]
aws_access_key_id = AKIAOPS
aws_secret_access_key = ops-secret
`
	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if err := os.WriteFile(credsPath, []byte(credentials), 0o600); err != nil {
		t.Fatalf("writing credentials: %v", err)
	}

	clients := credaws.NewClientFactory(zerolog.Nop(), nil)
	resolver := resolve.NewResolver(clients, tokencache.NewMemoryCache(), nil, "us-east-1", zerolog.Nop(), nil)
	store := profile.NewStore(configPath, credsPath, zerolog.Nop())
	manager := resolve.NewManager(store, graph.NewValidator(zerolog.Nop()), resolver, zerolog.Nop(), nil)
	if err := manager.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	return NewService(manager, nil, zerolog.Nop())
}

func TestServiceListProfiles(t *testing.T) {
	svc := setupTestService(t)

	profiles := svc.ListProfiles()
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %+v", profiles)
	}
	if profiles[0].Name != "dev" || profiles[1].Name != "ops" {
		t.Errorf("profiles not sorted: %+v", profiles)
	}
	if profiles[0].Kind != "static" {
		t.Errorf("kind mismatch: %+v", profiles[0])
	}
	if profiles[0].DefaultRegion != "eu-central-1" {
		t.Errorf("region mismatch: %+v", profiles[0])
	}
	if profiles[0].UserActionRequired {
		t.Error("static profile should not require user action")
	}
}

func TestServiceListInvalidProfiles(t *testing.T) {
	svc := setupTestService(t)

	invalid := svc.ListInvalidProfiles()
	if len(invalid) != 1 || invalid[0].Name != "broken" {
		t.Fatalf("expected broken in invalid set, got %+v", invalid)
	}
	if !strings.Contains(invalid[0].Reason, "does not exist") {
		t.Errorf("reason mismatch: %q", invalid[0].Reason)
	}
}

func TestServiceResolveCredentials(t *testing.T) {
	svc := setupTestService(t)

	info, err := svc.ResolveCredentials(context.Background(), "dev")
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if info.AccessKeyID != "AKIADEV" || info.SecretAccessKey != "dev-secret" {
		t.Errorf("credentials mismatch: %+v", info)
	}
	if info.Expiration != "" {
		t.Errorf("static credentials should carry no expiration: %+v", info)
	}

	if _, err := svc.ResolveCredentials(context.Background(), "broken"); err == nil {
		t.Error("expected error for invalid profile")
	}
}

func TestServiceVerifyAuditWithoutJournal(t *testing.T) {
	svc := setupTestService(t)

	valid, count, err := svc.VerifyAuditChain()
	if err != nil || !valid || count != 0 {
		t.Errorf("expected empty valid chain, got valid=%v count=%d err=%v", valid, count, err)
	}
}

func TestHandlerDispatch(t *testing.T) {
	svc := setupTestService(t)
	h := NewHandler(svc)

	resp := h.Handle(context.Background(), &RPCRequest{Method: "profiles.list"})
	if resp.Error != "" {
		t.Fatalf("profiles.list error: %s", resp.Error)
	}
	var profiles []ProfileInfo
	if err := json.Unmarshal(resp.Result, &profiles); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(profiles) != 2 {
		t.Errorf("expected 2 profiles, got %+v", profiles)
	}

	params, _ := json.Marshal(profileParam{Profile: "dev"})
	resp = h.Handle(context.Background(), &RPCRequest{Method: "credentials.resolve", Params: params})
	if resp.Error != "" {
		t.Fatalf("credentials.resolve error: %s", resp.Error)
	}
	var creds CredentialsInfo
	if err := json.Unmarshal(resp.Result, &creds); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if creds.AccessKeyID != "AKIADEV" {
		t.Errorf("credentials mismatch: %+v", creds)
	}
}

func TestHandlerUnknownMethod(t *testing.T) {
	svc := setupTestService(t)
	h := NewHandler(svc)

	resp := h.Handle(context.Background(), &RPCRequest{Method: "nope.nothing"})
	if !strings.Contains(resp.Error, "unknown method") {
		t.Errorf("expected unknown method error, got %q", resp.Error)
	}
}

func TestHandlerResolveRequiresProfile(t *testing.T) {
	svc := setupTestService(t)
	h := NewHandler(svc)

	resp := h.Handle(context.Background(), &RPCRequest{Method: "credentials.resolve", Params: json.RawMessage(`{}`)})
	if !strings.Contains(resp.Error, "profile is required") {
		t.Errorf("expected missing-profile error, got %q", resp.Error)
	}
}

func TestHandlerCacheInvalidate(t *testing.T) {
	svc := setupTestService(t)
	h := NewHandler(svc)

	resp := h.Handle(context.Background(), &RPCRequest{Method: "cache.invalidate"})
	if resp.Error != "" {
		t.Fatalf("cache.invalidate error: %s", resp.Error)
	}
	var out map[string]bool
	if err := json.Unmarshal(resp.Result, &out); err != nil || !out["success"] {
		t.Errorf("unexpected result: %s", resp.Result)
	}
}

func TestHandlerCacheInvalidateRejectsMalformedParams(t *testing.T) {
	svc := setupTestService(t)
	h := NewHandler(svc)

	resp := h.Handle(context.Background(), &RPCRequest{Method: "cache.invalidate", Params: json.RawMessage(`{"profile":`)})
	if !strings.Contains(resp.Error, "invalid params") {
		t.Errorf("expected invalid params error, got %q", resp.Error)
	}

	params, _ := json.Marshal(profileParam{Profile: "dev"})
	resp = h.Handle(context.Background(), &RPCRequest{Method: "cache.invalidate", Params: params})
	if resp.Error != "" {
		t.Fatalf("targeted invalidate error: %s", resp.Error)
	}
}
