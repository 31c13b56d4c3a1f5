package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/credchain/credchain/internal/core"
)

func countingFetch(expiresIn time.Duration, calls *int) fetchFunc {
	return func(context.Context) (core.Credentials, error) {
		*calls++
		creds := core.Credentials{AccessKeyID: "AKIA", SecretAccessKey: "s"}
		if expiresIn != 0 {
			exp := time.Now().Add(expiresIn)
			creds.Expiration = &exp
		}
		return creds, nil
	}
}

func TestProviderCachesUnexpiringCredentials(t *testing.T) {
	calls := 0
	p := newProvider(core.CredentialIdentifier{ProfileName: "x"}, core.ProviderStatic, countingFetch(0, &calls))

	for i := 0; i < 3; i++ {
		if _, err := p.Retrieve(context.Background()); err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 fetch, got %d", calls)
	}
}

func TestProviderRefetchesNearExpiry(t *testing.T) {
	calls := 0
	// Expiration inside the skew window counts as stale immediately.
	p := newProvider(core.CredentialIdentifier{ProfileName: "x"}, core.ProviderAssumeRole, countingFetch(30*time.Second, &calls))

	p.Retrieve(context.Background())
	p.Retrieve(context.Background())
	if calls != 2 {
		t.Errorf("expected refetch within skew window, got %d calls", calls)
	}
}

func TestProviderInvalidateDropsCache(t *testing.T) {
	calls := 0
	p := newProvider(core.CredentialIdentifier{ProfileName: "x"}, core.ProviderStatic, countingFetch(0, &calls))

	p.Retrieve(context.Background())
	p.Invalidate()
	p.Retrieve(context.Background())
	if calls != 2 {
		t.Errorf("expected 2 fetches after invalidation, got %d", calls)
	}
}

func TestRetiredProviderFails(t *testing.T) {
	calls := 0
	p := newProvider(core.CredentialIdentifier{ProfileName: "x"}, core.ProviderStatic, countingFetch(0, &calls))

	p.Retrieve(context.Background())
	p.retire()

	_, err := p.Retrieve(context.Background())
	if !core.IsProviderNotFound(err) {
		t.Errorf("expected ProviderNotFoundError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("retired provider fetched anyway: %d calls", calls)
	}
}
