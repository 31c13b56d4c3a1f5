package graph

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/credchain/credchain/internal/core"
	"github.com/credchain/credchain/internal/profile"
)

func mkProfile(name string, props map[string]string) *profile.Profile {
	return &profile.Profile{Name: name, Properties: props}
}

func fileSet(profiles ...*profile.Profile) *profile.FileSet {
	fs := &profile.FileSet{
		Profiles:    make(map[string]*profile.Profile),
		SSOSessions: make(map[string]*profile.SSOSession),
	}
	for _, p := range profiles {
		fs.Profiles[p.Name] = p
	}
	return fs
}

func staticProfile(name string) *profile.Profile {
	return mkProfile(name, map[string]string{
		profile.KeyAccessKeyID:     "AKID",
		profile.KeySecretAccessKey: "secret",
	})
}

func validate(fs *profile.FileSet) *Result {
	return NewValidator(zerolog.Nop()).Validate(fs)
}

func TestValidStaticProfile(t *testing.T) {
	res := validate(fileSet(staticProfile("plain")))
	if len(res.Invalid) != 0 {
		t.Fatalf("unexpected invalid: %v", res.Invalid)
	}
	if _, ok := res.Valid["plain"]; !ok {
		t.Error("static profile should be valid")
	}
}

func TestDanglingSourceProfile(t *testing.T) {
	res := validate(fileSet(mkProfile("role", map[string]string{
		profile.KeyRoleARN:       "arn1",
		profile.KeySourceProfile: "source_profile",
	})))

	if len(res.Valid) != 0 {
		t.Fatalf("expected empty valid set, got %v", res.Valid)
	}
	err, ok := res.Invalid["role"]
	if !ok {
		t.Fatal("expected 'role' in invalid set")
	}
	want := "Profile 'role' references source profile 'source_profile' which does not exist"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	var dangling *core.DanglingReferenceError
	if !errors.As(err, &dangling) {
		t.Errorf("expected DanglingReferenceError, got %T", err)
	}
}

func TestFourProfileCycle(t *testing.T) {
	res := validate(fileSet(
		mkProfile("role", map[string]string{profile.KeyRoleARN: "arn1", profile.KeySourceProfile: "source_profile"}),
		mkProfile("source_profile", map[string]string{profile.KeyRoleARN: "arn2", profile.KeySourceProfile: "source_profile2"}),
		mkProfile("source_profile2", map[string]string{profile.KeyRoleARN: "arn3", profile.KeySourceProfile: "source_profile3"}),
		mkProfile("source_profile3", map[string]string{profile.KeyRoleARN: "arn4", profile.KeySourceProfile: "source_profile"}),
	))

	err, ok := res.Invalid["role"]
	if !ok {
		t.Fatal("expected 'role' in invalid set")
	}
	want := "A circular profile dependency was found between role->source_profile->source_profile2->source_profile3->source_profile"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if len(res.Valid) != 0 {
		t.Errorf("all cycle members must be invalid, valid=%v", res.Valid)
	}
}

func TestSelfReference(t *testing.T) {
	res := validate(fileSet(
		mkProfile("role", map[string]string{profile.KeyRoleARN: "arn1", profile.KeySourceProfile: "role"}),
	))

	err, ok := res.Invalid["role"]
	if !ok {
		t.Fatal("expected self-referencing profile to be invalid")
	}
	want := "A circular profile dependency was found between role->role"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestRoleARNWithoutSourceProfile(t *testing.T) {
	res := validate(fileSet(mkProfile("role", map[string]string{profile.KeyRoleARN: "arn1"})))

	err, ok := res.Invalid["role"]
	if !ok {
		t.Fatal("expected 'role' invalid")
	}
	want := "Profile 'role' is missing required property 'source_profile'"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestMissingRequirementAppliesPerHop(t *testing.T) {
	// The intermediate hop sets role_arn without source_profile; both it
	// and the profile depending on it must be invalid.
	res := validate(fileSet(
		mkProfile("outer", map[string]string{profile.KeyRoleARN: "arn1", profile.KeySourceProfile: "inner"}),
		mkProfile("inner", map[string]string{profile.KeyRoleARN: "arn2"}),
	))

	if _, ok := res.Invalid["inner"]; !ok {
		t.Error("inner must be invalid on its own")
	}
	err, ok := res.Invalid["outer"]
	if !ok {
		t.Fatal("outer must inherit inner's failure")
	}
	var dep *core.DependencyError
	if !errors.As(err, &dep) {
		t.Fatalf("expected DependencyError, got %T: %v", err, err)
	}
	var missing *core.MissingPropertyError
	if !errors.As(core.RootReason(err), &missing) {
		t.Errorf("root reason should be the missing property, got %v", core.RootReason(err))
	}
}

func TestTransitiveInvalidation(t *testing.T) {
	res := validate(fileSet(
		mkProfile("a", map[string]string{profile.KeyRoleARN: "arnA", profile.KeySourceProfile: "b"}),
		mkProfile("b", map[string]string{profile.KeyRoleARN: "arnB", profile.KeySourceProfile: "c"}),
		mkProfile("c", map[string]string{profile.KeyRoleARN: "arnC", profile.KeySourceProfile: "missing"}),
		staticProfile("unrelated"),
	))

	for _, name := range []string{"a", "b", "c"} {
		if _, ok := res.Invalid[name]; !ok {
			t.Errorf("%s must be excluded from valid set", name)
		}
	}
	if _, ok := res.Valid["unrelated"]; !ok {
		t.Error("one failing chain must not affect unrelated profiles")
	}
}

func TestPartialStaticKeys(t *testing.T) {
	res := validate(fileSet(mkProfile("half", map[string]string{profile.KeyAccessKeyID: "AKID"})))

	err, ok := res.Invalid["half"]
	if !ok {
		t.Fatal("expected profile with only an access key to be invalid")
	}
	var missing *core.MissingPropertyError
	if !errors.As(err, &missing) || missing.Property != profile.KeySecretAccessKey {
		t.Errorf("expected missing aws_secret_access_key, got %v", err)
	}
}

func TestDanglingSSOSessionReference(t *testing.T) {
	res := validate(fileSet(mkProfile("app", map[string]string{
		profile.KeySSOSession:   "corp",
		profile.KeySSOAccountID: "123456789012",
		profile.KeySSORoleName:  "Dev",
	})))

	err, ok := res.Invalid["app"]
	if !ok {
		t.Fatal("expected dangling sso_session to invalidate the profile")
	}
	var dangling *core.DanglingReferenceError
	if !errors.As(err, &dangling) || dangling.Kind != "sso-session" {
		t.Errorf("expected sso-session dangling reference, got %v", err)
	}
}

func TestValidSSOProfileViaSession(t *testing.T) {
	fs := fileSet(mkProfile("app", map[string]string{
		profile.KeySSOSession:   "corp",
		profile.KeySSOAccountID: "123456789012",
		profile.KeySSORoleName:  "Dev",
	}))
	fs.SSOSessions["corp"] = &profile.SSOSession{Name: "corp", Properties: map[string]string{
		profile.KeySSOStartURL: "https://corp.awsapps.com/start",
		profile.KeySSORegion:   "us-east-1",
	}}

	res := validate(fs)
	if _, ok := res.Valid["app"]; !ok {
		t.Errorf("expected valid SSO profile, invalid=%v", res.Invalid)
	}
}

func TestValidationOrderIndependence(t *testing.T) {
	build := func() *profile.FileSet {
		return fileSet(
			mkProfile("a", map[string]string{profile.KeyRoleARN: "arnA", profile.KeySourceProfile: "b"}),
			mkProfile("b", map[string]string{profile.KeyRoleARN: "arnB", profile.KeySourceProfile: "a"}),
			mkProfile("c", map[string]string{profile.KeyRoleARN: "arnC", profile.KeySourceProfile: "gone"}),
			staticProfile("d"),
			mkProfile("e", map[string]string{profile.KeyRoleARN: "arnE", profile.KeySourceProfile: "c"}),
		)
	}

	baseline := validate(build())
	for i := 0; i < 50; i++ {
		res := validate(build())
		if len(res.Valid) != len(baseline.Valid) || len(res.Invalid) != len(baseline.Invalid) {
			t.Fatalf("partition size changed on run %d", i)
		}
		for name, err := range baseline.Invalid {
			got, ok := res.Invalid[name]
			if !ok {
				t.Fatalf("run %d: %s missing from invalid set", i, name)
			}
			if got.Error() != err.Error() {
				t.Fatalf("run %d: %s reason changed: %q vs %q", i, name, got.Error(), err.Error())
			}
		}
	}
}

func TestChainDepth(t *testing.T) {
	fs := fileSet(
		staticProfile("base"),
		mkProfile("hop1", map[string]string{profile.KeyRoleARN: "arn1", profile.KeySourceProfile: "base"}),
		mkProfile("hop2", map[string]string{profile.KeyRoleARN: "arn2", profile.KeySourceProfile: "hop1"}),
	)
	if d := ChainDepth("hop2", fs.Profiles); d != 2 {
		t.Errorf("ChainDepth(hop2) = %d, want 2", d)
	}
	if d := ChainDepth("base", fs.Profiles); d != 0 {
		t.Errorf("ChainDepth(base) = %d, want 0", d)
	}
}
