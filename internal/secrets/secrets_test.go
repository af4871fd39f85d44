package secrets

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
	"github.com/scoundrelhq/warchest/internal/storage"
)

type fakeSecretStore struct {
	records map[string]*storage.SecretRecord
}

func (f *fakeSecretStore) SecretRecord(_ context.Context, name string) (*storage.SecretRecord, error) {
	if rec, ok := f.records[name]; ok {
		return rec, nil
	}
	return nil, errs.E(errs.KindNotFound, "storage.secretRecord", "secret "+name)
}

func newTestProvider(t *testing.T, records map[string]*storage.SecretRecord, nodeEnv string) *Provider {
	t.Helper()
	p := NewProvider(&fakeSecretStore{records: records}, Config{
		KeychainService: "scoundrel-test",
		KeychainAccount: "wallet-master-key",
		NodeEnv:         nodeEnv,
	}, zap.NewNop())
	p.keyringGet = func(service, user string) (string, error) {
		return "", keyring.ErrNotFound
	}
	p.keyringSet = func(service, user, value string) error { return nil }
	return p
}

func TestResolveEnvSource(t *testing.T) {
	t.Setenv("WARCHEST_TEST_SECRET", "hunter2")

	p := newTestProvider(t, map[string]*storage.SecretRecord{
		"api": {Name: "api", KeySource: SourceEnv, Value: "WARCHEST_TEST_SECRET"},
	}, "production")

	got, err := p.Resolve(context.Background(), "api")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("got %q", got)
	}
}

func TestResolveEnvSourceMissingVar(t *testing.T) {
	p := newTestProvider(t, map[string]*storage.SecretRecord{
		"api": {Name: "api", KeySource: SourceEnv, Value: "WARCHEST_DEFINITELY_UNSET"},
	}, "production")

	if _, err := p.Resolve(context.Background(), "api"); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestResolveKeychainSourceDecryptsRecord(t *testing.T) {
	const master = "master-material"
	value, nonce, err := Seal(master, "signer-key-material")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	p := newTestProvider(t, map[string]*storage.SecretRecord{
		"signer": {Name: "signer", KeySource: SourceKeychain, Value: value, Nonce: nonce},
	}, "production")
	p.keyringGet = func(service, user string) (string, error) {
		if service != "scoundrel-test" || user != "wallet-master-key" {
			t.Errorf("unexpected keychain lookup %s/%s, want the master key entry", service, user)
		}
		return master, nil
	}

	got, err := p.Resolve(context.Background(), "signer")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "signer-key-material" {
		t.Errorf("got %q", got)
	}
}

func TestResolveDBEncryptedRoundTrip(t *testing.T) {
	const master = "master-material"
	value, nonce, err := Seal(master, "sealed-secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	p := newTestProvider(t, map[string]*storage.SecretRecord{
		"db": {Name: "db", KeySource: SourceDBEncrypted, Value: value, Nonce: nonce},
	}, "production")
	p.keyringGet = func(service, user string) (string, error) {
		return master, nil
	}

	got, err := p.Resolve(context.Background(), "db")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "sealed-secret" {
		t.Errorf("got %q", got)
	}
}

func TestResolveDBEncryptedTamperedCiphertext(t *testing.T) {
	const master = "master-material"
	value, nonce, err := Seal(master, "sealed-secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	p := newTestProvider(t, map[string]*storage.SecretRecord{
		"db": {Name: "db", KeySource: SourceDBEncrypted, Value: "AAAA" + value[4:], Nonce: nonce},
	}, "production")
	p.keyringGet = func(service, user string) (string, error) {
		return master, nil
	}

	if _, err := p.Resolve(context.Background(), "db"); !errs.Is(err, errs.KindIntegrity) {
		t.Errorf("expected Integrity, got %v", err)
	}
}

func TestResolveDBEncryptedWrongMasterKey(t *testing.T) {
	value, nonce, err := Seal("right-key", "sealed-secret")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	p := newTestProvider(t, map[string]*storage.SecretRecord{
		"db": {Name: "db", KeySource: SourceDBEncrypted, Value: value, Nonce: nonce},
	}, "production")
	p.keyringGet = func(service, user string) (string, error) {
		return "wrong-key", nil
	}

	if _, err := p.Resolve(context.Background(), "db"); !errs.Is(err, errs.KindIntegrity) {
		t.Errorf("expected Integrity, got %v", err)
	}
}

func TestResolvePlaintextDevGate(t *testing.T) {
	records := map[string]*storage.SecretRecord{
		"dev": {Name: "dev", KeySource: SourcePlaintextDev, Value: "dev-secret"},
	}

	prod := newTestProvider(t, records, "production")
	if _, err := prod.Resolve(context.Background(), "dev"); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("expected InvalidArgument in production, got %v", err)
	}

	// Only production refuses; development, test, and unset all serve.
	for _, env := range []string{"development", "test", ""} {
		p := newTestProvider(t, records, env)
		got, err := p.Resolve(context.Background(), "dev")
		if err != nil {
			t.Fatalf("NODE_ENV=%q: resolve failed: %v", env, err)
		}
		if got != "dev-secret" {
			t.Errorf("NODE_ENV=%q: got %q", env, got)
		}
	}
}

func TestMasterKeyMintedOnFirstUse(t *testing.T) {
	t.Setenv(masterKeyEnv, "")

	stored := map[string]string{}
	p := newTestProvider(t, nil, "production")
	p.keyringGet = func(service, user string) (string, error) {
		if v, ok := stored[service+"/"+user]; ok {
			return v, nil
		}
		return "", keyring.ErrNotFound
	}
	p.keyringSet = func(service, user, value string) error {
		stored[service+"/"+user] = value
		return nil
	}

	minted, err := p.masterKey()
	if err != nil {
		t.Fatalf("first masterKey call must mint a key: %v", err)
	}
	kept, ok := stored["scoundrel-test/wallet-master-key"]
	if !ok {
		t.Fatal("minted key was not stored in the keychain")
	}
	if kept != minted {
		t.Error("stored key differs from the returned one")
	}
	raw, err := base64.StdEncoding.DecodeString(minted)
	if err != nil || len(raw) != 32 {
		t.Errorf("minted key = %q, want 32 random bytes base64-encoded", minted)
	}

	again, err := p.masterKey()
	if err != nil {
		t.Fatalf("second masterKey call failed: %v", err)
	}
	if again != minted {
		t.Error("later calls must reuse the stored key, not mint another")
	}

	// The minted key seals and resolves a record end to end.
	value, nonce, err := Seal(minted, "round-trip")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	p.store = &fakeSecretStore{records: map[string]*storage.SecretRecord{
		"db": {Name: "db", KeySource: SourceDBEncrypted, Value: value, Nonce: nonce},
	}}
	got, err := p.Resolve(context.Background(), "db")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "round-trip" {
		t.Errorf("got %q", got)
	}
}

func TestResolveUnknownSource(t *testing.T) {
	p := newTestProvider(t, map[string]*storage.SecretRecord{
		"odd": {Name: "odd", KeySource: "hsm", Value: "x"},
	}, "production")

	_, err := p.Resolve(context.Background(), "odd")
	if !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestMasterKeyEnvOverride(t *testing.T) {
	t.Setenv(masterKeyEnv, "env-master")

	value, nonce, err := Seal("env-master", "sealed")
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	p := newTestProvider(t, map[string]*storage.SecretRecord{
		"db": {Name: "db", KeySource: SourceDBEncrypted, Value: value, Nonce: nonce},
	}, "production")
	// keyringGet still returns ErrNotFound; the env override must win.

	got, err := p.Resolve(context.Background(), "db")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if got != "sealed" {
		t.Errorf("got %q", got)
	}
}
