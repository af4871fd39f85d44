// Package secrets resolves named secrets from the operational DB. A
// record declares where its material lives: an environment variable, the
// OS keychain, AES-256-GCM ciphertext under the master key, or dev-only
// plaintext.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
	"github.com/scoundrelhq/warchest/internal/storage"
)

// Key sources a secret record may declare.
const (
	SourceEnv          = "env"
	SourceKeychain     = "keychain"
	SourceDBEncrypted  = "db_encrypted"
	SourcePlaintextDev = "plaintext_dev"
)

// masterKeyEnv overrides the keychain master key on headless hosts.
const masterKeyEnv = "WARCHEST_MASTER_KEY"

// ErrUnsupportedKeySource marks records whose key_source this build does
// not understand.
var ErrUnsupportedKeySource = errors.New("unsupported key source")

// Config carries the keychain coordinates and the environment gate for
// plaintext_dev records.
type Config struct {
	KeychainService string
	KeychainAccount string
	NodeEnv         string
}

// Provider resolves secret records into usable material.
type Provider struct {
	store  storage.SecretReader
	cfg    Config
	logger *zap.Logger

	// keyringGet and keyringSet are swappable for tests.
	keyringGet func(service, user string) (string, error)
	keyringSet func(service, user, value string) error
}

func NewProvider(store storage.SecretReader, cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		store:      store,
		cfg:        cfg,
		logger:     logger.Named("secrets"),
		keyringGet: keyring.Get,
		keyringSet: keyring.Set,
	}
}

// Resolve returns the secret material for name.
func (p *Provider) Resolve(ctx context.Context, name string) (string, error) {
	const op = "secrets.resolve"

	rec, err := p.store.SecretRecord(ctx, name)
	if err != nil {
		return "", err
	}

	switch rec.KeySource {
	case SourceEnv:
		v := os.Getenv(rec.Value)
		if v == "" {
			return "", errs.E(errs.KindNotFound, op,
				fmt.Sprintf("secret %q: env var %s is not set", name, rec.Value))
		}
		return v, nil

	// Both sources store ciphertext in the record; the keychain only ever
	// holds the master key.
	case SourceKeychain, SourceDBEncrypted:
		master, err := p.masterKey()
		if err != nil {
			return "", err
		}
		plain, err := Open(master, rec.Value, rec.Nonce)
		if err != nil {
			return "", errs.E(errs.KindIntegrity, op,
				fmt.Errorf("secret %q: %w", name, err))
		}
		return plain, nil

	case SourcePlaintextDev:
		if p.cfg.NodeEnv == "production" {
			return "", errs.E(errs.KindInvalidArgument, op,
				fmt.Errorf("secret %q: plaintext_dev in production: %w", name, ErrUnsupportedKeySource))
		}
		p.logger.Warn("Serving plaintext development secret", zap.String("name", name))
		return rec.Value, nil

	default:
		return "", errs.E(errs.KindInvalidArgument, op,
			fmt.Errorf("secret %q: key_source %q: %w", name, rec.KeySource, ErrUnsupportedKeySource))
	}
}

// masterKey loads the encryption master key: the env override first,
// then the OS keychain. On first use a random 256-bit key is minted and
// stored in the keychain.
func (p *Provider) masterKey() (string, error) {
	const op = "secrets.masterKey"

	if v := os.Getenv(masterKeyEnv); v != "" {
		return v, nil
	}
	v, err := p.keyringGet(p.cfg.KeychainService, p.cfg.KeychainAccount)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return "", errs.E(errs.KindUnavailable, op, err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errs.E(errs.KindUnavailable, op, fmt.Errorf("generate master key: %w", err))
	}
	key := base64.StdEncoding.EncodeToString(raw)
	if err := p.keyringSet(p.cfg.KeychainService, p.cfg.KeychainAccount, key); err != nil {
		return "", errs.E(errs.KindUnavailable, op, fmt.Errorf("store master key: %w", err))
	}
	p.logger.Info("Provisioned a new master key in the OS keychain",
		zap.String("service", p.cfg.KeychainService),
		zap.String("account", p.cfg.KeychainAccount))
	return key, nil
}

// Seal encrypts plaintext under the master key, returning base64
// ciphertext and the nonce for the secret record.
func Seal(master, plaintext string) (string, []byte, error) {
	gcm, err := newGCM(master)
	if err != nil {
		return "", nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", nil, fmt.Errorf("generate nonce: %w", err)
	}
	ct := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ct), nonce, nil
}

// Open decrypts base64 ciphertext sealed by Seal.
func Open(master, valueB64 string, nonce []byte) (string, error) {
	gcm, err := newGCM(master)
	if err != nil {
		return "", err
	}
	ct, err := base64.StdEncoding.DecodeString(valueB64)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("bad nonce length %d", len(nonce))
	}
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(pt), nil
}

// newGCM derives the AES-256 key from the master material.
func newGCM(master string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(master))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	return gcm, nil
}
