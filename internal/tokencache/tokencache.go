// Package tokencache stores SSO access/refresh tokens keyed by start URL
// and scope set. Tokens live in per-key JSON documents; when a passphrase
// is configured they are sealed with AES-256-GCM under an Argon2id-derived
// key. No cached secret is ever shared across keys.
package tokencache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters: m=64MB, t=3, p=4.
	argonMemory  = 64 * 1024
	argonTime    = 3
	argonThreads = 4
	argonKeyLen  = 32

	saltLen = 32

	permDir  = 0o700
	permFile = 0o600
)

// Token is a cached SSO token plus the client registration that minted it,
// kept together so silent refresh can reuse the registration.
type Token struct {
	StartURL              string    `json:"start_url"`
	Region                string    `json:"region"`
	Scopes                []string  `json:"scopes,omitempty"`
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	ExpiresAt             time.Time `json:"expires_at"`
	ClientID              string    `json:"client_id,omitempty"`
	ClientSecret          string    `json:"client_secret,omitempty"`
	RegistrationExpiresAt time.Time `json:"registration_expires_at,omitempty"`
}

// Expired reports whether the access token is past its expiry.
func (t *Token) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// CanRefresh reports whether a silent renewal path exists.
func (t *Token) CanRefresh() bool {
	return t.RefreshToken != "" && t.ClientID != "" && t.ClientSecret != "" &&
		(t.RegistrationExpiresAt.IsZero() || time.Now().Before(t.RegistrationExpiresAt))
}

// Key derives the stable cache key for a start URL and scope set.
func Key(startURL string, scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(startURL + "\x00" + strings.Join(sorted, ",")))
	return hex.EncodeToString(h[:])
}

// Cache is the load/store/invalidate capability consumed by the resolver.
// Load returns (nil, nil) on a miss.
type Cache interface {
	Load(key string) (*Token, error)
	Store(key string, token *Token) error
	Invalidate(key string) error
	InvalidateAll() error
}

// --- File cache ---

// FileCache keeps one document per key under dir.
type FileCache struct {
	mu         sync.Mutex
	dir        string
	passphrase string
}

// sealedFile is the on-disk form of an encrypted token document.
type sealedFile struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// NewFileCache creates a cache rooted at dir. An empty passphrase stores
// tokens in the clear, matching the shared AWS CLI cache behavior.
func NewFileCache(dir, passphrase string) (*FileCache, error) {
	if err := os.MkdirAll(dir, permDir); err != nil {
		return nil, fmt.Errorf("creating token cache directory: %w", err)
	}
	return &FileCache{dir: dir, passphrase: passphrase}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *FileCache) Load(key string) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cached token: %w", err)
	}

	if c.passphrase != "" {
		data, err = c.unseal(data)
		if err != nil {
			return nil, err
		}
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parsing cached token: %w", err)
	}
	return &token, nil
}

func (c *FileCache) Store(key string, token *Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	if c.passphrase != "" {
		data, err = c.seal(data)
		if err != nil {
			return err
		}
	}

	return os.WriteFile(c.path(key), data, permFile)
}

func (c *FileCache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cached token: %w", err)
	}
	return nil
}

func (c *FileCache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("reading token cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// seal encrypts plaintext with AES-256-GCM under a fresh salt.
func (c *FileCache) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := c.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := sealedFile{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}
	return json.Marshal(sealed)
}

func (c *FileCache) unseal(data []byte) ([]byte, error) {
	var sealed sealedFile
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("parsing sealed token: %w", err)
	}

	gcm, err := c.cipherFor(sealed.Salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting cached token (wrong passphrase?): %w", err)
	}
	return plaintext, nil
}

func (c *FileCache) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(c.passphrase), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// --- Memory cache ---

// MemoryCache is a process-local cache for tests and memory-only mode.
type MemoryCache struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{tokens: make(map[string]*Token)}
}

func (c *MemoryCache) Load(key string) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[key]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (c *MemoryCache) Store(key string, token *Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *token
	c.tokens[key] = &copied
	return nil
}

func (c *MemoryCache) Invalidate(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, key)
	return nil
}

func (c *MemoryCache) InvalidateAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[string]*Token)
	return nil
}
