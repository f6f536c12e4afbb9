// Package kms seals secrets at rest with versioned AES-256-GCM keys.
//
// Ciphertexts are rendered as "v<N>:<base64(nonce|ciphertext)>" so that old
// key versions stay usable for opening after a rotation. Each consumer works
// through a purpose-scoped view whose keys are derived with HKDF from the
// master keys, so a ciphertext sealed for one purpose never opens under
// another.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// ErrUnknownVersion is returned when a ciphertext names a key version the
// keystore does not hold.
var ErrUnknownVersion = errors.New("kms: unknown key version")

// Manager seals and opens secrets.
type Manager interface {
	// Seal encrypts plaintext bound to aad, returning "v<N>:<base64>".
	Seal(plaintext, aad []byte) (string, error)

	// Open reverses Seal. aad must match.
	Open(ciphertext string, aad []byte) ([]byte, error)

	// ActiveVersion returns the key version new ciphertexts use.
	ActiveVersion() int
}

// Keystore is the on-disk JSON format for persisted keys.
type Keystore struct {
	ActiveVersion int               `json:"active_version"`
	Keys          map[string]string `json:"keys"` // version -> base64 32-byte key
}

// LocalKMS holds master keys in memory, optionally persisted to a file.
type LocalKMS struct {
	mu    sync.RWMutex
	store Keystore
	path  string
	keys  map[int][]byte
}

// NewMemoryKMS returns a keystore with one fresh key that is never written
// to disk.
func NewMemoryKMS() (*LocalKMS, error) {
	k := &LocalKMS{keys: make(map[int][]byte)}
	if err := k.init(); err != nil {
		return nil, err
	}
	return k, nil
}

// NewLocalKMS loads or creates a keystore at path. A missing file is
// created with a fresh version-1 key.
func NewLocalKMS(path string) (*LocalKMS, error) {
	k := &LocalKMS{path: path, keys: make(map[int][]byte)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("kms: create dir: %w", err)
		}
		if err := k.init(); err != nil {
			return nil, err
		}
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kms: read keystore: %w", err)
	}

	if err := json.Unmarshal(data, &k.store); err != nil {
		return nil, fmt.Errorf("kms: parse keystore: %w", err)
	}
	for vStr, encoded := range k.store.Keys {
		v, err := strconv.Atoi(vStr)
		if err != nil {
			return nil, fmt.Errorf("kms: invalid version %q: %w", vStr, err)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("kms: decode key v%d: %w", v, err)
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("kms: key v%d invalid length %d (need %d)", v, len(key), keySize)
		}
		k.keys[v] = key
	}
	if _, ok := k.keys[k.store.ActiveVersion]; !ok {
		return nil, fmt.Errorf("kms: active version %d not in keystore", k.store.ActiveVersion)
	}
	return k, nil
}

func (k *LocalKMS) init() error {
	key, err := newKey()
	if err != nil {
		return err
	}
	k.store = Keystore{
		ActiveVersion: 1,
		Keys:          map[string]string{"1": base64.StdEncoding.EncodeToString(key)},
	}
	k.keys[1] = key
	return k.persist()
}

// Rotate generates a new active key. Older versions remain for Open.
func (k *LocalKMS) Rotate() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	key, err := newKey()
	if err != nil {
		return 0, err
	}
	v := k.store.ActiveVersion + 1
	k.store.Keys[strconv.Itoa(v)] = base64.StdEncoding.EncodeToString(key)
	k.store.ActiveVersion = v
	k.keys[v] = key

	if err := k.persist(); err != nil {
		return 0, err
	}
	return v, nil
}

// ActiveVersion returns the current active key version.
func (k *LocalKMS) ActiveVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.store.ActiveVersion
}

// Seal implements Manager with the unscoped master keys.
func (k *LocalKMS) Seal(plaintext, aad []byte) (string, error) {
	return k.seal("", plaintext, aad)
}

// Open implements Manager with the unscoped master keys.
func (k *LocalKMS) Open(ciphertext string, aad []byte) ([]byte, error) {
	return k.open("", ciphertext, aad)
}

// Scoped returns a Manager whose keys are derived for purpose.
func (k *LocalKMS) Scoped(purpose string) Manager {
	return scoped{kms: k, purpose: purpose}
}

type scoped struct {
	kms     *LocalKMS
	purpose string
}

func (s scoped) Seal(plaintext, aad []byte) (string, error) {
	return s.kms.seal(s.purpose, plaintext, aad)
}

func (s scoped) Open(ciphertext string, aad []byte) ([]byte, error) {
	return s.kms.open(s.purpose, ciphertext, aad)
}

func (s scoped) ActiveVersion() int { return s.kms.ActiveVersion() }

func (k *LocalKMS) seal(purpose string, plaintext, aad []byte) (string, error) {
	k.mu.RLock()
	v := k.store.ActiveVersion
	master := k.keys[v]
	k.mu.RUnlock()

	key, err := deriveKey(master, purpose)
	if err != nil {
		return "", err
	}
	ct, err := aesGCMEncrypt(key, plaintext, aad)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("v%d:%s", v, base64.StdEncoding.EncodeToString(ct)), nil
}

func (k *LocalKMS) open(purpose, ciphertext string, aad []byte) ([]byte, error) {
	v, payload, err := parseVersioned(ciphertext)
	if err != nil {
		return nil, err
	}

	k.mu.RLock()
	master, ok := k.keys[v]
	k.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownVersion, v)
	}

	ct, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("kms: decode ciphertext: %w", err)
	}
	key, err := deriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	return aesGCMDecrypt(key, ct, aad)
}

func (k *LocalKMS) persist() error {
	if k.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(k.store, "", "  ")
	if err != nil {
		return fmt.Errorf("kms: marshal keystore: %w", err)
	}
	if err := os.WriteFile(k.path, data, 0o600); err != nil {
		return fmt.Errorf("kms: write keystore: %w", err)
	}
	return nil
}

func newKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("kms: generate key: %w", err)
	}
	return key, nil
}

func deriveKey(master []byte, purpose string) ([]byte, error) {
	if purpose == "" {
		return master, nil
	}
	out := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte("scorevault/"+purpose)), out); err != nil {
		return nil, fmt.Errorf("kms: derive key: %w", err)
	}
	return out, nil
}

// --- AES-256-GCM helpers ---

func aesGCMEncrypt(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kms: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func aesGCMDecrypt(key, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("kms: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, fmt.Errorf("kms: open: %w", err)
	}
	return pt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}
	return gcm, nil
}

// parseVersioned splits "v<N>:<payload>" into (N, payload).
func parseVersioned(s string) (int, string, error) {
	if !strings.HasPrefix(s, "v") {
		return 0, "", fmt.Errorf("kms: missing version prefix in %q", s)
	}
	idx := strings.Index(s, ":")
	if idx < 2 {
		return 0, "", fmt.Errorf("kms: malformed versioned string %q", s)
	}
	v, err := strconv.Atoi(s[1:idx])
	if err != nil {
		return 0, "", fmt.Errorf("kms: parse version: %w", err)
	}
	return v, s[idx+1:], nil
}
