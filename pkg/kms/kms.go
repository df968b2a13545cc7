// Package kms encrypts confidential policy material before it reaches a state store.
//
// Keys are versioned: Rotate adds a new active key and keeps every older key, so
// values sealed before a rotation stay readable. Ciphertexts are "v<N>:<base64>".
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
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
)

// Manager defines the key management interface.
type Manager interface {
	// Encrypt encrypts plaintext, returning versioned ciphertext.
	Encrypt(plaintext string) (string, error)

	// Decrypt decrypts versioned ciphertext produced by Encrypt.
	Decrypt(ciphertext string) (string, error)

	// Rotate generates a new active key. Old keys remain for decryption.
	Rotate() (version int, err error)

	// ActiveVersion returns the current active key version.
	ActiveVersion() int
}

// keystore is the on-disk JSON format.
type keystore struct {
	ActiveVersion int               `json:"active_version"`
	Keys          map[string]string `json:"keys"` // version -> base64 32-byte key
}

// LocalKMS keeps AES-256-GCM keys in memory, optionally persisted to a 0600 file.
type LocalKMS struct {
	mu     sync.RWMutex
	active int
	keys   map[int][]byte
	path   string // empty: memory only
}

// NewMemoryKMS returns a KMS with a fresh random key that is never written to disk.
func NewMemoryKMS() (*LocalKMS, error) {
	k := &LocalKMS{keys: make(map[int][]byte)}
	if _, err := k.addKey(); err != nil {
		return nil, err
	}
	return k, nil
}

// OpenLocalKMS loads the keystore at path, creating it with a first key if absent.
func OpenLocalKMS(path string) (*LocalKMS, error) {
	k := &LocalKMS{keys: make(map[int][]byte), path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("kms: create dir: %w", err)
		}
		if _, err := k.addKey(); err != nil {
			return nil, err
		}
		if err := k.persist(); err != nil {
			return nil, err
		}
		return k, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kms: read keystore: %w", err)
	}

	var ks keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("kms: parse keystore: %w", err)
	}
	for vStr, encoded := range ks.Keys {
		v, err := strconv.Atoi(vStr)
		if err != nil {
			return nil, fmt.Errorf("kms: invalid version %q: %w", vStr, err)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("kms: decode key v%d: %w", v, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("kms: key v%d invalid length %d (need 32)", v, len(key))
		}
		k.keys[v] = key
	}
	if _, ok := k.keys[ks.ActiveVersion]; !ok {
		return nil, fmt.Errorf("kms: active version %d not in keystore", ks.ActiveVersion)
	}
	k.active = ks.ActiveVersion
	return k, nil
}

// Encrypt seals plaintext with the active key. The empty string stays empty.
func (k *LocalKMS) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	k.mu.RLock()
	version := k.active
	key := k.keys[version]
	k.mu.RUnlock()

	ct, err := seal(key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("v%d:%s", version, base64.StdEncoding.EncodeToString(ct)), nil
}

// Decrypt opens a value produced by Encrypt under any known key version.
func (k *LocalKMS) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	version, payload, err := parseVersioned(ciphertext)
	if err != nil {
		return "", err
	}

	k.mu.RLock()
	key, ok := k.keys[version]
	k.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("kms: unknown key version %d", version)
	}

	ct, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("kms: decode ciphertext: %w", err)
	}
	pt, err := open(key, ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Rotate adds a new active key version and persists the keystore.
func (k *LocalKMS) Rotate() (int, error) {
	v, err := k.addKey()
	if err != nil {
		return 0, err
	}
	if err := k.persist(); err != nil {
		return 0, err
	}
	return v, nil
}

// ActiveVersion returns the current active key version.
func (k *LocalKMS) ActiveVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

func (k *LocalKMS) addKey() (int, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return 0, fmt.Errorf("kms: generate key: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.active++
	k.keys[k.active] = key
	return k.active, nil
}

func (k *LocalKMS) persist() error {
	if k.path == "" {
		return nil
	}

	k.mu.RLock()
	ks := keystore{ActiveVersion: k.active, Keys: make(map[string]string, len(k.keys))}
	for v, key := range k.keys {
		ks.Keys[strconv.Itoa(v)] = base64.StdEncoding.EncodeToString(key)
	}
	k.mu.RUnlock()

	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return fmt.Errorf("kms: marshal keystore: %w", err)
	}
	if err := os.WriteFile(k.path, data, 0600); err != nil {
		return fmt.Errorf("kms: write keystore: %w", err)
	}
	return nil
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kms: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("kms: ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
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
		return 0, "", fmt.Errorf("kms: missing version prefix")
	}
	idx := strings.Index(s, ":")
	if idx < 2 {
		return 0, "", fmt.Errorf("kms: malformed versioned string")
	}
	v, err := strconv.Atoi(s[1:idx])
	if err != nil {
		return 0, "", fmt.Errorf("kms: parse version: %w", err)
	}
	return v, s[idx+1:], nil
}
