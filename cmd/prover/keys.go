package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// loadOrGenerateSeed reads a hex-encoded 32-byte seed from path, creating the
// file with a fresh seed when it does not exist.
func loadOrGenerateSeed(path string) ([]byte, error) {
	seed, err := readSeed(path)
	if err == nil {
		log.Printf("[prover] keys: loaded instance seed from %s", path)
		return seed, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	log.Printf("[prover] keys: generating new instance seed at %s", path)
	seed = make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	if err := writeSeed(path, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

func readSeed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid key file %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid key file %s: expected %d bytes, got %d", path, ed25519.SeedSize, len(seed))
	}
	return seed, nil
}

func writeSeed(path string, seed []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// readCallerKey loads a caller key written by keygen.
func readCallerKey(path string) (ed25519.PrivateKey, error) {
	seed, err := readSeed(path)
	if err != nil {
		return nil, fmt.Errorf("read caller key: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
