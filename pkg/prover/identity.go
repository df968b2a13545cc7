package prover

import (
	"crypto/ed25519"
	"fmt"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

// SigningKey derives the instance's attestation key. It is recomputed on every
// call and never held in service state.
func (s *Service) SigningKey() (ed25519.PrivateKey, error) {
	key, err := s.keys.DeriveKey(crypto.LabelSigner)
	if err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

// PubKey returns the public half of the signing key.
func (s *Service) PubKey() ([]byte, error) {
	key, err := s.SigningKey()
	if err != nil {
		return nil, err
	}
	return key.Public().(ed25519.PublicKey), nil
}

// HashCode is the content hash used for allow-lists, per-code secrets and
// attestations alike.
func (s *Service) HashCode(code []byte) crypto.Hash {
	return crypto.HashCode(code)
}

// SealKey returns the X25519 public key callers seal per-call secrets to.
func (s *Service) SealKey() ([]byte, error) {
	opener, err := crypto.NewSecretOpener(s.keys)
	if err != nil {
		return nil, err
	}
	return opener.PublicKey()
}

// OpenSecret decrypts a secret sealed to SealKey.
func (s *Service) OpenSecret(sealed []byte) (string, error) {
	opener, err := crypto.NewSecretOpener(s.keys)
	if err != nil {
		return "", err
	}
	return opener.Open(sealed)
}
