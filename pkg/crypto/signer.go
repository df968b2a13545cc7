package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Signer produces signatures over raw bytes.
type Signer interface {
	Sign(data []byte) []byte
	PublicKeyBytes() []byte
}

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

func (s *Ed25519Signer) Sign(data []byte) []byte {
	return ed25519.Sign(s.privKey, data)
}

// PublicKey returns the 0x-prefixed hex public key.
func (s *Ed25519Signer) PublicKey() string {
	return hexutil.Encode(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

// Verify verifies an Ed25519 signature.
func Verify(pubKey, sig, data []byte) (bool, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: %d", len(pubKey))
	}
	if len(sig) != ed25519.SignatureSize {
		return false, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}
