// Package crypto holds the identifier types, content hashing, deterministic key
// derivation, signing and secret sealing used by the prover.
package crypto

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HashLength is the width of content hashes and account identifiers.
const HashLength = 32

// Hash is a BLAKE2b-256 content hash.
type Hash [HashLength]byte

// AccountID identifies an account: a caller, the owner, the instance itself or an
// interpreter driver. For Ed25519 accounts it is the raw public key.
type AccountID [HashLength]byte

// ParseHash decodes a 0x-prefixed hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := decodeFixed(h[:], s)
	return h, err
}

// ParseAccountID decodes a 0x-prefixed hex string into an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	var a AccountID
	err := decodeFixed(a[:], s)
	return a, err
}

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) Hex() string    { return hexutil.Encode(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == Hash{} }

// MarshalText renders the hash as 0x-prefixed lowercase hex.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash) UnmarshalText(b []byte) error { return decodeFixed(h[:], string(b)) }

func (a AccountID) Bytes() []byte  { return a[:] }
func (a AccountID) Hex() string    { return hexutil.Encode(a[:]) }
func (a AccountID) String() string { return a.Hex() }
func (a AccountID) IsZero() bool   { return a == AccountID{} }

// MarshalText renders the account as 0x-prefixed lowercase hex.
func (a AccountID) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

func (a *AccountID) UnmarshalText(b []byte) error { return decodeFixed(a[:], string(b)) }

// AccountFromBytes copies a 32-byte value (e.g. an Ed25519 public key) into an AccountID.
func AccountFromBytes(b []byte) (AccountID, error) {
	var a AccountID
	if len(b) != HashLength {
		return a, fmt.Errorf("account id: expected %d bytes, got %d", HashLength, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func decodeFixed(dst []byte, s string) error {
	b, err := hexutil.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid hex %q: %w", s, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("invalid length for %q: expected %d bytes, got %d", s, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
