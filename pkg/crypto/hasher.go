package crypto

import (
	"golang.org/x/crypto/blake2b"
)

// HashCode is the content hash applied to script source and interpreter modules.
// Allow-list entries and per-code secrets are keyed by this exact function; any
// component that computes a code hash must call it rather than hash on its own.
func HashCode(code []byte) Hash {
	return Hash(blake2b.Sum256(code))
}

// HashString is HashCode over the UTF-8 bytes of s.
func HashString(s string) Hash {
	return HashCode([]byte(s))
}
