// Package policy defines the access policy that gates which code may run and which
// secret, if any, is injected into it.
//
// A Policy is one of exactly three variants: Public, Whitelist or PerCodeSecret.
// The interface is sealed; every function here switches over all three and fails
// on anything else, so a new variant must be handled everywhere before it can be used.
package policy

import (
	"errors"
	"fmt"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

var (
	// ErrUnauthorized is returned when a caller fails an ownership or allow-list check.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBadConfig is returned when an admin operation does not apply to the active variant.
	ErrBadConfig = errors.New("bad config")
)

// Kind names a policy variant on the wire.
type Kind string

const (
	KindPublic        Kind = "public"
	KindWhitelist     Kind = "whitelist"
	KindPerCodeSecret Kind = "per_code_secret"
)

// Policy is the sealed sum of Public, Whitelist and PerCodeSecret.
type Policy interface {
	Kind() Kind
	sealed()
}

// Public lets any code run and injects no secret.
type Public struct{}

// Whitelist lets only allow-listed code run and injects one shared secret.
type Whitelist struct {
	Secret            string
	AllowedCodeHashes []crypto.Hash
}

// PerCodeSecret lets any code run; each code hash may have its own secret.
type PerCodeSecret struct {
	Secrets map[crypto.Hash]string
}

func (Public) Kind() Kind        { return KindPublic }
func (Whitelist) Kind() Kind     { return KindWhitelist }
func (PerCodeSecret) Kind() Kind { return KindPerCodeSecret }

func (Public) sealed()        {}
func (Whitelist) sealed()     {}
func (PerCodeSecret) sealed() {}

// Allows reports whether h is on the allow-list.
func (w Whitelist) Allows(h crypto.Hash) bool {
	for _, allowed := range w.AllowedCodeHashes {
		if allowed == h {
			return true
		}
	}
	return false
}

// CheckAllowed decides whether code with hash h may execute.
func CheckAllowed(p Policy, h crypto.Hash) error {
	switch v := p.(type) {
	case Public:
		return nil
	case Whitelist:
		if !v.Allows(h) {
			return fmt.Errorf("%w: code hash %s is not whitelisted", ErrUnauthorized, h)
		}
		return nil
	case PerCodeSecret:
		return nil
	default:
		return unknown(p)
	}
}

// ResolveSecret picks the secret injected for code hash h. An explicit secret
// supplied with the call always wins.
func ResolveSecret(p Policy, h crypto.Hash, explicit *string) (string, error) {
	if explicit != nil {
		return *explicit, nil
	}
	switch v := p.(type) {
	case Public:
		return "", nil
	case Whitelist:
		return v.Secret, nil
	case PerCodeSecret:
		return v.Secrets[h], nil
	default:
		return "", unknown(p)
	}
}

// RedactFor returns a copy of p safe to show to a reader. Only the owner sees
// secret values; everyone else gets them blanked.
func RedactFor(p Policy, isOwner bool) (Policy, error) {
	c, err := Clone(p)
	if err != nil || isOwner {
		return c, err
	}
	switch v := c.(type) {
	case Public:
		return v, nil
	case Whitelist:
		v.Secret = ""
		return v, nil
	case PerCodeSecret:
		for h := range v.Secrets {
			v.Secrets[h] = ""
		}
		return v, nil
	default:
		return nil, unknown(p)
	}
}

// Clone deep-copies p so that callers can mutate the result freely.
func Clone(p Policy) (Policy, error) {
	switch v := p.(type) {
	case Public:
		return Public{}, nil
	case Whitelist:
		allowed := make([]crypto.Hash, len(v.AllowedCodeHashes))
		copy(allowed, v.AllowedCodeHashes)
		return Whitelist{Secret: v.Secret, AllowedCodeHashes: allowed}, nil
	case PerCodeSecret:
		secrets := make(map[crypto.Hash]string, len(v.Secrets))
		for h, s := range v.Secrets {
			secrets[h] = s
		}
		return PerCodeSecret{Secrets: secrets}, nil
	default:
		return nil, unknown(p)
	}
}

// WithSecret replaces the shared Whitelist secret.
func WithSecret(p Policy, secret string) (Policy, error) {
	switch v := p.(type) {
	case Whitelist:
		c, _ := Clone(v)
		w := c.(Whitelist)
		w.Secret = secret
		return w, nil
	case Public, PerCodeSecret:
		return nil, fmt.Errorf("%w: shared secret requires a whitelist policy, active policy is %s", ErrBadConfig, p.Kind())
	default:
		return nil, unknown(p)
	}
}

// WithAllowed adds h to the Whitelist allow-list. Adding a present hash is a no-op.
func WithAllowed(p Policy, h crypto.Hash) (Policy, error) {
	switch v := p.(type) {
	case Whitelist:
		c, _ := Clone(v)
		w := c.(Whitelist)
		if !w.Allows(h) {
			w.AllowedCodeHashes = append(w.AllowedCodeHashes, h)
		}
		return w, nil
	case Public, PerCodeSecret:
		return nil, fmt.Errorf("%w: allow-list requires a whitelist policy, active policy is %s", ErrBadConfig, p.Kind())
	default:
		return nil, unknown(p)
	}
}

// WithCodeSecret registers or overwrites the secret for one code hash.
func WithCodeSecret(p Policy, h crypto.Hash, secret string) (Policy, error) {
	switch v := p.(type) {
	case PerCodeSecret:
		c, _ := Clone(v)
		pc := c.(PerCodeSecret)
		pc.Secrets[h] = secret
		return pc, nil
	case Public, Whitelist:
		return nil, fmt.Errorf("%w: per-code secrets require a per_code_secret policy, active policy is %s", ErrBadConfig, p.Kind())
	default:
		return nil, unknown(p)
	}
}

func unknown(p Policy) error {
	return fmt.Errorf("%w: unknown policy variant %T", ErrBadConfig, p)
}
