// Package auth identifies API callers. A caller is an Ed25519 account and
// proves it by presenting a short-lived EdDSA JWT signed with its own key,
// addressed to this instance.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

const (
	// DefaultTokenTTL is the lifetime IssueToken gives tokens when none is set.
	DefaultTokenTTL = 2 * time.Minute
	// DefaultMaxTTL is the longest lifetime a Verifier accepts.
	DefaultMaxTTL = 10 * time.Minute

	defaultLeeway = 30 * time.Second
)

var ErrInvalidToken = errors.New("invalid caller token")

// Claims are the JWT claims a caller presents. The subject is the caller's
// account, which doubles as the verification key.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs a token for the account of key, addressed to audience.
func IssueToken(key ed25519.PrivateKey, audience crypto.AccountID, ttl time.Duration, now time.Time) (string, error) {
	if len(key) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("issue token: invalid private key length %d", len(key))
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   crypto.AccountOf(key).Hex(),
		Audience:  jwt.ClaimStrings{audience.Hex()},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(key)
}

// Verifier checks caller tokens addressed to one instance.
type Verifier struct {
	audience crypto.AccountID
	maxTTL   time.Duration
	now      func() time.Time
}

// NewVerifier accepts tokens whose audience is the given instance address.
func NewVerifier(audience crypto.AccountID) *Verifier {
	return &Verifier{audience: audience, maxTTL: DefaultMaxTTL, now: time.Now}
}

// WithClock replaces the time source.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify returns the caller account a valid token speaks for.
func (v *Verifier) Verify(tokenStr string) (crypto.AccountID, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithAudience(v.audience.Hex()),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithTimeFunc(v.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, subjectKey)
	if err != nil {
		return crypto.AccountID{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return crypto.AccountID{}, ErrInvalidToken
	}
	if claims.IssuedAt == nil {
		return crypto.AccountID{}, fmt.Errorf("%w: iat is required", ErrInvalidToken)
	}
	if life := claims.ExpiresAt.Sub(claims.IssuedAt.Time); life > v.maxTTL {
		return crypto.AccountID{}, fmt.Errorf("%w: lifetime %s exceeds %s", ErrInvalidToken, life, v.maxTTL)
	}

	return crypto.ParseAccountID(claims.Subject)
}

// subjectKey resolves the verification key from the token's own subject.
func subjectKey(token *jwt.Token) (interface{}, error) {
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	account, err := crypto.ParseAccountID(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	if account.IsZero() {
		return nil, errors.New("subject is the zero account")
	}
	return ed25519.PublicKey(account.Bytes()), nil
}
