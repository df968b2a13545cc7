package auth_test

import (
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvinwang/gpt-prover/pkg/auth"
	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

var (
	instance = crypto.AccountID{0x11}
	epoch    = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func callerKey(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed([]byte(strings.Repeat(string(rune('a'+seed)), ed25519.SeedSize)))
}

func verifierAt(t time.Time) *auth.Verifier {
	return auth.NewVerifier(instance).WithClock(func() time.Time { return t })
}

func TestToken_RoundTrip(t *testing.T) {
	key := callerKey(1)
	token, err := auth.IssueToken(key, instance, time.Minute, epoch)
	require.NoError(t, err)

	got, err := verifierAt(epoch.Add(30 * time.Second)).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, crypto.AccountOf(key), got)
}

func TestToken_Rejects(t *testing.T) {
	key := callerKey(1)
	valid, err := auth.IssueToken(key, instance, time.Minute, epoch)
	require.NoError(t, err)

	otherAudience, err := auth.IssueToken(key, crypto.AccountID{0x22}, time.Minute, epoch)
	require.NoError(t, err)

	longLived, err := auth.IssueToken(key, instance, time.Hour, epoch)
	require.NoError(t, err)

	// Claims the subject of key 1 but is signed by key 2.
	forged := jwt.NewWithClaims(jwt.SigningMethodEdDSA, auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   crypto.AccountOf(key).Hex(),
		Audience:  jwt.ClaimStrings{instance.Hex()},
		IssuedAt:  jwt.NewNumericDate(epoch),
		ExpiresAt: jwt.NewNumericDate(epoch.Add(time.Minute)),
	}})
	forgedStr, err := forged.SignedString(callerKey(2))
	require.NoError(t, err)

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodEdDSA, auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  crypto.AccountOf(key).Hex(),
		Audience: jwt.ClaimStrings{instance.Hex()},
		IssuedAt: jwt.NewNumericDate(epoch),
	}})
	noExpiryStr, err := noExpiry.SignedString(key)
	require.NoError(t, err)

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: crypto.AccountOf(key).Hex()})
	hmacStr, err := hmac.SignedString([]byte("shared"))
	require.NoError(t, err)

	cases := map[string]struct {
		token string
		at    time.Time
	}{
		"expired":        {valid, epoch.Add(5 * time.Minute)},
		"issued later":   {valid, epoch.Add(-5 * time.Minute)},
		"wrong audience": {otherAudience, epoch},
		"too long lived": {longLived, epoch},
		"forged":         {forgedStr, epoch},
		"no expiry":      {noExpiryStr, epoch},
		"hmac":           {hmacStr, epoch},
		"garbage":        {"not.a.token", epoch},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := verifierAt(tc.at).Verify(tc.token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	key := callerKey(3)
	verifier := auth.NewVerifier(instance)
	token, err := auth.IssueToken(key, instance, time.Minute, time.Now())
	require.NoError(t, err)

	var seen crypto.AccountID
	handler := auth.NewMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.Caller(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	do := func(header string) int {
		seen = crypto.AccountID{0xff}
		r := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(""))
	assert.True(t, seen.IsZero(), "anonymous callers carry the zero account")

	assert.Equal(t, http.StatusOK, do("Bearer "+token))
	assert.Equal(t, crypto.AccountOf(key), seen)

	assert.Equal(t, http.StatusUnauthorized, do("Basic abc"))
	assert.Equal(t, http.StatusUnauthorized, do("Bearer "))
	assert.Equal(t, http.StatusUnauthorized, do("Bearer nonsense"))
}

func TestMiddleware_NoVerifierFailsClosed(t *testing.T) {
	handler := auth.NewMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	r.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var fromCtx string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		fromCtx = auth.GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.NotEmpty(t, fromCtx)
	assert.Equal(t, fromCtx, w.Header().Get("X-Request-ID"))

	r = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Request-ID", "client-id")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	assert.Equal(t, "client-id", fromCtx)
}
