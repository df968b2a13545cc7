package auth

import (
	"context"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

type callerKey struct{}

// WithCaller attaches an authenticated caller account to the context.
func WithCaller(ctx context.Context, account crypto.AccountID) context.Context {
	return context.WithValue(ctx, callerKey{}, account)
}

// Caller returns the authenticated caller. Anonymous requests get the zero
// account, which is never an owner.
func Caller(ctx context.Context) crypto.AccountID {
	account, _ := ctx.Value(callerKey{}).(crypto.AccountID)
	return account
}
