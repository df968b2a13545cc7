package prover

import (
	"errors"

	"github.com/kvinwang/gpt-prover/pkg/policy"
)

var (
	// ErrUnauthorized: the caller failed an ownership or allow-list check.
	ErrUnauthorized = policy.ErrUnauthorized
	// ErrBadConfig: the admin operation does not apply to the active policy.
	ErrBadConfig = policy.ErrBadConfig

	ErrFetch             = errors.New("fetch failed")
	ErrInvalidText       = errors.New("fetched body is not valid UTF-8 text")
	ErrEngineUnavailable = errors.New("script engine unavailable")
)

// JsError reports that the interpreter faulted or returned something other
// than a string.
type JsError struct {
	Detail string
}

func (e *JsError) Error() string { return "js error: " + e.Detail }
