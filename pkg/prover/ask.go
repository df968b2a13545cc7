package prover

import (
	"context"
	_ "embed"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
)

// Model names used by the shortcut entry points.
const (
	ModelGPT4  = "gpt-4-turbo-preview"
	ModelGPT35 = "gpt-3.5-turbo-0125"
)

// askScript posts one user message to the configured chat completion API and
// returns the first choice's text. Its arguments are the API url, the API key,
// the model and the prompt.
//
//go:embed scripts/askgpt.js
var askScript string

// AskScriptHash is the js_code_hash every ask attestation carries.
func (s *Service) AskScriptHash() crypto.Hash {
	return s.HashCode([]byte(askScript))
}

// AskGPT asks model a question through the configured API and attests the
// answer. The script is fixed by this binary, so the access policy neither
// gates it nor injects a secret into it.
func (s *Service) AskGPT(ctx context.Context, model, prompt string) (out *ProvenOutput, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "ask_gpt", attribute.String("gpt.model", model))
	defer func() { done(err) }()

	s.mu.RLock()
	api := s.api
	s.mu.RUnlock()
	if api.URL == "" {
		return nil, fmt.Errorf("%w: api url is not set", ErrBadConfig)
	}

	ctx = engine.WithRequester(ctx, engine.RequesterFunc(s.host.Request))
	return s.execute(ctx, s.AskScriptHash(), []string{askScript},
		[]string{api.URL, api.Key, model, prompt})
}

// AskGPT4 is AskGPT with ModelGPT4.
func (s *Service) AskGPT4(ctx context.Context, prompt string) (*ProvenOutput, error) {
	return s.AskGPT(ctx, ModelGPT4, prompt)
}

// AskGPT35 is AskGPT with ModelGPT35.
func (s *Service) AskGPT35(ctx context.Context, prompt string) (*ProvenOutput, error) {
	return s.AskGPT(ctx, ModelGPT35, prompt)
}
