package prover

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
	"github.com/kvinwang/gpt-prover/pkg/policy"
)

// initFragment moves the injected secret from the argument list into a global
// so the caller's code can read it without it being part of the hashed source.
const initFragment = "globalThis.secretData = scriptArgs.pop();"

// RunJS executes code under the active policy and attests the output. A
// non-nil secret overrides whatever the policy would inject.
func (s *Service) RunJS(ctx context.Context, code string, args []string, secret *string) (out *ProvenOutput, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "run_js")
	defer func() { done(err) }()

	codeHash := s.HashCode([]byte(code))
	logger := s.logger.With("code_hash", codeHash)

	p := s.current()
	if err := policy.CheckAllowed(p, codeHash); err != nil {
		logger.InfoContext(ctx, "execution rejected", "policy", p.Kind())
		return nil, err
	}
	injected, err := policy.ResolveSecret(p, codeHash, secret)
	if err != nil {
		return nil, err
	}

	fullArgs := make([]string, 0, len(args)+1)
	fullArgs = append(fullArgs, args...)
	fullArgs = append(fullArgs, injected)

	return s.execute(ctx, codeHash, []string{initFragment, code}, fullArgs)
}

// execute runs fragments on the active driver and attests a string result
// under codeHash.
func (s *Service) execute(ctx context.Context, codeHash crypto.Hash, fragments, args []string) (*ProvenOutput, error) {
	driver, err := s.host.Driver(s.driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	value, err := driver.Interpreter.Execute(ctx, fragments, args)
	if err != nil {
		var fault *engine.Fault
		if errors.As(err, &fault) {
			return nil, &JsError{Detail: fault.Detail}
		}
		return nil, &JsError{Detail: err.Error()}
	}
	output, ok := value.AsString()
	if !ok {
		return nil, &JsError{Detail: fmt.Sprintf("Invalid output: %s", value)}
	}

	out, err := s.attest(output, codeHash, driver)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "execution attested", "code_hash", codeHash,
		"engine", driver.Identity, "output_bytes", len(output))
	return out, nil
}

// RunJSFromURL fetches code and runs it with no explicit secret. Fetch and
// decoding failures end the call before any interpreter runs.
func (s *Service) RunJSFromURL(ctx context.Context, url string, args []string) (out *ProvenOutput, err error) {
	ctx, done := s.obs.TrackOperation(ctx, "run_js_from_url", attribute.String("url.full", url))
	defer func() { done(err) }()

	resp, err := s.host.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, url, resp.StatusCode)
	}
	code, err := decodeText(resp.ContentType, resp.Body)
	if err != nil {
		return nil, err
	}
	return s.RunJS(ctx, code, args, nil)
}

// decodeText accepts UTF-8 bodies only. A declared charset must name UTF-8.
func decodeText(contentType string, body []byte) (string, error) {
	if contentType != "" {
		_, params, err := mime.ParseMediaType(contentType)
		if err == nil {
			if label, ok := params["charset"]; ok {
				enc, err := htmlindex.Get(label)
				if err != nil {
					return "", fmt.Errorf("%w: unknown charset %q", ErrInvalidText, label)
				}
				if name, _ := htmlindex.Name(enc); name != "utf-8" {
					return "", fmt.Errorf("%w: charset %s", ErrInvalidText, name)
				}
			}
		}
	}
	if !utf8.Valid(body) {
		return "", ErrInvalidText
	}
	return string(body), nil
}
