// Package client talks to a prover over its HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/kvinwang/gpt-prover/pkg/api"
	"github.com/kvinwang/gpt-prover/pkg/auth"
	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/policy"
	"github.com/kvinwang/gpt-prover/pkg/prover"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	key      ed25519.PrivateKey
	tokenTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	audience crypto.AccountID
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCallerKey makes every request authenticate as the key's account.
// Without it requests are anonymous.
func WithCallerKey(key ed25519.PrivateKey) Option {
	return func(c *Client) { c.key = key }
}

// WithTokenTTL sets the lifetime of issued caller tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Client) { c.tokenTTL = ttl }
}

// New returns a client for the prover at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		tokenTTL: auth.DefaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health reports liveness and instance metadata.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// PubKey returns the instance's attestation public key.
func (c *Client) PubKey(ctx context.Context) ([]byte, error) {
	var out api.PubKeyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/pubkey", nil, &out, false); err != nil {
		return nil, err
	}
	return out.PubKey, nil
}

// SealKey returns the public key per-call secrets are sealed to.
func (c *Client) SealKey(ctx context.Context) ([]byte, error) {
	var out api.SealKeyResponse
	if err := c.do(ctx, http.MethodGet, "/v1/seal-key", nil, &out, false); err != nil {
		return nil, err
	}
	return out.SealKey, nil
}

// Config returns the owner and the policy as this caller may see it.
func (c *Client) Config(ctx context.Context) (crypto.AccountID, policy.Policy, error) {
	out, err := c.Settings(ctx)
	if err != nil {
		return crypto.AccountID{}, nil, err
	}
	return out.Owner, out.Policy.Policy, nil
}

// Settings returns the whole configuration document, chat endpoint
// included. The key is blank unless the caller owns the instance.
func (c *Client) Settings(ctx context.Context) (*api.ConfigResponse, error) {
	var out api.ConfigResponse
	if err := c.do(ctx, http.MethodGet, "/v1/config", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Run submits code for attested execution.
func (c *Client) Run(ctx context.Context, req api.RunRequest) (*prover.ProvenOutput, error) {
	var out prover.ProvenOutput
	if err := c.do(ctx, http.MethodPost, "/v1/run", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// SealSecret seals secret to the instance's seal key for use as
// RunRequest.SealedSecret.
func (c *Client) SealSecret(ctx context.Context, secret string) (hexutil.Bytes, error) {
	pub, err := c.SealKey(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.SealSecret(pub, secret)
}

// RunURL asks the prover to fetch and run code from url.
func (c *Client) RunURL(ctx context.Context, url string, args []string) (*prover.ProvenOutput, error) {
	var out prover.ProvenOutput
	if err := c.do(ctx, http.MethodPost, "/v1/run-url", api.RunURLRequest{URL: url, Args: args}, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ask sends prompt to the configured chat API under model and returns the
// attested answer.
func (c *Client) Ask(ctx context.Context, model, prompt string) (*prover.ProvenOutput, error) {
	var out prover.ProvenOutput
	if err := c.do(ctx, http.MethodPost, "/v1/ask", api.AskRequest{Model: model, Prompt: prompt}, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TransferOwnership(ctx context.Context, newOwner crypto.AccountID) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/transfer-ownership", api.TransferOwnershipRequest{NewOwner: newOwner}, nil, true)
}

func (c *Client) UpdateConfig(ctx context.Context, p policy.Policy) error {
	doc, err := policy.Marshal(p)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/v1/admin/config", api.UpdateConfigRequest{Policy: doc}, nil, true)
}

func (c *Client) UpdateSecret(ctx context.Context, secret string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/secret", api.UpdateSecretRequest{Secret: secret}, nil, true)
}

func (c *Client) UpdateAPIURL(ctx context.Context, apiURL string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/api-url", api.UpdateAPIURLRequest{URL: apiURL}, nil, true)
}

func (c *Client) UpdateAPIKey(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/api-key", api.UpdateAPIKeyRequest{Key: key}, nil, true)
}

func (c *Client) AllowCodeHash(ctx context.Context, h crypto.Hash) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/allow", api.AllowCodeHashRequest{CodeHash: h}, nil, true)
}

func (c *Client) SetSecret(ctx context.Context, h crypto.Hash, secret string) error {
	return c.do(ctx, http.MethodPost, "/v1/admin/code-secret", api.SetSecretRequest{CodeHash: h, Secret: secret}, nil, true)
}

// instanceAddress learns the token audience from /health once.
func (c *Client) instanceAddress(ctx context.Context) (crypto.AccountID, error) {
	c.mu.Lock()
	cached := c.audience
	c.mu.Unlock()
	if !cached.IsZero() {
		return cached, nil
	}

	h, err := c.Health(ctx)
	if err != nil {
		return crypto.AccountID{}, fmt.Errorf("discover instance address: %w", err)
	}
	c.mu.Lock()
	c.audience = h.Address
	c.mu.Unlock()
	return h.Address, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, authenticate bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticate && c.key != nil {
		audience, err := c.instanceAddress(ctx)
		if err != nil {
			return err
		}
		token, err := auth.IssueToken(c.key, audience, c.tokenTTL, c.now())
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, api.MaxBodyBytes*8))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		problem := &api.ProblemDetail{}
		if err := json.Unmarshal(raw, problem); err != nil || problem.Status == 0 {
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		return problem
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ProblemCode extracts the API problem code from err, if any.
func ProblemCode(err error) string {
	var problem *api.ProblemDetail
	if errors.As(err, &problem) {
		return problem.Code
	}
	return ""
}
