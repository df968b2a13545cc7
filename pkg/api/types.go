package api

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/policy"
)

// Wire types of the prover HTTP API. Run endpoints answer with a
// prover.ProvenOutput.

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string           `json:"status"`
	Address     crypto.AccountID `json:"address"`
	CodeHash    crypto.Hash      `json:"code_hash"`
	BlockHeight uint32           `json:"block_height"`
}

// PubKeyResponse is the body of GET /v1/pubkey.
type PubKeyResponse struct {
	PubKey hexutil.Bytes `json:"pubkey"`
}

// SealKeyResponse is the body of GET /v1/seal-key.
type SealKeyResponse struct {
	SealKey hexutil.Bytes `json:"seal_key"`
}

// ConfigResponse is the body of GET /v1/config.
type ConfigResponse struct {
	Owner  crypto.AccountID `json:"owner"`
	Policy policy.Document  `json:"policy"`
	API    APIConfig        `json:"api"`
}

// APIConfig is the chat API endpoint. Key is blank unless the caller is the owner.
type APIConfig struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// RunRequest is the body of POST /v1/run. At most one of Secret and
// SealedSecret may be set; an explicit empty Secret still overrides the policy.
type RunRequest struct {
	Code         string        `json:"code"`
	Args         []string      `json:"args,omitempty"`
	Secret       *string       `json:"secret,omitempty"`
	SealedSecret hexutil.Bytes `json:"sealed_secret,omitempty"`
}

// RunURLRequest is the body of POST /v1/run-url.
type RunURLRequest struct {
	URL  string   `json:"url"`
	Args []string `json:"args,omitempty"`
}

// AskRequest is the body of POST /v1/ask. The model shortcuts
// /v1/ask/gpt4 and /v1/ask/gpt35 take only the prompt.
type AskRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

type TransferOwnershipRequest struct {
	NewOwner crypto.AccountID `json:"new_owner"`
}

type UpdateConfigRequest struct {
	Policy json.RawMessage `json:"policy"`
}

type UpdateSecretRequest struct {
	Secret string `json:"secret"`
}

type AllowCodeHashRequest struct {
	CodeHash crypto.Hash `json:"code_hash"`
}

type SetSecretRequest struct {
	CodeHash crypto.Hash `json:"code_hash"`
	Secret   string      `json:"secret"`
}

type UpdateAPIURLRequest struct {
	URL string `json:"url"`
}

type UpdateAPIKeyRequest struct {
	Key string `json:"key"`
}
