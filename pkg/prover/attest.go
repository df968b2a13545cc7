package prover

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
)

// ProvenPayload is the signed record. Field order and the 0x-hex rendering of
// hashes and addresses are part of the wire contract.
type ProvenPayload struct {
	Output           string           `json:"output"`
	JsCodeHash       crypto.Hash      `json:"js_code_hash"`
	JsEngineCodeHash crypto.AccountID `json:"js_engine_code_hash"`
	ContractCodeHash crypto.Hash      `json:"contract_code_hash"`
	ContractAddress  crypto.AccountID `json:"contract_address"`
	BlockNumber      uint32           `json:"block_number"`
}

// ProvenOutput carries the payload in its serialized form so verifiers check
// the signature against the exact bytes that were signed.
type ProvenOutput struct {
	Payload   string        `json:"payload"`
	Signature hexutil.Bytes `json:"signature"`
	Pubkey    hexutil.Bytes `json:"pubkey"`
}

func (s *Service) attest(output string, codeHash crypto.Hash, driver *engine.Driver) (*ProvenOutput, error) {
	payload := ProvenPayload{
		Output:           output,
		JsCodeHash:       codeHash,
		JsEngineCodeHash: driver.Identity,
		ContractCodeHash: s.host.CodeHash(),
		ContractAddress:  s.host.Address(),
		BlockNumber:      s.host.BlockHeight(),
	}
	raw, err := crypto.CanonicalMarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize payload: %w", err)
	}

	key, err := s.SigningKey()
	if err != nil {
		return nil, err
	}
	signer := crypto.NewEd25519SignerFromKey(key, crypto.LabelSigner)
	return &ProvenOutput{
		Payload:   string(raw),
		Signature: signer.Sign(raw),
		Pubkey:    signer.PublicKeyBytes(),
	}, nil
}
