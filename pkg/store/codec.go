package store

import (
	"encoding/json"
	"fmt"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/kms"
	"github.com/kvinwang/gpt-prover/pkg/policy"
)

// record is the serialized snapshot. Secret values inside the policy and the
// API key are KMS ciphertexts, never plaintext.
type record struct {
	Owner  crypto.AccountID `json:"owner"`
	Policy policy.Document  `json:"policy"`
	APIURL string           `json:"api_url,omitempty"`
	APIKey string           `json:"api_key,omitempty"`
}

func encodeSnapshot(s Snapshot, keys kms.Manager) ([]byte, error) {
	sealed, err := mapSecrets(s.Policy, keys.Encrypt)
	if err != nil {
		return nil, fmt.Errorf("encrypt policy secrets: %w", err)
	}
	apiKey, err := keys.Encrypt(s.API.Key)
	if err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}
	return json.Marshal(record{
		Owner:  s.Owner,
		Policy: policy.Document{Policy: sealed},
		APIURL: s.API.URL,
		APIKey: apiKey,
	})
}

func decodeSnapshot(data []byte, keys kms.Manager) (Snapshot, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, fmt.Errorf("decode state: %w", err)
	}
	opened, err := mapSecrets(rec.Policy.Policy, keys.Decrypt)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decrypt policy secrets: %w", err)
	}
	apiKey, err := keys.Decrypt(rec.APIKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decrypt api key: %w", err)
	}
	return Snapshot{Owner: rec.Owner, Policy: opened, API: Endpoint{URL: rec.APIURL, Key: apiKey}}, nil
}

// mapSecrets returns a copy of p with every secret value passed through fn.
func mapSecrets(p policy.Policy, fn func(string) (string, error)) (policy.Policy, error) {
	c, err := policy.Clone(p)
	if err != nil {
		return nil, err
	}
	switch v := c.(type) {
	case policy.Public:
		return v, nil
	case policy.Whitelist:
		if v.Secret, err = fn(v.Secret); err != nil {
			return nil, err
		}
		return v, nil
	case policy.PerCodeSecret:
		for h, s := range v.Secrets {
			if v.Secrets[h], err = fn(s); err != nil {
				return nil, err
			}
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy variant %T", policy.ErrBadConfig, p)
	}
}
