package policy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

//go:embed schema/policy.schema.json
var schemaJSON []byte

const schemaURL = "https://gpt-prover.local/schemas/policy.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

// SchemaJSON returns the JSON Schema of a policy document.
func SchemaJSON() []byte { return schemaJSON }

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("policy schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

type publicDoc struct {
	Kind Kind `json:"kind"`
}

type whitelistDoc struct {
	Kind              Kind          `json:"kind"`
	Secret            string        `json:"secret"`
	AllowedCodeHashes []crypto.Hash `json:"allowed_code_hashes"`
}

type perCodeSecretDoc struct {
	Kind    Kind                   `json:"kind"`
	Secrets map[crypto.Hash]string `json:"secrets"`
}

// Marshal encodes p as a policy document.
func Marshal(p Policy) ([]byte, error) {
	switch v := p.(type) {
	case Public:
		return json.Marshal(publicDoc{Kind: KindPublic})
	case Whitelist:
		allowed := v.AllowedCodeHashes
		if allowed == nil {
			allowed = []crypto.Hash{}
		}
		return json.Marshal(whitelistDoc{Kind: KindWhitelist, Secret: v.Secret, AllowedCodeHashes: allowed})
	case PerCodeSecret:
		secrets := v.Secrets
		if secrets == nil {
			secrets = map[crypto.Hash]string{}
		}
		return json.Marshal(perCodeSecretDoc{Kind: KindPerCodeSecret, Secrets: secrets})
	default:
		return nil, unknown(p)
	}
}

// Unmarshal validates a policy document against the schema and decodes it.
func Unmarshal(data []byte) (Policy, error) {
	schema, err := documentSchema()
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: invalid policy JSON: %v", ErrBadConfig, err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: policy document rejected: %v", ErrBadConfig, err)
	}

	var head publicDoc
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}

	switch head.Kind {
	case KindPublic:
		return Public{}, nil
	case KindWhitelist:
		var doc whitelistDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
		}
		w := Whitelist{Secret: doc.Secret, AllowedCodeHashes: make([]crypto.Hash, 0, len(doc.AllowedCodeHashes))}
		for _, h := range doc.AllowedCodeHashes {
			if !w.Allows(h) {
				w.AllowedCodeHashes = append(w.AllowedCodeHashes, h)
			}
		}
		return w, nil
	case KindPerCodeSecret:
		var doc perCodeSecretDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
		}
		if doc.Secrets == nil {
			doc.Secrets = map[crypto.Hash]string{}
		}
		return PerCodeSecret{Secrets: doc.Secrets}, nil
	default:
		return nil, fmt.Errorf("%w: unknown policy kind %q", ErrBadConfig, head.Kind)
	}
}

// Document wraps a Policy so it can sit inside other JSON values.
type Document struct {
	Policy Policy
}

func (d Document) MarshalJSON() ([]byte, error) {
	return Marshal(d.Policy)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	p, err := Unmarshal(data)
	if err != nil {
		return err
	}
	d.Policy = p
	return nil
}

// Digest identifies a policy without revealing its secrets: the content hash of
// the RFC 8785 form of the redacted document.
func Digest(p Policy) (crypto.Hash, error) {
	redacted, err := RedactFor(p, false)
	if err != nil {
		return crypto.Hash{}, err
	}
	raw, err := Marshal(redacted)
	if err != nil {
		return crypto.Hash{}, err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("jcs: %w", err)
	}
	return crypto.HashCode(canonical), nil
}
