package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/policy"
)

// Deployment is the initial state applied when the store is still empty.
type Deployment struct {
	Owner  crypto.AccountID
	Policy policy.Policy
	APIURL string
	APIKey string
}

type deploymentFile struct {
	Owner  string                 `yaml:"owner"`
	Policy map[string]interface{} `yaml:"policy"`
	APIURL string                 `yaml:"api_url"`
	APIKey string                 `yaml:"api_key"`
}

// LoadDeployment reads a deployment YAML file. Every field may be omitted; a
// missing owner is left zero and a missing policy defaults to public.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load deployment %q: %w", path, err)
	}
	return ParseDeployment(data)
}

// ParseDeployment decodes deployment YAML. The policy block is validated with
// the same schema as policy documents received over the API.
func ParseDeployment(data []byte) (*Deployment, error) {
	var file deploymentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse deployment: %w", err)
	}

	d := &Deployment{Policy: policy.Public{}, APIURL: file.APIURL, APIKey: file.APIKey}
	if file.Owner != "" {
		owner, err := crypto.ParseAccountID(file.Owner)
		if err != nil {
			return nil, fmt.Errorf("deployment owner: %w", err)
		}
		d.Owner = owner
	}
	if file.Policy != nil {
		raw, err := json.Marshal(file.Policy)
		if err != nil {
			return nil, fmt.Errorf("deployment policy: %w", err)
		}
		p, err := policy.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("deployment policy: %w", err)
		}
		d.Policy = p
	}
	return d, nil
}
