package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/scorevault/pkg/contracts"
	"github.com/Mindburn-Labs/scorevault/pkg/workflow"
)

//go:embed deployments.schema.json
var deploymentsSchema string

const deploymentsSchemaURL = "https://scorevault.schemas.local/deployments.schema.json"

// Deployment is one network's ledger and relayer endpoints.
type Deployment struct {
	ChainID    contracts.NetworkID `yaml:"chain_id" json:"chain_id"`
	Name       string              `yaml:"name" json:"name"`
	Ledger     string              `yaml:"ledger" json:"ledger"`
	RPCURL     string              `yaml:"rpc_url,omitempty" json:"rpc_url,omitempty"`
	RelayerURL string              `yaml:"relayer_url,omitempty" json:"relayer_url,omitempty"`
}

// LedgerAddress parses Ledger.
func (d Deployment) LedgerAddress() common.Address { return common.HexToAddress(d.Ledger) }

// Deployments is the parsed deployments file.
type Deployments struct {
	Deployments []Deployment `yaml:"deployments" json:"deployments"`
}

// Lookup returns the deployment for chain.
func (d *Deployments) Lookup(chain contracts.NetworkID) (Deployment, error) {
	for _, dep := range d.Deployments {
		if dep.ChainID == chain {
			return dep, nil
		}
	}
	return Deployment{}, fmt.Errorf("%w: chain %s", workflow.ErrNotDeployed, chain)
}

// LoadDeployments reads and validates a deployments YAML file.
func LoadDeployments(path string) (*Deployments, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}
	return ParseDeployments(data)
}

// ParseDeployments validates data against the deployments schema and decodes it.
func ParseDeployments(data []byte) (*Deployments, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse deployments: %w", err)
	}
	// the validator wants JSON types
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse deployments: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parse deployments: %w", err)
	}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid deployments: %w", err)
	}

	var out Deployments
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse deployments: %w", err)
	}
	seen := map[contracts.NetworkID]bool{}
	for _, dep := range out.Deployments {
		if seen[dep.ChainID] {
			return nil, fmt.Errorf("invalid deployments: chain %s listed twice", dep.ChainID)
		}
		seen[dep.ChainID] = true
	}
	return &out, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(deploymentsSchemaURL, strings.NewReader(deploymentsSchema)); err != nil {
		return nil, fmt.Errorf("deployments schema load failed: %w", err)
	}
	return c.Compile(deploymentsSchemaURL)
}
