package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkDefinitions models the structure of configs/networks.yaml.
type NetworkDefinitions struct {
	Networks map[string]NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition describes a single chain endpoint plus the order book
// contract deployed on it.
type NetworkDefinition struct {
	RPCURL           string `yaml:"rpc_url"`
	WSURL            string `yaml:"ws_url"`
	OrderBookAddress string `yaml:"order_book_address"`
	Description      string `yaml:"description"`
}

// LoadNetworkDefinitions parses the YAML file containing network metadata.
func LoadNetworkDefinitions(path string) (NetworkDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return NetworkDefinitions{Networks: map[string]NetworkDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return NetworkDefinitions{}, fmt.Errorf("读取网络配置失败: %w", err)
	}

	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return NetworkDefinitions{}, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if defs.Networks == nil {
		defs.Networks = map[string]NetworkDefinition{}
	}
	return defs, nil
}

// Lookup returns the named network definition.
func (d NetworkDefinitions) Lookup(name string) (NetworkDefinition, error) {
	def, ok := d.Networks[name]
	if !ok {
		return NetworkDefinition{}, fmt.Errorf("未定义的网络: %s", name)
	}
	return def, nil
}
