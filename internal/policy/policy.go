// Package policy loads the pattern and exclusivity tables that drive
// detection and payload composition.
package policy

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultPolicy []byte

type Policy struct {
	LLMDomains      []string            `yaml:"llm_domains"`
	BotUserAgents   []string            `yaml:"bot_user_agents"`
	TechniqueGroups map[string][]string `yaml:"technique_groups"`
}

// Default returns the embedded policy.
func Default() (*Policy, error) {
	return Parse(defaultPolicy)
}

// Load reads the policy at path, or the embedded default when path is empty.
func Load(path string) (*Policy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if len(p.LLMDomains) == 0 {
		return nil, fmt.Errorf("policy has no llm_domains")
	}
	if len(p.BotUserAgents) == 0 {
		return nil, fmt.Errorf("policy has no bot_user_agents")
	}
	return &p, nil
}
