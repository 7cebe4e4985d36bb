package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is a named parameter set stored as YAML:
//
//	strategy: regression_scalping
//	long_only: true
//	params:
//	  reg_period: 50
//	  risk_reward: 2.0
type Preset struct {
	Strategy string         `yaml:"strategy"`
	LongOnly bool           `yaml:"long_only"`
	Params   map[string]any `yaml:"params"`
}

// LoadPreset reads a preset file.
func LoadPreset(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading preset: %w", err)
	}
	return ParsePreset(data)
}

// ParsePreset decodes preset YAML.
func ParsePreset(data []byte) (*Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing preset: %w", err)
	}
	if p.Strategy == "" {
		return nil, fmt.Errorf("preset has no strategy")
	}
	if p.Params == nil {
		p.Params = map[string]any{}
	}
	return &p, nil
}
