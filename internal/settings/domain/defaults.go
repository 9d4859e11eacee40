package domain

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed default_profile.yaml
var defaultProfileYAML []byte

// DefaultConfig returns the built-in scoring profile used for tenants that
// have not saved a configuration yet. The embedded profile is validated at
// startup; a broken default is a programming error.
func DefaultConfig() (*ScoringConfig, error) {
	var cfg ScoringConfig
	if err := yaml.Unmarshal(defaultProfileYAML, &cfg); err != nil {
		return nil, fmt.Errorf("parse default scoring profile: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("default scoring profile invalid: %w", err)
	}
	return &cfg, nil
}

// MustDefaultConfig is DefaultConfig for composition roots and tests.
func MustDefaultConfig() *ScoringConfig {
	cfg, err := DefaultConfig()
	if err != nil {
		panic(err)
	}
	return cfg
}
