package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type NullRateConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
}

type RowCountGapConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MaxRelativeGap float64 `yaml:"max_relative_gap"`
	Window         int     `yaml:"window"`
}

type ZScoreConfig struct {
	Enabled bool    `yaml:"enabled"`
	K       float64 `yaml:"k"`
}

type ConstraintConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RuleConfig holds thresholds for the built-in anomaly rules.
type RuleConfig struct {
	NullRate    NullRateConfig    `yaml:"null_rate"`
	RowCountGap RowCountGapConfig `yaml:"row_count_gap"`
	ZScore      ZScoreConfig      `yaml:"zscore"`
	Constraint  ConstraintConfig  `yaml:"constraint_violation"`
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		NullRate:    NullRateConfig{Enabled: true, Threshold: 0.30},
		RowCountGap: RowCountGapConfig{Enabled: true, MaxRelativeGap: 0.20, Window: 7},
		ZScore:      ZScoreConfig{Enabled: true, K: 3},
		Constraint:  ConstraintConfig{Enabled: true},
	}
}

// LoadRuleConfig reads a YAML rule file on top of the defaults. An empty
// path returns the defaults unchanged.
func LoadRuleConfig(path string) (RuleConfig, error) {
	cfg := DefaultRuleConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleConfig{}, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return RuleConfig{}, fmt.Errorf("parse rules file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RuleConfig{}, err
	}
	return cfg, nil
}

func (c RuleConfig) Validate() error {
	if c.NullRate.Threshold < 0 || c.NullRate.Threshold > 1 {
		return errors.New("null_rate.threshold must be within [0, 1]")
	}
	if c.RowCountGap.MaxRelativeGap <= 0 {
		return errors.New("row_count_gap.max_relative_gap must be > 0")
	}
	if c.RowCountGap.Window <= 0 {
		return errors.New("row_count_gap.window must be > 0")
	}
	if c.ZScore.K <= 0 {
		return errors.New("zscore.k must be > 0")
	}
	return nil
}
