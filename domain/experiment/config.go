// Package experiment defines the experiment configuration: which framework to
// apply, over which corpus, with which models, and the hypotheses the final
// synthesis must address.
package experiment

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"discernus/domain/core"
)

// Hypothesis is one testable claim the experiment investigates
type Hypothesis struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	Statement string `yaml:"statement" json:"statement"`
}

// Thresholds are the quality gates applied after analysis completes
type Thresholds struct {
	MinFrameworkFit   float64 `yaml:"min_framework_fit,omitempty" json:"min_framework_fit,omitempty"`
	MinSampleSize     int     `yaml:"min_sample_size,omitempty" json:"min_sample_size,omitempty"`
	MaxPValue         float64 `yaml:"max_p_value,omitempty" json:"max_p_value,omitempty"`
	MaxCIWidth        float64 `yaml:"max_ci_width,omitempty" json:"max_ci_width,omitempty"`
	MinResponseLength int     `yaml:"min_response_length,omitempty" json:"min_response_length,omitempty"`
	MaxCoefficientVar float64 `yaml:"max_coefficient_of_variation,omitempty" json:"max_coefficient_of_variation,omitempty"`
}

// Config is the experiment configuration as authored by the researcher
type Config struct {
	Name           string       `yaml:"name" json:"name"`
	Description    string       `yaml:"description,omitempty" json:"description,omitempty"`
	FrameworkRef   string       `yaml:"framework_ref" json:"framework_ref"`
	CorpusRef      string       `yaml:"corpus_ref" json:"corpus_ref"`
	Questions      []string     `yaml:"questions,omitempty" json:"questions,omitempty"`
	Hypotheses     []Hypothesis `yaml:"hypotheses,omitempty" json:"hypotheses,omitempty"`
	AnalysisMode   string       `yaml:"analysis_mode,omitempty" json:"analysis_mode,omitempty"`
	SelectedModels []string     `yaml:"selected_models" json:"selected_models"`
	// VerificationModels maps an analysis model to the model that verifies
	// its work. When absent, the orchestrator picks a different family.
	VerificationModels map[string]string `yaml:"verification_models,omitempty" json:"verification_models,omitempty"`
	Thresholds         *Thresholds       `yaml:"thresholds,omitempty" json:"thresholds,omitempty"`
}

// Sealed is the hashed form of the config that becomes the experiment_config
// artifact: the root of the provenance graph.
type Sealed struct {
	Config        Config             `json:"config"`
	FrameworkHash core.FrameworkHash `json:"framework_hash"`
	CorpusHash    core.CorpusHash    `json:"corpus_hash"`
	DocumentHashes []core.Hash       `json:"document_hashes"`
}

// Parse decodes a YAML experiment config and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse experiment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants of the config
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("experiment missing name")
	}
	if strings.TrimSpace(c.FrameworkRef) == "" {
		return fmt.Errorf("experiment %s missing framework_ref", c.Name)
	}
	if strings.TrimSpace(c.CorpusRef) == "" {
		return fmt.Errorf("experiment %s missing corpus_ref", c.Name)
	}
	if len(c.SelectedModels) == 0 {
		return fmt.Errorf("experiment %s selects no models", c.Name)
	}
	seen := make(map[string]bool, len(c.Hypotheses))
	for i, h := range c.Hypotheses {
		if strings.TrimSpace(h.ID) == "" {
			return fmt.Errorf("experiment %s: hypothesis %d missing id", c.Name, i)
		}
		if seen[h.ID] {
			return fmt.Errorf("experiment %s: duplicate hypothesis id %q", c.Name, h.ID)
		}
		seen[h.ID] = true
	}
	return nil
}

// EffectiveThresholds returns configured thresholds with defaults applied
func (c *Config) EffectiveThresholds() Thresholds {
	t := Thresholds{
		MinFrameworkFit:   0.3,
		MinSampleSize:     3,
		MaxPValue:         1.0,
		MaxCIWidth:        1.0,
		MinResponseLength: 50,
		MaxCoefficientVar: 2.0,
	}
	if c.Thresholds == nil {
		return t
	}
	o := c.Thresholds
	if o.MinFrameworkFit > 0 {
		t.MinFrameworkFit = o.MinFrameworkFit
	}
	if o.MinSampleSize > 0 {
		t.MinSampleSize = o.MinSampleSize
	}
	if o.MaxPValue > 0 {
		t.MaxPValue = o.MaxPValue
	}
	if o.MaxCIWidth > 0 {
		t.MaxCIWidth = o.MaxCIWidth
	}
	if o.MinResponseLength > 0 {
		t.MinResponseLength = o.MinResponseLength
	}
	if o.MaxCoefficientVar > 0 {
		t.MaxCoefficientVar = o.MaxCoefficientVar
	}
	return t
}

// Hash computes the sealed experiment identity
func (s *Sealed) Hash() (core.Hash, error) {
	return core.HashCanonical(s)
}
