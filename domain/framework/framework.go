// Package framework defines the authored scoring framework consumed by the
// analysis pipeline: an ordered list of rhetorical/ethical dimensions, each
// scored per document with a raw value, salience and confidence.
package framework

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"discernus/domain/core"
)

// Dimension is one scored axis within a framework
type Dimension struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Scale       string `yaml:"scale" json:"scale"`
	Markers     string `yaml:"markers,omitempty" json:"markers,omitempty"`
}

// DerivedMetric declares a post-hoc quantity the scoring model must compute
// from dimension scores, together with the formula it is expected to execute.
type DerivedMetric struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Formula     string `yaml:"formula" json:"formula"`
}

// Framework is a versioned definition of scoring dimensions
type Framework struct {
	Name           string          `yaml:"name" json:"name"`
	Version        string          `yaml:"version" json:"version"`
	Description    string          `yaml:"description,omitempty" json:"description,omitempty"`
	Dimensions     []Dimension     `yaml:"dimensions" json:"dimensions"`
	DerivedMetrics []DerivedMetric `yaml:"derived_metrics,omitempty" json:"derived_metrics,omitempty"`
}

// Parse decodes a YAML framework document and validates it
func Parse(data []byte) (*Framework, error) {
	var fw Framework
	if err := yaml.Unmarshal(data, &fw); err != nil {
		return nil, fmt.Errorf("parse framework: %w", err)
	}
	if err := fw.Validate(); err != nil {
		return nil, err
	}
	return &fw, nil
}

// Validate checks structural invariants of the framework
func (f *Framework) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("framework missing name")
	}
	if strings.TrimSpace(f.Version) == "" {
		return fmt.Errorf("framework %s missing version", f.Name)
	}
	if len(f.Dimensions) == 0 {
		return fmt.Errorf("framework %s declares no dimensions", f.Name)
	}
	seen := make(map[string]bool, len(f.Dimensions))
	for i, dim := range f.Dimensions {
		name := strings.TrimSpace(dim.Name)
		if name == "" {
			return fmt.Errorf("framework %s: dimension %d missing name", f.Name, i)
		}
		if seen[name] {
			return fmt.Errorf("framework %s: duplicate dimension %q", f.Name, name)
		}
		seen[name] = true
	}
	return nil
}

// DimensionNames returns the ordered dimension names
func (f *Framework) DimensionNames() []string {
	names := make([]string, len(f.Dimensions))
	for i, d := range f.Dimensions {
		names[i] = d.Name
	}
	return names
}

// HasDimension reports whether the framework declares the named dimension
func (f *Framework) HasDimension(name string) bool {
	for _, d := range f.Dimensions {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Hash computes the framework identity: the sha256 of its canonical-form
// serialization. Equal frameworks always hash equal regardless of YAML
// formatting in the source file.
func (f *Framework) Hash() (core.FrameworkHash, error) {
	h, err := core.HashCanonical(f)
	if err != nil {
		return "", fmt.Errorf("hash framework %s: %w", f.Name, err)
	}
	return core.FrameworkHash(h), nil
}
