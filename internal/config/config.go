// Package config loads test definitions from YAML.
//
// Definitions are validated on load: a test that fails validation is
// rejected before it can ever reach running state. The loaded structs
// are passed explicitly to constructors; there is no package-level
// registry.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shipsplit/shipsplit/internal/experiment"
)

// DefaultExplorationRate applies to bandit tests that do not set one.
const DefaultExplorationRate = 0.1

type File struct {
	Tests []TestDef `yaml:"tests"`
}

type TestDef struct {
	ID                string        `yaml:"id"`
	Tenant            string        `yaml:"tenant"`
	Name              string        `yaml:"name"`
	Type              string        `yaml:"type"`
	Status            string        `yaml:"status"`
	ExplorationRate   *float64      `yaml:"exploration_rate"`
	AttributionWindow time.Duration `yaml:"attribution_window"`
	MutuallyExclusive []string      `yaml:"mutually_exclusive"`
	StartAt           time.Time     `yaml:"start_at"`
	EndAt             time.Time     `yaml:"end_at"`
	Variants          []VariantDef  `yaml:"variants"`
	Rules             []RuleDef     `yaml:"rules"`
}

type VariantDef struct {
	ID         string `yaml:"id"`
	Label      string `yaml:"label"`
	Weight     int    `yaml:"weight"`
	Control    bool   `yaml:"control"`
	RateSuffix string `yaml:"rate_suffix"`
}

type RuleDef struct {
	Op         string         `yaml:"op"`
	Conditions []ConditionDef `yaml:"conditions"`
	Children   []RuleDef      `yaml:"children"`
}

type ConditionDef struct {
	Attribute string   `yaml:"attribute"`
	Op        string   `yaml:"op"`
	Value     string   `yaml:"value"`
	Values    []string `yaml:"values"`
}

// Load reads and validates test definitions from path.
func Load(path string) ([]*experiment.Test, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML test definitions.
func Parse(raw []byte) ([]*experiment.Test, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	tests := make([]*experiment.Test, 0, len(f.Tests))
	for _, def := range f.Tests {
		t, err := def.toTest()
		if err != nil {
			return nil, err
		}
		if err := experiment.Validate(t); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, nil
}

func (d TestDef) toTest() (*experiment.Test, error) {
	t := &experiment.Test{
		ID:                d.ID,
		TenantID:          d.Tenant,
		Name:              d.Name,
		Type:              experiment.TestType(d.Type),
		Status:            experiment.Status(d.Status),
		AttributionWindow: d.AttributionWindow,
		MutuallyExclusive: d.MutuallyExclusive,
		StartAt:           d.StartAt,
		EndAt:             d.EndAt,
	}
	if t.Type == "" {
		t.Type = experiment.TypeFixed
	}
	if t.Status == "" {
		t.Status = experiment.StatusDraft
	}

	switch {
	case d.ExplorationRate != nil:
		t.ExplorationRate = *d.ExplorationRate
	case t.Type == experiment.TypeBandit:
		t.ExplorationRate = DefaultExplorationRate
	}

	for _, v := range d.Variants {
		t.Variants = append(t.Variants, experiment.Variant{
			ID:         v.ID,
			Label:      v.Label,
			Weight:     v.Weight,
			Control:    v.Control,
			RateSuffix: v.RateSuffix,
		})
	}

	for _, r := range d.Rules {
		t.Rules = append(t.Rules, toRule(r))
	}
	return t, nil
}

func toRule(d RuleDef) experiment.Rule {
	r := experiment.Rule{Op: experiment.RuleOp(d.Op)}
	if r.Op == "" {
		r.Op = experiment.RuleAnd
	}
	for _, c := range d.Conditions {
		r.Conditions = append(r.Conditions, experiment.Condition{
			Attribute: c.Attribute,
			Op:        experiment.Operator(c.Op),
			Value:     c.Value,
			Values:    c.Values,
		})
	}
	for _, child := range d.Children {
		r.Children = append(r.Children, toRule(child))
	}
	return r
}
