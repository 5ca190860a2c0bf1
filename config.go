package behaviorsdk

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ──────────────────────────────────────────────
// Config loading — YAML trigger taxonomies and phase tables
// ──────────────────────────────────────────────

// The taxonomy and the phase ladders are data, loaded at startup. New
// trigger types and behavior types ship as config, not code.
//
// Taxonomy file shape:
//
//	triggers:
//	  - type: criticism
//	    weight: 0.8
//	    patterns: ['(?i)\byou are wrong\b']
//	    keywords: ["that is wrong"]
//	    behaviors: [volatile_affect]
//
// Phase table file shape:
//
//	behaviors:
//	  - type: obsessive_attachment
//	    phases:
//	      - phase: 1
//	        name: genuine interest
//	        enter_threshold: 0.0
//	        exit_threshold: 0.0
//	        min_dwell: 0s
//	        narrative_guidance: "..."

type taxonomyFile struct {
	Triggers []triggerRuleYAML `yaml:"triggers"`
}

type triggerRuleYAML struct {
	Type      string   `yaml:"type"`
	Weight    float64  `yaml:"weight"`
	Patterns  []string `yaml:"patterns"`
	Keywords  []string `yaml:"keywords"`
	Behaviors []string `yaml:"behaviors"`
}

// ParseTaxonomy parses a YAML trigger taxonomy.
func ParseTaxonomy(data []byte) (*TriggerTaxonomy, error) {
	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if len(file.Triggers) == 0 {
		return nil, fmt.Errorf("taxonomy has no triggers")
	}

	rules := make([]TriggerRule, 0, len(file.Triggers))
	for _, t := range file.Triggers {
		if t.Type == "" {
			return nil, fmt.Errorf("trigger rule missing type")
		}
		if t.Weight < -1 || t.Weight > 1 {
			return nil, fmt.Errorf("trigger %s: weight %.2f out of [-1,1]", t.Type, t.Weight)
		}
		if len(t.Patterns) == 0 && len(t.Keywords) == 0 {
			return nil, fmt.Errorf("trigger %s: no patterns or keywords", t.Type)
		}
		if len(t.Behaviors) == 0 {
			return nil, fmt.Errorf("trigger %s: no behavior types", t.Type)
		}
		patterns := make([]*regexp.Regexp, 0, len(t.Patterns))
		for _, expr := range t.Patterns {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("trigger %s: bad pattern %q: %w", t.Type, expr, err)
			}
			patterns = append(patterns, re)
		}
		behaviors := make([]BehaviorType, 0, len(t.Behaviors))
		for _, b := range t.Behaviors {
			behaviors = append(behaviors, BehaviorType(b))
		}
		rules = append(rules, TriggerRule{
			Type:      TriggerType(t.Type),
			Weight:    t.Weight,
			Patterns:  patterns,
			Keywords:  t.Keywords,
			Behaviors: behaviors,
		})
	}
	return NewTriggerTaxonomy(rules), nil
}

// LoadTaxonomyFile reads a YAML taxonomy from disk.
func LoadTaxonomyFile(path string) (*TriggerTaxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

type phaseTablesFile struct {
	Behaviors []phaseTableYAML `yaml:"behaviors"`
}

type phaseTableYAML struct {
	Type   string          `yaml:"type"`
	Phases []phaseSpecYAML `yaml:"phases"`
}

type phaseSpecYAML struct {
	Phase             int     `yaml:"phase"`
	Name              string  `yaml:"name"`
	EnterThreshold    float64 `yaml:"enter_threshold"`
	ExitThreshold     float64 `yaml:"exit_threshold"`
	MinDwell          string  `yaml:"min_dwell"` // Go duration string, e.g. "30m"
	NarrativeGuidance string  `yaml:"narrative_guidance"`
	ContentWarning    string  `yaml:"content_warning"`
}

// ParsePhaseTables parses YAML phase ladders and validates each one.
func ParsePhaseTables(data []byte) (map[BehaviorType]*PhaseTable, error) {
	var file phaseTablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse phase tables: %w", err)
	}
	if len(file.Behaviors) == 0 {
		return nil, fmt.Errorf("phase table file has no behaviors")
	}

	tables := make(map[BehaviorType]*PhaseTable, len(file.Behaviors))
	for _, b := range file.Behaviors {
		if b.Type == "" {
			return nil, fmt.Errorf("phase table missing behavior type")
		}
		table := &PhaseTable{BehaviorType: BehaviorType(b.Type)}
		for _, p := range b.Phases {
			dwell := time.Duration(0)
			if p.MinDwell != "" {
				d, err := time.ParseDuration(p.MinDwell)
				if err != nil {
					return nil, fmt.Errorf("behavior %s phase %d: bad min_dwell %q: %w", b.Type, p.Phase, p.MinDwell, err)
				}
				dwell = d
			}
			table.Phases = append(table.Phases, PhaseSpec{
				Phase:             p.Phase,
				Name:              p.Name,
				EnterThreshold:    p.EnterThreshold,
				ExitThreshold:     p.ExitThreshold,
				MinDwell:          dwell,
				NarrativeGuidance: p.NarrativeGuidance,
				ContentWarning:    p.ContentWarning,
			})
		}
		if err := table.Validate(); err != nil {
			return nil, err
		}
		tables[table.BehaviorType] = table
	}
	return tables, nil
}

// LoadPhaseTablesFile reads YAML phase tables from disk.
func LoadPhaseTablesFile(path string) (map[BehaviorType]*PhaseTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase tables: %w", err)
	}
	return ParsePhaseTables(data)
}
