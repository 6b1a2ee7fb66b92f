// Package catalog loads the versioned requirement and consistency rule
// catalogs from YAML files. A loaded Catalog is immutable; hot reload swaps
// the whole catalog atomically so in-flight evaluations keep the version
// they started with.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Severity tags a consistency finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// RuleKind is the evaluation strategy of a consistency rule.
type RuleKind string

const (
	KindEquality       RuleKind = "equality"
	KindContainment    RuleKind = "containment"
	KindNumericRange   RuleKind = "numeric_range"
	KindCrossRefExists RuleKind = "cross_reference_exists"
)

// FieldRef addresses one field in the structured content snapshot.
type FieldRef struct {
	Chapter string `yaml:"chapter" json:"chapter"`
	Section string `yaml:"section" json:"section"`
	Field   string `yaml:"field" json:"field"`
}

// Key is the snapshot lookup key for the reference.
func (f FieldRef) Key() string {
	return f.Chapter + "/" + f.Section + "/" + f.Field
}

// RequirementRule declares one artifact or measure obligation for a project
// scope. A rule without a sub-category applies to every sub-category of its
// category.
type RequirementRule struct {
	Category              string `yaml:"category" json:"category"`
	SubCategory           string `yaml:"subcategory,omitempty" json:"subcategory,omitempty"`
	Artifact              string `yaml:"artifact" json:"artifact"`
	Mandatory             bool   `yaml:"mandatory" json:"mandatory"`
	MandatoryIfFull       bool   `yaml:"mandatory_if_full" json:"mandatory_if_full"`
	MandatoryIfSimplified bool   `yaml:"mandatory_if_simplified" json:"mandatory_if_simplified"`
	Title                 string `yaml:"title" json:"title"`
}

// NumericParams bound a numeric-range rule: origin <= destination*factor + offset.
type NumericParams struct {
	Factor float64 `yaml:"factor" json:"factor"`
	Offset float64 `yaml:"offset" json:"offset"`
}

// ConsistencyRule declares one cross-section check.
type ConsistencyRule struct {
	ID          string         `yaml:"id" json:"id"`
	Kind        RuleKind       `yaml:"kind" json:"kind"`
	Origin      FieldRef       `yaml:"origin" json:"origin"`
	Destination FieldRef       `yaml:"destination" json:"destination"`
	Params      *NumericParams `yaml:"params,omitempty" json:"params,omitempty"`
	Severity    Severity       `yaml:"severity" json:"severity"`
	Message     string         `yaml:"message" json:"message"`
}

// Catalog is one immutable version of both rule sets.
type Catalog struct {
	Version      string
	Requirements []RequirementRule
	Consistency  []ConsistencyRule
	LoadedAt     time.Time
}

// catalogFile is the YAML shape; any file in the catalog dir may carry a
// version and either rule list, merged in filename order.
type catalogFile struct {
	Version      string            `yaml:"version"`
	Requirements []RequirementRule `yaml:"requirements"`
	Consistency  []ConsistencyRule `yaml:"consistency"`
}

// Load reads every *.yaml file in dir into one Catalog.
func Load(dir string) (*Catalog, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list catalog dir: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no catalog files in %s", dir)
	}
	sort.Strings(files)

	cat := &Catalog{LoadedAt: time.Now().UTC()}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read catalog file: %w", err)
		}
		var cf catalogFile
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(file), err)
		}
		if cf.Version != "" {
			cat.Version = cf.Version
		}
		cat.Requirements = append(cat.Requirements, cf.Requirements...)
		cat.Consistency = append(cat.Consistency, cf.Consistency...)
	}
	if cat.Version == "" {
		return nil, fmt.Errorf("catalog in %s declares no version", dir)
	}
	if err := cat.Check(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Check validates the catalog: unique requirement scopes, unique consistency
// rule ids, known kinds and severities, complete field references.
func (c *Catalog) Check() error {
	scopes := map[string]bool{}
	for _, r := range c.Requirements {
		if r.Category == "" || r.Artifact == "" {
			return fmt.Errorf("requirement rule needs category and artifact (got %q/%q)", r.Category, r.Artifact)
		}
		key := r.Category + "|" + r.SubCategory + "|" + r.Artifact
		if scopes[key] {
			return fmt.Errorf("duplicate requirement rule for %s/%s artifact %s", r.Category, r.SubCategory, r.Artifact)
		}
		scopes[key] = true
	}

	ids := map[string]bool{}
	for _, r := range c.Consistency {
		if r.ID == "" {
			return fmt.Errorf("consistency rule without id")
		}
		if ids[r.ID] {
			return fmt.Errorf("duplicate consistency rule id %q", r.ID)
		}
		ids[r.ID] = true
		switch r.Kind {
		case KindEquality, KindContainment, KindNumericRange, KindCrossRefExists:
		default:
			return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
		}
		switch r.Severity {
		case SeverityError, SeverityWarning, SeverityInfo:
		default:
			return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
		}
		if r.Origin.Field == "" || r.Destination.Field == "" {
			return fmt.Errorf("rule %s: origin and destination need a field", r.ID)
		}
	}
	return nil
}
