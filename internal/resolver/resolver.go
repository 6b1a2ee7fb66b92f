// Package resolver computes the concrete requirement set for a project from
// the catalog, its classification and its regulatory instrument. Pure and
// deterministic: identical inputs yield identical output.
package resolver

import (
	"sort"

	"github.com/mquevedo/evalflow/internal/catalog"
	"github.com/mquevedo/evalflow/internal/process"
)

// ResolvedRequirement is one artifact obligation after scope matching and
// instrument conditioning.
type ResolvedRequirement struct {
	Artifact    string `json:"artifact"`
	Title       string `json:"title"`
	Mandatory   bool   `json:"mandatory"`
	Category    string `json:"category"`
	SubCategory string `json:"subcategory,omitempty"`
}

// Resolve selects the catalog rules matching the classification and computes
// the mandatory flag per instrument. Category-wide rules (no sub-category)
// union with sub-category rules; when both target the same artifact the
// sub-category rule wins. Output is sorted by artifact code.
func Resolve(class process.Classification, instrument process.Instrument, cat *catalog.Catalog) []ResolvedRequirement {
	// most specific rule per artifact code
	picked := map[string]catalog.RequirementRule{}
	for _, rule := range cat.Requirements {
		if rule.Category != class.Category {
			continue
		}
		if rule.SubCategory != "" && rule.SubCategory != class.SubCategory {
			continue
		}
		prev, ok := picked[rule.Artifact]
		if ok && prev.SubCategory != "" && rule.SubCategory == "" {
			continue
		}
		picked[rule.Artifact] = rule
	}

	out := make([]ResolvedRequirement, 0, len(picked))
	for _, rule := range picked {
		out = append(out, ResolvedRequirement{
			Artifact:    rule.Artifact,
			Title:       rule.Title,
			Mandatory:   mandatory(rule, instrument),
			Category:    rule.Category,
			SubCategory: rule.SubCategory,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Artifact < out[j].Artifact })
	return out
}

func mandatory(rule catalog.RequirementRule, instrument process.Instrument) bool {
	if rule.Mandatory {
		return true
	}
	switch instrument {
	case process.InstrumentFull:
		return rule.MandatoryIfFull
	case process.InstrumentSimplified:
		return rule.MandatoryIfSimplified
	}
	return false
}
