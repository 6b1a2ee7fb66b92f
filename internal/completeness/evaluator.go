// Package completeness combines resolved requirements with the external
// artifact registry to report what a project still owes, including the
// impact/measure coverage check.
package completeness

import (
	"context"
	"sort"
	"time"

	"github.com/mquevedo/evalflow/internal/catalog"
	"github.com/mquevedo/evalflow/internal/process"
	"github.com/mquevedo/evalflow/internal/resolver"
)

// ArtifactRegistry is the read-only view over externally stored artifacts.
type ArtifactRegistry interface {
	// Has reports whether the project submitted an artifact of the category.
	Has(ctx context.Context, projectID, categoryCode string) (bool, error)
}

// ClassificationSource yields a project's classification attributes.
type ClassificationSource interface {
	Classification(ctx context.Context, projectID string) (process.Classification, process.Instrument, error)
}

// ImpactSource yields declared impacts and their measure links; satisfied by
// the record store.
type ImpactSource interface {
	Impacts(ctx context.Context, projectID string) ([]process.EnvironmentalImpact, error)
	ImpactLinks(ctx context.Context, projectID string) ([]process.ImpactMeasureLink, error)
}

// MissingRequirement is one unmet requirement in a report.
type MissingRequirement struct {
	Artifact string `json:"artifact"`
	Title    string `json:"title,omitempty"`
}

// Report is the completeness snapshot for a project. Always structurally
// valid, even when external reads fail (Degraded) or the catalog has no
// matching rules (empty lists, Percent 0).
type Report struct {
	ProjectID        string               `json:"project_id"`
	CatalogVersion   string               `json:"catalog_version"`
	Total            int                  `json:"total"`
	MandatoryTotal   int                  `json:"mandatory_total"`
	SubmittedTotal   int                  `json:"submitted_total"`
	MissingMandatory []MissingRequirement `json:"missing_mandatory"`
	MissingOptional  []MissingRequirement `json:"missing_optional"`
	UncoveredImpacts []string             `json:"uncovered_impacts"`
	Percent          float64              `json:"percent"`
	Complete         bool                 `json:"complete"`
	Degraded         bool                 `json:"degraded"`
	EvaluatedAt      time.Time            `json:"evaluated_at"`
}

// Evaluator computes completeness reports. Stateless; safe for concurrent
// use across and within projects.
type Evaluator struct {
	class    ClassificationSource
	registry ArtifactRegistry
	impacts  ImpactSource
	catalogs catalog.Provider
}

// NewEvaluator wires the evaluator's read-only collaborators.
func NewEvaluator(class ClassificationSource, registry ArtifactRegistry, impacts ImpactSource, catalogs catalog.Provider) *Evaluator {
	return &Evaluator{class: class, registry: registry, impacts: impacts, catalogs: catalogs}
}

// Evaluate builds the completeness report for a project against the catalog
// version active at call time. External read failures degrade the report
// instead of failing it.
func (e *Evaluator) Evaluate(ctx context.Context, projectID string) (*Report, error) {
	cat := e.catalogs.Current()
	report := &Report{
		ProjectID:        projectID,
		CatalogVersion:   cat.Version,
		MissingMandatory: []MissingRequirement{},
		MissingOptional:  []MissingRequirement{},
		UncoveredImpacts: []string{},
		EvaluatedAt:      time.Now().UTC(),
	}

	class, instrument, err := e.class.Classification(ctx, projectID)
	if err != nil {
		report.Degraded = true
		return report, nil
	}

	requirements := resolver.Resolve(class, instrument, cat)
	report.Total = len(requirements)
	for _, req := range requirements {
		if req.Mandatory {
			report.MandatoryTotal++
		}
		exists, err := e.registry.Has(ctx, projectID, req.Artifact)
		if err != nil {
			report.Degraded = true
			continue
		}
		if exists {
			report.SubmittedTotal++
			continue
		}
		missing := MissingRequirement{Artifact: req.Artifact, Title: req.Title}
		if req.Mandatory {
			report.MissingMandatory = append(report.MissingMandatory, missing)
		} else {
			report.MissingOptional = append(report.MissingOptional, missing)
		}
	}
	if report.Total > 0 {
		report.Percent = float64(report.SubmittedTotal) / float64(report.Total) * 100
	}

	uncovered, degraded := e.uncoveredImpacts(ctx, projectID)
	report.UncoveredImpacts = uncovered
	report.Degraded = report.Degraded || degraded

	report.Complete = len(report.MissingMandatory) == 0 && len(report.UncoveredImpacts) == 0 && !report.Degraded
	return report, nil
}

// uncoveredImpacts lists significant impacts without any linked mitigation
// measure. A distinct blocking category from missing artifacts.
func (e *Evaluator) uncoveredImpacts(ctx context.Context, projectID string) ([]string, bool) {
	impacts, err := e.impacts.Impacts(ctx, projectID)
	if err != nil {
		return []string{}, true
	}
	links, err := e.impacts.ImpactLinks(ctx, projectID)
	if err != nil {
		return []string{}, true
	}
	linked := map[string]bool{}
	for _, l := range links {
		linked[l.ImpactID] = true
	}
	uncovered := []string{}
	for _, imp := range impacts {
		if imp.Significance.RequiresMitigation() && !linked[imp.ID] {
			uncovered = append(uncovered, imp.ID)
		}
	}
	sort.Strings(uncovered)
	return uncovered, false
}
