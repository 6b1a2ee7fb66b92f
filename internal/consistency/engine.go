// Package consistency evaluates declarative cross-section rules against a
// project's structured content snapshot. Findings are recomputed wholesale
// on every call; nothing is persisted.
package consistency

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mquevedo/evalflow/internal/catalog"
)

// ContentSource is the external structured-content store, keyed by
// catalog.FieldRef.Key() ("chapter/section/field").
type ContentSource interface {
	Fields(ctx context.Context, projectID string) (map[string]any, error)
}

// Outcome is the result of one rule evaluation. Unresolvable (a missing
// field on either side) is distinct from fail: it surfaces as info, never as
// a false inconsistency.
type Outcome string

const (
	OutcomePass         Outcome = "pass"
	OutcomeFail         Outcome = "fail"
	OutcomeUnresolvable Outcome = "unresolvable"
)

// Finding is one evaluated rule.
type Finding struct {
	RuleID      string           `json:"rule_id"`
	ProjectID   string           `json:"project_id"`
	Outcome     Outcome          `json:"outcome"`
	Severity    catalog.Severity `json:"severity"`
	Message     string           `json:"message"`
	EvaluatedAt time.Time        `json:"evaluated_at"`
}

// Result wraps one whole evaluation pass.
type Result struct {
	ProjectID      string    `json:"project_id"`
	CatalogVersion string    `json:"catalog_version"`
	Findings       []Finding `json:"findings"`
	Degraded       bool      `json:"degraded"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// Engine evaluates the consistency catalog. Stateless; safe for concurrent
// use.
type Engine struct {
	content  ContentSource
	catalogs catalog.Provider
}

// NewEngine wires the engine's content source and catalog provider.
func NewEngine(content ContentSource, catalogs catalog.Provider) *Engine {
	return &Engine{content: content, catalogs: catalogs}
}

// Evaluate runs every consistency rule against the project's content
// snapshot, using the catalog version active at call time. A content-store
// failure yields a degraded result, not an error.
func (e *Engine) Evaluate(ctx context.Context, projectID string) (*Result, error) {
	cat := e.catalogs.Current()
	now := time.Now().UTC()
	res := &Result{
		ProjectID:      projectID,
		CatalogVersion: cat.Version,
		Findings:       []Finding{},
		EvaluatedAt:    now,
	}

	fields, err := e.content.Fields(ctx, projectID)
	if err != nil {
		res.Degraded = true
		return res, nil
	}

	for _, rule := range cat.Consistency {
		res.Findings = append(res.Findings, evalRule(rule, projectID, fields, now))
	}
	sort.SliceStable(res.Findings, func(i, j int) bool {
		return res.Findings[i].RuleID < res.Findings[j].RuleID
	})
	return res, nil
}

func evalRule(rule catalog.ConsistencyRule, projectID string, fields map[string]any, now time.Time) Finding {
	f := Finding{RuleID: rule.ID, ProjectID: projectID, Severity: rule.Severity, EvaluatedAt: now}

	origin, originOK := fields[rule.Origin.Key()]
	dest, destOK := fields[rule.Destination.Key()]
	if !originOK || !destOK {
		f.Outcome = OutcomeUnresolvable
		f.Severity = catalog.SeverityInfo
		missing := rule.Origin.Key()
		if originOK {
			missing = rule.Destination.Key()
		}
		f.Message = fmt.Sprintf("rule %s could not be evaluated: field %s is absent", rule.ID, missing)
		return f
	}

	var pass bool
	var reason string
	switch rule.Kind {
	case catalog.KindEquality:
		pass = equal(origin, dest)
		reason = "values differ"
	case catalog.KindContainment:
		pass = contains(dest, origin)
		reason = "destination does not contain origin"
	case catalog.KindNumericRange:
		n, d, ok := numericPair(origin, dest)
		if !ok {
			f.Outcome = OutcomeUnresolvable
			f.Severity = catalog.SeverityInfo
			f.Message = fmt.Sprintf("rule %s could not be evaluated: non-numeric value", rule.ID)
			return f
		}
		bound := d
		if rule.Params != nil {
			bound = d*rule.Params.Factor + rule.Params.Offset
		}
		pass = n <= bound
		reason = fmt.Sprintf("%v exceeds bound %v", n, bound)
	case catalog.KindCrossRefExists:
		var missing []string
		pass, missing = crossRef(origin, dest)
		reason = "missing counterpart entries: " + strings.Join(missing, ", ")
	default:
		f.Outcome = OutcomeUnresolvable
		f.Severity = catalog.SeverityInfo
		f.Message = fmt.Sprintf("rule %s has unknown kind %q", rule.ID, rule.Kind)
		return f
	}

	if pass {
		f.Outcome = OutcomePass
		f.Message = fmt.Sprintf("rule %s holds", rule.ID)
		return f
	}
	f.Outcome = OutcomeFail
	f.Message = render(rule, origin, dest)
	if f.Message == "" {
		f.Message = fmt.Sprintf("rule %s violated: %s", rule.ID, reason)
	}
	return f
}

// render fills the rule's message template; {origin} and {destination}
// expand to the actual values.
func render(rule catalog.ConsistencyRule, origin, dest any) string {
	msg := rule.Message
	msg = strings.ReplaceAll(msg, "{origin}", stringify(origin))
	msg = strings.ReplaceAll(msg, "{destination}", stringify(dest))
	return msg
}

// equal compares numerically when both sides are numbers, element-wise for
// lists, and by normalized string otherwise.
func equal(a, b any) bool {
	if na, aok := asNumber(a); aok {
		if nb, bok := asNumber(b); bok {
			return na == nb
		}
	}
	la, aok := asList(a)
	lb, bok := asList(b)
	if aok && bok {
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !equal(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return stringify(a) == stringify(b)
}

// contains: destination list contains the origin value (or every origin list
// entry); for strings, substring containment.
func contains(dest, origin any) bool {
	if dl, ok := asList(dest); ok {
		entries, isList := asList(origin)
		if !isList {
			entries = []any{origin}
		}
		for _, entry := range entries {
			if !listHas(dl, entry) {
				return false
			}
		}
		return true
	}
	ds, dok := dest.(string)
	os, ook := origin.(string)
	if dok && ook {
		return strings.Contains(ds, os)
	}
	return equal(dest, origin)
}

// crossRef: every origin entry must have a counterpart in the destination
// list. Returns the missing entries for the message.
func crossRef(origin, dest any) (bool, []string) {
	entries, ok := asList(origin)
	if !ok {
		entries = []any{origin}
	}
	dl, ok := asList(dest)
	if !ok {
		dl = []any{dest}
	}
	var missing []string
	for _, entry := range entries {
		if !listHas(dl, entry) {
			missing = append(missing, stringify(entry))
		}
	}
	return len(missing) == 0, missing
}

func listHas(list []any, v any) bool {
	for _, item := range list {
		if equal(item, v) {
			return true
		}
	}
	return false
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	}
	return 0, false
}

func numericPair(a, b any) (float64, float64, bool) {
	na, aok := asNumber(a)
	nb, bok := asNumber(b)
	return na, nb, aok && bok
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
