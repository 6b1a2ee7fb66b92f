package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const requirementsYAML = `version: "2026.1"
requirements:
  - category: mining
    artifact: EIA-CH3
    mandatory: true
    title: Physical baseline
  - category: mining
    subcategory: open_pit
    artifact: BLA-01
    mandatory_if_full: true
    title: Blasting plan
`

const consistencyYAML = `consistency:
  - id: R-NAME
    kind: equality
    origin: {chapter: "1", section: "2", field: project_name}
    destination: {chapter: "5", section: "1", field: project_name}
    severity: error
    message: "declared name {origin} does not match {destination}"
  - id: R-WATER
    kind: numeric_range
    origin: {chapter: "2", section: "4", field: water_demand}
    destination: {chapter: "3", section: "1", field: granted_rights}
    params: {factor: 1.1, offset: 0}
    severity: warning
    message: "demand over granted rights"
`

func writeCatalogDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadMergesFiles(t *testing.T) {
	dir := writeCatalogDir(t, map[string]string{
		"00-requirements.yaml": requirementsYAML,
		"10-consistency.yaml":  consistencyYAML,
	})

	cat, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Version != "2026.1" {
		t.Errorf("version = %q, want 2026.1", cat.Version)
	}
	if len(cat.Requirements) != 2 {
		t.Errorf("requirements = %d, want 2", len(cat.Requirements))
	}
	if len(cat.Consistency) != 2 {
		t.Errorf("consistency rules = %d, want 2", len(cat.Consistency))
	}
	rule := cat.Consistency[1]
	if rule.ID != "R-WATER" || rule.Kind != KindNumericRange {
		t.Fatalf("rule = %+v, want R-WATER numeric_range", rule)
	}
	if rule.Params == nil || rule.Params.Factor != 1.1 {
		t.Errorf("params = %+v, want factor 1.1", rule.Params)
	}
	if got := rule.Origin.Key(); got != "2/4/water_demand" {
		t.Errorf("origin key = %q, want 2/4/water_demand", got)
	}
}

func TestLoadRequiresVersion(t *testing.T) {
	dir := writeCatalogDir(t, map[string]string{
		"rules.yaml": consistencyYAML, // carries no version
	})
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "version") {
		t.Errorf("error = %v, want version complaint", err)
	}
}

func TestLoadEmptyDirFails(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for empty catalog dir")
	}
}

func TestCheckRejectsBadCatalogs(t *testing.T) {
	base := func() *Catalog {
		return &Catalog{
			Version: "1",
			Requirements: []RequirementRule{
				{Category: "mining", Artifact: "EIA-CH3"},
			},
			Consistency: []ConsistencyRule{
				{ID: "R-1", Kind: KindEquality, Severity: SeverityError,
					Origin: FieldRef{Chapter: "1", Field: "a"}, Destination: FieldRef{Chapter: "2", Field: "b"}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Catalog)
		want   string
	}{
		{"valid", func(c *Catalog) {}, ""},
		{"duplicate requirement scope", func(c *Catalog) {
			c.Requirements = append(c.Requirements, RequirementRule{Category: "mining", Artifact: "EIA-CH3"})
		}, "duplicate requirement rule"},
		{"requirement without artifact", func(c *Catalog) {
			c.Requirements = append(c.Requirements, RequirementRule{Category: "mining"})
		}, "category and artifact"},
		{"duplicate rule id", func(c *Catalog) {
			c.Consistency = append(c.Consistency, c.Consistency[0])
		}, "duplicate consistency rule id"},
		{"unknown kind", func(c *Catalog) {
			c.Consistency[0].Kind = "fuzzy"
		}, "unknown kind"},
		{"unknown severity", func(c *Catalog) {
			c.Consistency[0].Severity = "fatal"
		}, "unknown severity"},
		{"missing field ref", func(c *Catalog) {
			c.Consistency[0].Destination.Field = ""
		}, "need a field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := base()
			tt.mutate(cat)
			err := cat.Check()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Check: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := writeCatalogDir(t, map[string]string{
		"catalog.yaml": requirementsYAML,
	})

	w, err := Watch(dir)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if got := w.Current().Version; got != "2026.1" {
		t.Fatalf("initial version = %q, want 2026.1", got)
	}

	updated := strings.Replace(requirementsYAML, "2026.1", "2026.2", 1)
	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().Version == "2026.2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("catalog not reloaded, version still %q", w.Current().Version)
}

func TestWatcherKeepsLastGoodOnBrokenReload(t *testing.T) {
	dir := writeCatalogDir(t, map[string]string{
		"catalog.yaml": requirementsYAML,
	})

	w, err := Watch(dir)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte("version: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Give the watcher time to observe the write; the catalog must survive.
	time.Sleep(300 * time.Millisecond)
	if got := w.Current().Version; got != "2026.1" {
		t.Errorf("version after broken reload = %q, want 2026.1", got)
	}
	if len(w.Current().Requirements) != 2 {
		t.Errorf("requirements after broken reload = %d, want 2", len(w.Current().Requirements))
	}
}
