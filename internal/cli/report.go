package cli

import (
	"context"
	"fmt"

	"github.com/mquevedo/evalflow/internal/catalog"
	"github.com/mquevedo/evalflow/internal/completeness"
	"github.com/mquevedo/evalflow/internal/consistency"
	"github.com/mquevedo/evalflow/internal/registry"
	"github.com/mquevedo/evalflow/internal/store"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Read-only completeness and consistency reports",
}

var reportCompletenessCmd = &cobra.Command{
	Use:   "completeness [project-id]",
	Short: "Evaluate artifact completeness against the requirement catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		cat, err := loadCatalog()
		if err != nil {
			return err
		}

		evaluator := completeness.NewEvaluator(
			registry.NewClassificationClient(cfg.ClassificationURL),
			registry.NewArtifactClient(cfg.ArtifactRegistryURL),
			store.NewPostgres(pool),
			catalog.Static{Catalog: cat},
		)
		report, err := evaluator.Evaluate(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Project %s — %.1f%% complete (catalog %s)\n", report.ProjectID, report.Percent, report.CatalogVersion)
		fmt.Printf("  %d of %d requirements submitted (%d mandatory)\n",
			report.SubmittedTotal, report.Total, report.MandatoryTotal)
		for _, m := range report.MissingMandatory {
			fmt.Printf("  MISSING (mandatory): %s  %s\n", m.Artifact, m.Title)
		}
		for _, m := range report.MissingOptional {
			fmt.Printf("  missing (optional):  %s  %s\n", m.Artifact, m.Title)
		}
		for _, id := range report.UncoveredImpacts {
			fmt.Printf("  BLOCKING: significant impact %s has no linked mitigation measure\n", id)
		}
		if report.Degraded {
			fmt.Println("  Warning: report is degraded, an external read failed")
		}
		if report.Complete {
			fmt.Println("  Ready: no blocking items.")
		}
		return nil
	},
}

var reportConsistencyCmd = &cobra.Command{
	Use:   "consistency [project-id]",
	Short: "Run the cross-section consistency rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failOnly, _ := cmd.Flags().GetBool("failures")
		ctx := context.Background()

		cat, err := loadCatalog()
		if err != nil {
			return err
		}

		engine := consistency.NewEngine(
			registry.NewContentClient(cfg.ContentStoreURL),
			catalog.Static{Catalog: cat},
		)
		result, err := engine.Evaluate(ctx, args[0])
		if err != nil {
			return err
		}

		if result.Degraded {
			fmt.Println("Warning: content store unavailable, no rules evaluated")
			return nil
		}
		passed, failed, unresolved := 0, 0, 0
		for _, f := range result.Findings {
			switch f.Outcome {
			case consistency.OutcomePass:
				passed++
				if failOnly {
					continue
				}
			case consistency.OutcomeFail:
				failed++
			case consistency.OutcomeUnresolvable:
				unresolved++
			}
			fmt.Printf("  [%s] %s %s: %s\n", f.Severity, f.Outcome, f.RuleID, f.Message)
		}
		fmt.Printf("%d passed, %d failed, %d unresolvable (catalog %s)\n",
			passed, failed, unresolved, result.CatalogVersion)
		return nil
	},
}

func init() {
	reportConsistencyCmd.Flags().Bool("failures", false, "Show only failing and unresolvable rules")
	reportCmd.AddCommand(reportCompletenessCmd)
	reportCmd.AddCommand(reportConsistencyCmd)
}
