package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mquevedo/evalflow/internal/calendar"
	"github.com/mquevedo/evalflow/internal/catalog"
	"github.com/mquevedo/evalflow/internal/config"
	"github.com/mquevedo/evalflow/internal/process"
	"github.com/mquevedo/evalflow/internal/store"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	rootCmd = &cobra.Command{
		Use:   "evalflow",
		Short: "Regulatory compliance and evaluation workflow engine",
		Long: `evalflow tracks environmental-impact submissions through evaluation:
admissibility, clarification rounds with legal-day deadlines, completeness
against the requirement catalog, and cross-section consistency checks.

Run the API service:
  evalflow serve

Inspect a project:
  evalflow process status <project-id>`,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(catalogCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}

func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w\nSet EVALFLOW_DATABASE_URL environment variable", err)
	}
	return pool, nil
}

// newTracker assembles the Tracker and Ledger over a Postgres store.
func newTracker(pool *pgxpool.Pool) (*process.Tracker, *process.Ledger, error) {
	cal, err := calendar.Load(cfg.CalendarFile)
	if err != nil {
		return nil, nil, err
	}
	st := store.NewPostgres(pool)
	tracker := process.NewTracker(st, cal, trackerConfig())
	return tracker, process.NewLedger(st), nil
}

func trackerConfig() process.TrackerConfig {
	return process.TrackerConfig{
		BudgetFullDays:       cfg.BudgetFullDays,
		BudgetSimplifiedDays: cfg.BudgetSimplifiedDays,
		ResponseWindowDays:   cfg.ResponseWindowDays,
		DeadlineAlertDays:    cfg.DeadlineAlertDays,
	}
}

func loadCatalog() (*catalog.Catalog, error) {
	return catalog.Load(cfg.CatalogDir)
}

func migrationsDir() string {
	wd, _ := os.Getwd()
	return filepath.Join(wd, "migrations")
}
