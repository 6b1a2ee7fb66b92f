package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mquevedo/evalflow/internal/api"
	"github.com/mquevedo/evalflow/internal/cache"
	"github.com/mquevedo/evalflow/internal/calendar"
	"github.com/mquevedo/evalflow/internal/catalog"
	"github.com/mquevedo/evalflow/internal/completeness"
	"github.com/mquevedo/evalflow/internal/consistency"
	"github.com/mquevedo/evalflow/internal/process"
	"github.com/mquevedo/evalflow/internal/registry"
	"github.com/mquevedo/evalflow/internal/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON-over-HTTP evaluation service",
	RunE: func(cmd *cobra.Command, args []string) error {
		noCache, _ := cmd.Flags().GetBool("no-cache")
		ctx := context.Background()

		pool, err := connectDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		cal, err := calendar.Load(cfg.CalendarFile)
		if err != nil {
			return err
		}

		watcher, err := catalog.Watch(cfg.CatalogDir)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		defer watcher.Close()

		st := store.NewPostgres(pool)
		tracker := process.NewTracker(st, cal, trackerConfig())
		ledger := process.NewLedger(st)

		classSource := registry.NewClassificationClient(cfg.ClassificationURL)
		artifacts := registry.NewArtifactClient(cfg.ArtifactRegistryURL)
		content := registry.NewContentClient(cfg.ContentStoreURL)

		var reportCache *cache.Cache
		if !noCache {
			reportCache, err = cache.Connect(cfg.RedisURL, 10*time.Minute)
			if err != nil {
				return err
			}
		}

		server := &api.Server{
			Tracker:      tracker,
			Ledger:       ledger,
			Store:        st,
			Completeness: completeness.NewEvaluator(classSource, artifacts, st, watcher),
			Consistency:  consistency.NewEngine(content, watcher),
			Catalogs:     watcher,
			Cache:        reportCache,
		}

		log.Printf("evalflow serving on %s (catalog %s)", cfg.ListenAddr, watcher.Current().Version)
		return http.ListenAndServe(cfg.ListenAddr, server.Router())
	},
}

func init() {
	serveCmd.Flags().Bool("no-cache", false, "Disable the Redis report cache")
}
