package cli

import (
	"context"
	"fmt"

	"github.com/mquevedo/evalflow/internal/db"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool, migrationsDir()); err != nil {
			return err
		}
		fmt.Println("Database schema created.")
		return nil
	},
}
