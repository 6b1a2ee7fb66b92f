package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Requirement and consistency catalog tools",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the catalog files before deploying them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		fmt.Printf("Catalog %s OK: %d requirement rules, %d consistency rules.\n",
			cat.Version, len(cat.Requirements), len(cat.Consistency))
		return nil
	},
}

var catalogVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the active catalog version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		fmt.Println(cat.Version)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogCheckCmd)
	catalogCmd.AddCommand(catalogVersionCmd)
}
