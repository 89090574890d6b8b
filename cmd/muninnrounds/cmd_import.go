/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/muninn_rounds/internal/catalog"
	"github.com/friendsincode/muninn_rounds/internal/db"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import operational data",
}

var importCatalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Import a brand catalog document",
	Long: `Applies a YAML catalog of brands, locations, check-in windows, and tasks
to the database. Existing rows are matched by slug and updated in place.

Examples:
  muninnrounds import catalog --file rounds.yaml --dry-run
  muninnrounds import catalog --file rounds.yaml`,
	RunE: runImportCatalog,
}

// Catalog import flags
var (
	catalogFilePath string
	catalogDryRun   bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importCatalogCmd)

	importCatalogCmd.Flags().StringVar(&catalogFilePath, "file", "", "Path to catalog YAML document (required)")
	importCatalogCmd.Flags().BoolVar(&catalogDryRun, "dry-run", false, "Validate and count changes without writing")
	importCatalogCmd.MarkFlagRequired("file")
}

func runImportCatalog(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("file", catalogFilePath).
		Bool("dry_run", catalogDryRun).
		Msg("starting catalog import")

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	// Imports may run before the first serve, so make sure the schema exists.
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	svc := catalog.New(database, logger)

	result, err := svc.ImportFile(context.Background(), catalogFilePath, catalogDryRun)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if catalogDryRun {
		fmt.Printf("\nImport Preview:\n")
	} else {
		fmt.Printf("\nImport Complete!\n")
	}
	fmt.Printf("  Brands:    %d created, %d updated\n", result.BrandsCreated, result.BrandsUpdated)
	fmt.Printf("  Locations: %d created, %d updated\n", result.LocationsCreated, result.LocationsUpdated)
	fmt.Printf("  Windows:   %d upserted\n", result.WindowsUpserted)
	fmt.Printf("  Tasks:     %d created, %d updated\n", result.TasksCreated, result.TasksUpdated)

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, warning := range result.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}

	if catalogDryRun {
		fmt.Printf("\nRun without --dry-run to perform the import.\n")
	}

	logger.Info().Msg("catalog import completed")
	return nil
}
