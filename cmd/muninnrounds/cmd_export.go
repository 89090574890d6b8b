/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/muninn_rounds/internal/reports"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a brand's daily assignment report",
	Long: `Builds the CSV assignment report for one brand and date and writes it to
a file or stdout. The report lists every recorded resolution for the date.

Examples:
  muninnrounds export --brand 3 --date 2026-08-24 --out report.csv
  muninnrounds export --brand 3`,
	RunE: runExport,
}

// Export flags
var (
	exportBrandID uint
	exportDate    string
	exportOut     string
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().UintVar(&exportBrandID, "brand", 0, "Brand ID (required)")
	exportCmd.Flags().StringVar(&exportDate, "date", "", "Service date YYYY-MM-DD (default: today UTC)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output path (default: stdout)")
	exportCmd.MarkFlagRequired("brand")
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	date := exportDate
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}

	svc := reports.New(database, nil, cfg.ReportHour, logger)
	report, err := svc.BuildDaily(context.Background(), exportBrandID, date)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	if exportOut == "" {
		if _, err := os.Stdout.Write(report.Data); err != nil {
			return err
		}
		return nil
	}

	if err := os.WriteFile(exportOut, report.Data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Printf("Wrote %d rows to %s\n", report.Rows, exportOut)
	return nil
}
