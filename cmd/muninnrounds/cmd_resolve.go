/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/assign"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/window"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the task for one location and window",
	Long: `Runs the assignment resolver once and prints the result. With no --slot
the current slot is derived from the location's effective windows.

Examples:
  muninnrounds resolve --location 8b4f29aa-1c2d-4f3e-9d21-07e5c6a0b9f4 --slot lunch_open
  muninnrounds resolve --location 8b4f29aa-1c2d-4f3e-9d21-07e5c6a0b9f4 --date 2026-08-25 --record`,
	RunE: runResolve,
}

// Resolve flags
var (
	resolveLocationID string
	resolveDate       string
	resolveSlot       string
	resolveRecord     bool
)

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVar(&resolveLocationID, "location", "", "Location ID (required)")
	resolveCmd.Flags().StringVar(&resolveDate, "date", "", "Service date YYYY-MM-DD (default: today in the location's timezone)")
	resolveCmd.Flags().StringVar(&resolveSlot, "slot", "", "Check-in slot (default: the currently open window)")
	resolveCmd.Flags().BoolVar(&resolveRecord, "record", false, "Record the resolution in the assignments table")
	resolveCmd.MarkFlagRequired("location")
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	ctx := context.Background()

	var location models.Location
	if err := database.WithContext(ctx).Where("id = ? AND active = ?", resolveLocationID, true).First(&location).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("location %s not found or inactive", resolveLocationID)
		}
		return fmt.Errorf("load location: %w", err)
	}

	tz, err := time.LoadLocation(location.Timezone)
	if err != nil {
		tz = time.UTC
	}

	date := resolveDate
	if date == "" {
		date = time.Now().In(tz).Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}

	slot := models.SlotType(resolveSlot)
	if resolveSlot != "" && !models.ValidSlot(slot) {
		return fmt.Errorf("invalid slot %q", resolveSlot)
	}
	if slot == models.SlotNone {
		var configs []models.WindowConfig
		if err := database.WithContext(ctx).
			Where("brand_id = ? AND active = ?", location.BrandID, true).
			Find(&configs).Error; err != nil {
			return fmt.Errorf("load windows: %w", err)
		}
		slot = window.SlotAt(window.Effective(configs, location.ID), time.Now().In(tz).Format("15:04:05"))
		if slot == models.SlotNone {
			return fmt.Errorf("no window currently open for %s; pass --slot", location.Name)
		}
	}

	store := assign.NewGormStore(database, logger)
	resolver := assign.NewResolver(store, logger)
	if resolveRecord {
		resolver.SetRecorder(store)
	}

	result, err := resolver.Resolve(ctx, assign.Request{
		LocationID: location.ID,
		Slot:       slot,
		Date:       date,
	})
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}

	// Same shape as GET /api/v1/resolve so output can be piped to the same tooling.
	out := struct {
		LocationID string                   `json:"location_id"`
		BrandID    uint                     `json:"brand_id"`
		Date       string                   `json:"date"`
		Slot       models.SlotType          `json:"slot"`
		Outcome    models.AssignmentOutcome `json:"outcome"`
		Tier       models.ResolutionTier    `json:"tier"`
		Task       *models.Task             `json:"task,omitempty"`
		Seed       *uint32                  `json:"seed,omitempty"`
	}{
		LocationID: location.ID,
		BrandID:    result.BrandID,
		Date:       date,
		Slot:       slot,
		Outcome:    result.Outcome,
		Tier:       result.Tier,
		Task:       result.Task,
		Seed:       result.Seed,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
