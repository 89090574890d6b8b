/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/muninn_rounds/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Brand{},
		&models.Location{},
		&models.WindowConfig{},
		&models.Task{},
		&models.Assignment{},
	); err != nil {
		return err
	}

	if err := normalizeLegacyTaskWeights(database); err != nil {
		return err
	}
	if err := normalizeLegacyTaskScopes(database); err != nil {
		return err
	}

	return nil
}

// normalizeLegacyTaskWeights backfills the default weight on rows imported
// before weights were validated at the write boundary. Readers take stored
// weights as-is, so zero rows would otherwise never win a draw.
func normalizeLegacyTaskWeights(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE tasks SET weight = ? WHERE weight IS NULL OR weight <= 0",
		models.DefaultTaskWeight,
	).Error; err != nil {
		return fmt.Errorf("normalize legacy task weights: %w", err)
	}
	return nil
}

// normalizeLegacyTaskScopes rewrites empty-string location scopes to NULL so
// scope queries only have one spelling of "not location-pinned" to match.
func normalizeLegacyTaskScopes(database *gorm.DB) error {
	if err := database.Exec(
		"UPDATE tasks SET location_id = NULL WHERE location_id = ''",
	).Error; err != nil {
		return fmt.Errorf("normalize legacy task scopes: %w", err)
	}
	return nil
}
