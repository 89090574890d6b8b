/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package assign

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/models"
)

// GormStore serves the resolver from the relational task catalog. Every
// query orders by (created_at, id) so two nodes walking the same rows walk
// them in the same order.
type GormStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewGormStore creates a store backed by the given database handle.
func NewGormStore(db *gorm.DB, logger zerolog.Logger) *GormStore {
	return &GormStore{
		db:     db,
		logger: logger.With().Str("component", "assign_store").Logger(),
	}
}

// Location loads an active location by ID.
func (s *GormStore) Location(ctx context.Context, id string) (*models.Location, error) {
	var loc models.Location
	err := s.db.WithContext(ctx).
		Where("id = ? AND active = ?", id, true).
		First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrLocationUnknown, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	return &loc, nil
}

// AdHocTasks returns announced one-off tasks pinned to exactly (date, slot)
// and visible to the location: its own overrides, its brand's, or global
// ones. Scope ranking happens in the resolver; this only narrows the rows.
func (s *GormStore) AdHocTasks(ctx context.Context, date string, slot models.SlotType, brandID uint, locationID string) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("active = ? AND is_routine = ? AND announced = ?", true, false, true).
		Where("execute_date = ? AND execute_slot = ?", date, slot).
		Where("(brand_id IS NULL AND location_id IS NULL) OR (brand_id = ? AND location_id IS NULL) OR location_id = ?", brandID, locationID).
		Order("created_at ASC, id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load ad-hoc tasks: %w", err)
	}
	return tasks, nil
}

// FixedRoutineTasks returns routines pinned to (weekday, slot) at brand or
// global scope. Location-scoped rows never reach the routine tiers; the
// whole brand must compute the same answer. Weekday and slot membership
// live in JSON columns, so the filter finishes in Go.
func (s *GormStore) FixedRoutineTasks(ctx context.Context, weekday int, slot models.SlotType, brandID uint) ([]models.Task, error) {
	rows, err := s.routineRows(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fixed routines: %w", err)
	}

	var tasks []models.Task
	for _, t := range rows {
		if t.HasFixedWeekday(weekday) && t.HasFixedSlot(slot) {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// WeightedRoutineTasks returns routines eligible for the seeded draw in
// the slot, at brand or global scope, in creation order.
func (s *GormStore) WeightedRoutineTasks(ctx context.Context, slot models.SlotType, brandID uint) ([]models.Task, error) {
	rows, err := s.routineRows(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("failed to load weighted routines: %w", err)
	}

	var tasks []models.Task
	for _, t := range rows {
		if t.AppliesToSlot(slot) {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// RecordAssignment appends one resolution to the audit trail.
func (s *GormStore) RecordAssignment(ctx context.Context, a *models.Assignment) error {
	if err := s.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to record assignment: %w", err)
	}
	return nil
}

// routineRows loads all active routines visible to a brand, creation order.
func (s *GormStore) routineRows(ctx context.Context, brandID uint) ([]models.Task, error) {
	var tasks []models.Task
	err := s.db.WithContext(ctx).
		Where("active = ? AND is_routine = ?", true, true).
		Where("location_id IS NULL AND (brand_id IS NULL OR brand_id = ?)", brandID).
		Order("created_at ASC, id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}
