/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog imports brands, locations, check-in windows, and tasks
// from a YAML file. Imports are idempotent upserts keyed on slugs and
// titles, so the same file can be applied repeatedly.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/models"
)

// errDryRun forces the surrounding transaction to roll back after a
// successful dry-run pass.
var errDryRun = errors.New("dry run rollback")

// File is the root of a catalog document.
type File struct {
	Brands      []BrandEntry `yaml:"brands"`
	GlobalTasks []TaskEntry  `yaml:"global_tasks"`
}

// BrandEntry declares one brand with its locations, windows, and tasks.
type BrandEntry struct {
	Name      string          `yaml:"name"`
	Slug      string          `yaml:"slug"`
	Locations []LocationEntry `yaml:"locations"`
	Windows   []WindowEntry   `yaml:"windows"`
	Tasks     []TaskEntry     `yaml:"tasks"`
}

// LocationEntry declares one restaurant.
type LocationEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	Timezone string `yaml:"timezone"`
}

// WindowEntry declares the time range for one slot. Location, when set,
// names a location slug whose row overrides the brand-level window.
type WindowEntry struct {
	Slot     string `yaml:"slot"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Location string `yaml:"location"`
}

// TaskEntry declares one task. Location pins the task to a single
// restaurant; inside a brand block an unpinned task is brand-wide.
type TaskEntry struct {
	ID            string   `yaml:"id"`
	Title         string   `yaml:"title"`
	Details       string   `yaml:"details"`
	Routine       bool     `yaml:"routine"`
	Weight        int      `yaml:"weight"`
	FixedWeekdays []int    `yaml:"fixed_weekdays"`
	FixedSlots    []string `yaml:"fixed_slots"`
	Slots         []string `yaml:"slots"`
	Location      string   `yaml:"location"`
	Announced     *bool    `yaml:"announced"`
	ExecuteDate   string   `yaml:"execute_date"`
	ExecuteSlot   string   `yaml:"execute_slot"`
}

// Result summarizes what an import changed.
type Result struct {
	BrandsCreated    int      `json:"brands_created"`
	BrandsUpdated    int      `json:"brands_updated"`
	LocationsCreated int      `json:"locations_created"`
	LocationsUpdated int      `json:"locations_updated"`
	WindowsUpserted  int      `json:"windows_upserted"`
	TasksCreated     int      `json:"tasks_created"`
	TasksUpdated     int      `json:"tasks_updated"`
	Warnings         []string `json:"warnings,omitempty"`
	DryRun           bool     `json:"dry_run"`
}

// Service applies catalog documents to the database.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
	bus    events.Publisher
}

// New constructs a catalog import service.
func New(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// SetBus enables import events on the given publisher.
func (s *Service) SetBus(bus events.Publisher) {
	s.bus = bus
}

// ImportFile reads and applies a catalog document from disk.
func (s *Service) ImportFile(ctx context.Context, path string, dryRun bool) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return s.Import(ctx, data, dryRun)
}

// Import parses, validates, and applies a catalog document. With dryRun
// set, every change is applied inside a transaction that is rolled back,
// so the returned counts reflect what a real run would do.
func (s *Service) Import(ctx context.Context, data []byte, dryRun bool) (*Result, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := validate(&file); err != nil {
		return nil, err
	}

	result := &Result{DryRun: dryRun}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range file.Brands {
			if err := s.applyBrand(tx, &file.Brands[i], result); err != nil {
				return err
			}
		}
		for i := range file.GlobalTasks {
			if err := s.applyTask(tx, &file.GlobalTasks[i], nil, nil, result); err != nil {
				return err
			}
		}
		if dryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}

	s.logger.Info().
		Bool("dry_run", dryRun).
		Int("brands_created", result.BrandsCreated).
		Int("locations_created", result.LocationsCreated).
		Int("tasks_created", result.TasksCreated).
		Int("tasks_updated", result.TasksUpdated).
		Int("windows_upserted", result.WindowsUpserted).
		Msg("catalog import finished")

	if !dryRun && s.bus != nil {
		s.bus.Publish(events.EventCatalogImported, events.Payload{
			"brands_created":    result.BrandsCreated,
			"brands_updated":    result.BrandsUpdated,
			"locations_created": result.LocationsCreated,
			"tasks_created":     result.TasksCreated,
			"tasks_updated":     result.TasksUpdated,
			"windows_upserted":  result.WindowsUpserted,
		})
	}
	return result, nil
}

func (s *Service) applyBrand(tx *gorm.DB, entry *BrandEntry, result *Result) error {
	var brand models.Brand
	err := tx.Where("slug = ?", entry.Slug).First(&brand).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		brand = models.Brand{Name: entry.Name, Slug: entry.Slug, Active: true}
		if err := tx.Create(&brand).Error; err != nil {
			return fmt.Errorf("create brand %s: %w", entry.Slug, err)
		}
		result.BrandsCreated++
	case err != nil:
		return fmt.Errorf("lookup brand %s: %w", entry.Slug, err)
	default:
		if brand.Name != entry.Name {
			if err := tx.Model(&brand).Update("name", entry.Name).Error; err != nil {
				return fmt.Errorf("update brand %s: %w", entry.Slug, err)
			}
			result.BrandsUpdated++
		}
	}

	locationsBySlug := make(map[string]*models.Location, len(entry.Locations))
	for i := range entry.Locations {
		loc, err := s.applyLocation(tx, &entry.Locations[i], brand.ID, result)
		if err != nil {
			return err
		}
		locationsBySlug[entry.Locations[i].Slug] = loc
	}

	for i := range entry.Windows {
		w := &entry.Windows[i]
		var locationID *string
		if w.Location != "" {
			loc, ok := locationsBySlug[w.Location]
			if !ok {
				return fmt.Errorf("window for brand %s references unknown location %q", entry.Slug, w.Location)
			}
			locationID = &loc.ID
		}
		if err := s.applyWindow(tx, brand.ID, locationID, w, result); err != nil {
			return err
		}
	}

	for i := range entry.Tasks {
		t := &entry.Tasks[i]
		var locationID *string
		if t.Location != "" {
			loc, ok := locationsBySlug[t.Location]
			if !ok {
				return fmt.Errorf("task %q in brand %s references unknown location %q", t.Title, entry.Slug, t.Location)
			}
			locationID = &loc.ID
		}
		brandID := brand.ID
		if err := s.applyTask(tx, t, &brandID, locationID, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) applyLocation(tx *gorm.DB, entry *LocationEntry, brandID uint, result *Result) (*models.Location, error) {
	var loc models.Location
	query := tx.Where("brand_id = ? AND slug = ?", brandID, entry.Slug)
	if entry.ID != "" {
		query = tx.Where("id = ?", entry.ID)
	}

	err := query.First(&loc).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		loc = models.Location{
			ID:       entry.ID,
			BrandID:  brandID,
			Name:     entry.Name,
			Slug:     entry.Slug,
			Timezone: entry.Timezone,
			Active:   true,
		}
		if loc.ID == "" {
			loc.ID = uuid.NewString()
		}
		if err := tx.Create(&loc).Error; err != nil {
			return nil, fmt.Errorf("create location %s: %w", entry.Slug, err)
		}
		result.LocationsCreated++
	case err != nil:
		return nil, fmt.Errorf("lookup location %s: %w", entry.Slug, err)
	default:
		updates := map[string]any{}
		if loc.Name != entry.Name {
			updates["name"] = entry.Name
		}
		if entry.Timezone != "" && loc.Timezone != entry.Timezone {
			updates["timezone"] = entry.Timezone
		}
		if len(updates) > 0 {
			if err := tx.Model(&loc).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("update location %s: %w", entry.Slug, err)
			}
			result.LocationsUpdated++
		}
	}
	return &loc, nil
}

func (s *Service) applyWindow(tx *gorm.DB, brandID uint, locationID *string, entry *WindowEntry, result *Result) error {
	query := tx.Where("brand_id = ? AND slot = ?", brandID, entry.Slot)
	if locationID == nil {
		query = query.Where("location_id IS NULL")
	} else {
		query = query.Where("location_id = ?", *locationID)
	}

	var window models.WindowConfig
	err := query.First(&window).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		window = models.WindowConfig{
			ID:          uuid.NewString(),
			BrandID:     brandID,
			LocationID:  locationID,
			Slot:        models.SlotType(entry.Slot),
			WindowStart: entry.Start,
			WindowEnd:   entry.End,
			Active:      true,
		}
		if err := tx.Create(&window).Error; err != nil {
			return fmt.Errorf("create window %s: %w", entry.Slot, err)
		}
		result.WindowsUpserted++
	case err != nil:
		return fmt.Errorf("lookup window %s: %w", entry.Slot, err)
	default:
		if window.WindowStart != entry.Start || window.WindowEnd != entry.End {
			updates := map[string]any{"window_start": entry.Start, "window_end": entry.End}
			if err := tx.Model(&window).Updates(updates).Error; err != nil {
				return fmt.Errorf("update window %s: %w", entry.Slot, err)
			}
			result.WindowsUpserted++
		}
	}
	return nil
}

func (s *Service) applyTask(tx *gorm.DB, entry *TaskEntry, brandID *uint, locationID *string, result *Result) error {
	task := models.Task{
		ID:            entry.ID,
		Title:         entry.Title,
		Details:       entry.Details,
		BrandID:       brandID,
		LocationID:    locationID,
		IsRoutine:     entry.Routine,
		Weight:        entry.Weight,
		FixedWeekdays: entry.FixedWeekdays,
		Announced:     entry.Announced == nil || *entry.Announced,
		Active:        true,
	}
	for _, s := range entry.FixedSlots {
		task.FixedSlots = append(task.FixedSlots, models.SlotType(s))
	}
	for _, s := range entry.Slots {
		task.ApplicableSlots = append(task.ApplicableSlots, models.SlotType(s))
	}
	if entry.ExecuteDate != "" {
		date := entry.ExecuteDate
		task.ExecuteDate = &date
	}
	if entry.ExecuteSlot != "" {
		slot := models.SlotType(entry.ExecuteSlot)
		task.ExecuteSlot = &slot
	}
	task.Normalize()

	existing, err := s.findTask(tx, entry, brandID, locationID)
	if err != nil {
		return err
	}
	if existing == nil {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if err := tx.Create(&task).Error; err != nil {
			return fmt.Errorf("create task %q: %w", entry.Title, err)
		}
		result.TasksCreated++
		return nil
	}

	task.ID = existing.ID
	task.CreatedAt = existing.CreatedAt
	if err := tx.Model(&models.Task{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"title":            task.Title,
		"details":          task.Details,
		"is_routine":       task.IsRoutine,
		"weight":           task.Weight,
		"fixed_weekdays":   task.FixedWeekdays,
		"fixed_slots":      task.FixedSlots,
		"applicable_slots": task.ApplicableSlots,
		"announced":        task.Announced,
		"execute_date":     task.ExecuteDate,
		"execute_slot":     task.ExecuteSlot,
		"active":           true,
	}).Error; err != nil {
		return fmt.Errorf("update task %q: %w", entry.Title, err)
	}
	result.TasksUpdated++
	return nil
}

// findTask matches by explicit ID first, then by title within the same scope.
func (s *Service) findTask(tx *gorm.DB, entry *TaskEntry, brandID *uint, locationID *string) (*models.Task, error) {
	var task models.Task
	var err error
	if entry.ID != "" {
		err = tx.Where("id = ?", entry.ID).First(&task).Error
	} else {
		query := tx.Where("title = ?", entry.Title)
		if brandID == nil {
			query = query.Where("brand_id IS NULL")
		} else {
			query = query.Where("brand_id = ?", *brandID)
		}
		if locationID == nil {
			query = query.Where("location_id IS NULL")
		} else {
			query = query.Where("location_id = ?", *locationID)
		}
		err = query.Order("created_at ASC").First(&task).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup task %q: %w", entry.Title, err)
	}
	return &task, nil
}

// Helper functions

func validate(file *File) error {
	brandSlugs := make(map[string]bool)
	for i := range file.Brands {
		b := &file.Brands[i]
		if b.Slug == "" || b.Name == "" {
			return fmt.Errorf("brand %d: name and slug are required", i)
		}
		if brandSlugs[b.Slug] {
			return fmt.Errorf("duplicate brand slug %q", b.Slug)
		}
		brandSlugs[b.Slug] = true

		locationSlugs := make(map[string]bool)
		for j := range b.Locations {
			l := &b.Locations[j]
			if l.Slug == "" || l.Name == "" {
				return fmt.Errorf("brand %s location %d: name and slug are required", b.Slug, j)
			}
			if locationSlugs[l.Slug] {
				return fmt.Errorf("brand %s: duplicate location slug %q", b.Slug, l.Slug)
			}
			locationSlugs[l.Slug] = true
			if l.Timezone != "" {
				if _, err := time.LoadLocation(l.Timezone); err != nil {
					return fmt.Errorf("location %s: unknown timezone %q", l.Slug, l.Timezone)
				}
			}
		}

		for j := range b.Windows {
			w := &b.Windows[j]
			if !models.ValidSlot(models.SlotType(w.Slot)) {
				return fmt.Errorf("brand %s window %d: unknown slot %q", b.Slug, j, w.Slot)
			}
			if err := validateClock(w.Start); err != nil {
				return fmt.Errorf("brand %s window %s start: %w", b.Slug, w.Slot, err)
			}
			if err := validateClock(w.End); err != nil {
				return fmt.Errorf("brand %s window %s end: %w", b.Slug, w.Slot, err)
			}
		}

		for j := range b.Tasks {
			if err := validateTask(&b.Tasks[j]); err != nil {
				return fmt.Errorf("brand %s: %w", b.Slug, err)
			}
		}
	}

	for i := range file.GlobalTasks {
		t := &file.GlobalTasks[i]
		if t.Location != "" {
			return fmt.Errorf("global task %q cannot reference a location", t.Title)
		}
		if err := validateTask(t); err != nil {
			return err
		}
	}
	return nil
}

func validateTask(t *TaskEntry) error {
	if t.Title == "" {
		return fmt.Errorf("task with empty title")
	}
	for _, d := range t.FixedWeekdays {
		if d < 0 || d > 6 {
			return fmt.Errorf("task %q: weekday %d out of range 0-6", t.Title, d)
		}
	}
	for _, s := range t.FixedSlots {
		if !models.ValidSlot(models.SlotType(s)) {
			return fmt.Errorf("task %q: unknown fixed slot %q", t.Title, s)
		}
	}
	for _, s := range t.Slots {
		if !models.ValidSlot(models.SlotType(s)) {
			return fmt.Errorf("task %q: unknown slot %q", t.Title, s)
		}
	}
	if t.ExecuteSlot != "" && !models.ValidSlot(models.SlotType(t.ExecuteSlot)) {
		return fmt.Errorf("task %q: unknown execute slot %q", t.Title, t.ExecuteSlot)
	}
	if t.ExecuteDate != "" {
		if _, err := time.Parse("2006-01-02", t.ExecuteDate); err != nil {
			return fmt.Errorf("task %q: bad execute date %q", t.Title, t.ExecuteDate)
		}
	}
	if !t.Routine && t.ExecuteDate == "" {
		return fmt.Errorf("task %q: ad-hoc tasks need an execute_date", t.Title)
	}
	return nil
}

// validateClock enforces zero-padded "HH:MM:SS" so stored windows compare
// lexically.
func validateClock(v string) error {
	if len(v) != 8 {
		return fmt.Errorf("clock value %q must be HH:MM:SS", v)
	}
	if _, err := time.Parse("15:04:05", v); err != nil {
		return fmt.Errorf("clock value %q must be HH:MM:SS", v)
	}
	return nil
}
