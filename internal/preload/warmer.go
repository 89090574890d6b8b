/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package preload warms the assignment cache for a brand's locations just
// before a check-in window opens, so the first lookups of the slot hit cache.
package preload

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/assign"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/telemetry"
)

// Resolver is the slice of the assignment resolver the warmer needs.
type Resolver interface {
	Resolve(ctx context.Context, req assign.Request) (*assign.Result, error)
}

// Warmer fans resolution requests across a bounded worker pool.
type Warmer struct {
	db       *gorm.DB
	resolver Resolver
	workers  int
	logger   zerolog.Logger
}

// New constructs a warmer. workers bounds concurrent resolutions.
func New(db *gorm.DB, resolver Resolver, workers int, logger zerolog.Logger) *Warmer {
	if workers <= 0 {
		workers = 4
	}
	return &Warmer{
		db:       db,
		resolver: resolver,
		workers:  workers,
		logger:   logger.With().Str("component", "preload").Logger(),
	}
}

// Stats summarizes one warm run.
type Stats struct {
	Locations int `json:"locations"`
	Warmed    int `json:"warmed"`
	NoTask    int `json:"no_task"`
	Failed    int `json:"failed"`
}

type warmResult struct {
	locationID string
	outcome    models.AssignmentOutcome
	err        error
}

// WarmBrand resolves the given slot for every active location of a brand.
// Failures are counted, not fatal; the slot still opens either way.
func (w *Warmer) WarmBrand(ctx context.Context, brandID uint, date string, slot models.SlotType) (*Stats, error) {
	var locations []models.Location
	if err := w.db.WithContext(ctx).
		Where("brand_id = ? AND active = ?", brandID, true).
		Order("id ASC").
		Find(&locations).Error; err != nil {
		telemetry.PreloadErrorsTotal.Inc()
		return nil, err
	}

	stats := &Stats{Locations: len(locations)}
	if len(locations) == 0 {
		return stats, nil
	}

	w.logger.Debug().
		Uint("brand_id", brandID).
		Str("date", date).
		Str("slot", string(slot)).
		Int("locations", len(locations)).
		Int("concurrency", w.workers).
		Msg("warming assignments")

	jobChan := make(chan models.Location, len(locations))
	resultChan := make(chan warmResult, len(locations))

	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for loc := range jobChan {
				result := warmResult{locationID: loc.ID}
				res, err := w.resolver.Resolve(ctx, assign.Request{
					LocationID: loc.ID,
					Slot:       slot,
					Date:       date,
				})
				if err != nil {
					result.err = err
				} else {
					result.outcome = res.Outcome
				}
				resultChan <- result
			}
		}()
	}

	go func() {
		for _, loc := range locations {
			select {
			case <-ctx.Done():
				close(jobChan)
				return
			case jobChan <- loc:
			}
		}
		close(jobChan)
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for result := range resultChan {
		switch {
		case result.err != nil:
			stats.Failed++
			telemetry.PreloadErrorsTotal.Inc()
			w.logger.Warn().
				Err(result.err).
				Str("location_id", result.locationID).
				Str("slot", string(slot)).
				Msg("preload resolution failed")
		case result.outcome == models.OutcomeNone:
			stats.NoTask++
			telemetry.PreloadWarmsTotal.Inc()
		default:
			stats.Warmed++
			telemetry.PreloadWarmsTotal.Inc()
		}
	}

	w.logger.Info().
		Uint("brand_id", brandID).
		Str("slot", string(slot)).
		Int("warmed", stats.Warmed).
		Int("no_task", stats.NoTask).
		Int("failed", stats.Failed).
		Msg("preload finished")
	return stats, nil
}
