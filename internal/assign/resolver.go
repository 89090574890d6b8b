/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package assign resolves the one task a location owes for a check-in
// slot. The cascade runs ad-hoc overrides, then fixed routines, then a
// seeded weighted draw; every node computes the same answer from the same
// inputs with no coordination.
package assign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_rounds/internal/draw"
	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/telemetry"
)

var (
	// ErrStoreQuery indicates the task store was unreachable or errored.
	// The failure propagates to the caller untouched; the resolver never
	// retries.
	ErrStoreQuery = errors.New("task store query failed")

	// ErrLocationUnknown indicates the location does not exist or is
	// inactive.
	ErrLocationUnknown = errors.New("location unknown or inactive")

	// ErrInvalidRequest indicates a malformed slot or date.
	ErrInvalidRequest = errors.New("invalid resolve request")
)

// Request identifies one resolution: which location, which slot, which day.
type Request struct {
	LocationID string
	Slot       models.SlotType
	Date       string // YYYY-MM-DD
}

// Result is the outcome of a resolution. Outcome "none" with a nil Task is
// the valid nothing-configured answer, not an error.
type Result struct {
	Outcome   models.AssignmentOutcome
	Tier      models.ResolutionTier
	Task      *models.Task
	BrandID   uint
	Seed      *uint32
	FromCache bool
}

// Resolver runs the assignment cascade. Resolution is a pure function of
// (date, brand, location, slot); concurrent callers computing the same key
// do redundant work but never disagree, so no locking is needed here.
type Resolver struct {
	store    Store
	cache    Cache
	recorder Recorder
	bus      events.Publisher
	logger   zerolog.Logger
}

// NewResolver creates a resolver. Cache, recorder, and bus are optional.
func NewResolver(store Store, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With().Str("component", "assign_resolver").Logger(),
	}
}

// SetCache attaches the assignment cache.
func (r *Resolver) SetCache(c Cache) {
	r.cache = c
}

// SetRecorder attaches the assignment recorder.
func (r *Resolver) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// SetBus attaches the event bus for assignment events.
func (r *Resolver) SetBus(bus events.Publisher) {
	r.bus = bus
}

// Resolve returns the task assigned to (location, slot, date), or the
// no-task outcome when nothing is configured.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if !models.ValidSlot(req.Slot) {
		return nil, fmt.Errorf("%w: slot %q", ErrInvalidRequest, req.Slot)
	}
	weekday, err := weekdayOf(req.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidRequest, req.Date)
	}

	loc, err := r.lookupLocation(ctx, req.LocationID)
	if err != nil {
		return nil, err
	}
	brandID := loc.BrandID

	if r.cache != nil {
		if task, ok := r.cache.GetAssignment(ctx, req.Date, brandID, req.LocationID, req.Slot); ok {
			telemetry.ResolutionsTotal.WithLabelValues(string(models.TierCache)).Inc()
			return &Result{
				Outcome:   models.OutcomeAssigned,
				Tier:      models.TierCache,
				Task:      task,
				BrandID:   brandID,
				FromCache: true,
			}, nil
		}
	}

	result, err := r.runCascade(ctx, req, brandID, weekday)
	if err != nil {
		telemetry.ResolutionErrorsTotal.Inc()
		return nil, err
	}

	if result.Task != nil && r.cache != nil {
		r.cache.SetAssignment(ctx, req.Date, brandID, req.LocationID, req.Slot, result.Task)
	}

	telemetry.ResolutionsTotal.WithLabelValues(string(result.Tier)).Inc()
	r.logResult(req, result)
	r.publish(req, result)
	go r.record(req, result)

	return result, nil
}

// runCascade executes tiers two through five in order and stops at the
// first producing tier.
func (r *Resolver) runCascade(ctx context.Context, req Request, brandID uint, weekday int) (*Result, error) {
	if task, err := r.adHocTier(ctx, req, brandID); err != nil {
		return nil, err
	} else if task != nil {
		return &Result{Outcome: models.OutcomeAssigned, Tier: models.TierAdHoc, Task: task, BrandID: brandID}, nil
	}

	if task, err := r.fixedTier(ctx, req, brandID, weekday); err != nil {
		return nil, err
	} else if task != nil {
		return &Result{Outcome: models.OutcomeAssigned, Tier: models.TierFixed, Task: task, BrandID: brandID}, nil
	}

	task, seed, err := r.weightedTier(ctx, req, brandID)
	if err != nil {
		return nil, err
	}
	if task != nil {
		return &Result{Outcome: models.OutcomeAssigned, Tier: models.TierWeighted, Task: task, BrandID: brandID, Seed: &seed}, nil
	}

	return &Result{Outcome: models.OutcomeNone, Tier: models.TierNone, BrandID: brandID}, nil
}

// adHocTier picks an announced one-off for the exact (date, slot) by scope
// priority: location beats brand beats global. Never random.
func (r *Resolver) adHocTier(ctx context.Context, req Request, brandID uint) (*models.Task, error) {
	candidates, err := r.store.AdHocTasks(ctx, req.Date, req.Slot, brandID, req.LocationID)
	if err != nil {
		return nil, fmt.Errorf("%w: ad-hoc tier: %v", ErrStoreQuery, err)
	}

	for _, scope := range []models.TaskScope{models.ScopeLocation, models.ScopeBrand, models.ScopeGlobal} {
		for i := range candidates {
			if candidates[i].Scope() == scope {
				return &candidates[i], nil
			}
		}
	}
	return nil, nil
}

// fixedTier picks the first routine pinned to (weekday, slot) in store
// order; the store orders by creation so the tiebreak is deterministic.
func (r *Resolver) fixedTier(ctx context.Context, req Request, brandID uint, weekday int) (*models.Task, error) {
	candidates, err := r.store.FixedRoutineTasks(ctx, weekday, req.Slot, brandID)
	if err != nil {
		return nil, fmt.Errorf("%w: fixed tier: %v", ErrStoreQuery, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

// weightedTier runs the seeded draw over eligible routines in exact store
// order. Weight was normalized at the store boundary, so no defaulting
// happens here.
func (r *Resolver) weightedTier(ctx context.Context, req Request, brandID uint) (*models.Task, uint32, error) {
	candidates, err := r.store.WeightedRoutineTasks(ctx, req.Slot, brandID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: weighted tier: %v", ErrStoreQuery, err)
	}
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	seed := draw.Seed(req.Date, brandID, string(req.Slot))
	weighted := make([]draw.Weighted, len(candidates))
	for i, t := range candidates {
		weighted[i] = draw.Weighted{ID: t.ID, Weight: float64(t.Weight)}
	}

	idx, ok := draw.Pick(weighted, draw.NewRand(seed))
	if !ok {
		return nil, 0, nil
	}
	return &candidates[idx], seed, nil
}

func (r *Resolver) lookupLocation(ctx context.Context, id string) (*models.Location, error) {
	if r.cache != nil {
		if loc, ok := r.cache.GetLocation(ctx, id); ok {
			return loc, nil
		}
	}

	loc, err := r.store.Location(ctx, id)
	if err != nil {
		if errors.Is(err, ErrLocationUnknown) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: location lookup: %v", ErrStoreQuery, err)
	}

	if r.cache != nil {
		r.cache.SetLocation(ctx, loc)
	}
	return loc, nil
}

func (r *Resolver) logResult(req Request, result *Result) {
	evt := r.logger.Info().
		Str("location_id", req.LocationID).
		Uint("brand_id", result.BrandID).
		Str("date", req.Date).
		Str("slot", string(req.Slot)).
		Str("tier", string(result.Tier)).
		Str("outcome", string(result.Outcome))
	if result.Task != nil {
		evt = evt.Str("task_id", result.Task.ID)
	}
	if result.Seed != nil {
		evt = evt.Uint32("seed", *result.Seed)
	}
	evt.Msg("assignment resolved")
}

func (r *Resolver) publish(req Request, result *Result) {
	if r.bus == nil {
		return
	}
	payload := events.Payload{
		"location_id": req.LocationID,
		"brand_id":    result.BrandID,
		"date":        req.Date,
		"slot":        string(req.Slot),
		"tier":        string(result.Tier),
		"outcome":     string(result.Outcome),
	}
	if result.Task != nil {
		payload["task_id"] = result.Task.ID
		payload["task_title"] = result.Task.Title
	}
	r.bus.Publish(events.EventAssignmentResolved, payload)
}

// record persists the outcome off the caller's path. The resolve already
// answered; a failed write is logged and dropped, never re-raised.
func (r *Resolver) record(req Request, result *Result) {
	if r.recorder == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("assignment recorder panicked")
		}
	}()

	a := &models.Assignment{
		ID:         uuid.NewString(),
		Date:       req.Date,
		BrandID:    result.BrandID,
		LocationID: req.LocationID,
		Slot:       req.Slot,
		Outcome:    result.Outcome,
		Tier:       result.Tier,
	}
	if result.Task != nil {
		id := result.Task.ID
		a.TaskID = &id
		a.TaskTitle = result.Task.Title
	}
	if result.Seed != nil {
		seed := int64(*result.Seed)
		a.Seed = &seed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.recorder.RecordAssignment(ctx, a); err != nil {
		r.logger.Error().Err(err).
			Str("location_id", req.LocationID).
			Str("slot", string(req.Slot)).
			Msg("assignment record failed")
	}
}

// weekdayOf returns the weekday (0=Sunday) for a YYYY-MM-DD date.
func weekdayOf(date string) (int, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, err
	}
	return int(t.Weekday()), nil
}
