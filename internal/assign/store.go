/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package assign

import (
	"context"

	"github.com/friendsincode/muninn_rounds/internal/models"
)

// Store supplies the resolver's candidate tasks and location scope data.
// Implementations must return candidates in a stable order that is
// identical on every node: the cascade's fixed tier takes the first match
// and the weighted tier draws over the list in order, so ordering is part
// of the contract, not an implementation detail.
type Store interface {
	// Location returns the active location or ErrLocationUnknown.
	Location(ctx context.Context, id string) (*models.Location, error)

	// AdHocTasks returns active, announced, non-routine tasks scheduled
	// for (date, slot) whose scope is global, the given brand, or the
	// given location.
	AdHocTasks(ctx context.Context, date string, slot models.SlotType, brandID uint, locationID string) ([]models.Task, error)

	// FixedRoutineTasks returns active routine tasks pinned to the
	// weekday (0=Sunday) and slot, scoped globally or to the brand.
	FixedRoutineTasks(ctx context.Context, weekday int, slot models.SlotType, brandID uint) ([]models.Task, error)

	// WeightedRoutineTasks returns active routine tasks eligible for the
	// weighted draw on the slot, scoped globally or to the brand.
	WeightedRoutineTasks(ctx context.Context, slot models.SlotType, brandID uint) ([]models.Task, error)
}

// Cache holds resolved assignments and location scope lookups. Keys embed
// the date, so a new day never reads yesterday's entries. A nil Cache on
// the resolver disables caching; determinism makes recomputing safe.
type Cache interface {
	GetAssignment(ctx context.Context, date string, brandID uint, locationID string, slot models.SlotType) (*models.Task, bool)
	SetAssignment(ctx context.Context, date string, brandID uint, locationID string, slot models.SlotType, task *models.Task)
	GetLocation(ctx context.Context, id string) (*models.Location, bool)
	SetLocation(ctx context.Context, loc *models.Location)
}

// Recorder persists resolution outcomes for reporting. Calls are
// fire-and-forget from the resolver's perspective; failures surface in the
// log, never to the resolving caller.
type Recorder interface {
	RecordAssignment(ctx context.Context, a *models.Assignment) error
}
