/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// TaskScope describes how widely a task applies.
type TaskScope string

const (
	ScopeGlobal   TaskScope = "global"
	ScopeBrand    TaskScope = "brand"
	ScopeLocation TaskScope = "location"
)

// DefaultTaskWeight is substituted when a task carries no explicit weight.
const DefaultTaskWeight = 100

// Task is a recurring or one-off check-in duty. Routine tasks are either
// fixed (pinned to weekdays and slots) or eligible for the seeded weighted
// draw over ApplicableSlots. Non-routine tasks are ad-hoc: they fire once on
// ExecuteDate/ExecuteSlot after being announced. A task fetched for a
// resolution is treated as immutable.
type Task struct {
	ID      string `gorm:"type:uuid;primaryKey" json:"id"`
	Title   string `gorm:"index" json:"title"`
	Details string `gorm:"type:text" json:"details"`

	// Scope: both nil means global, BrandID alone means brand-wide,
	// LocationID narrows to a single restaurant.
	BrandID    *uint   `gorm:"index" json:"brand_id,omitempty"`
	LocationID *string `gorm:"type:uuid;index" json:"location_id,omitempty"`

	IsRoutine       bool       `gorm:"index" json:"is_routine"`
	Weight          int        `gorm:"default:100" json:"weight"`
	FixedWeekdays   []int      `gorm:"serializer:json" json:"fixed_weekdays,omitempty"`
	FixedSlots      []SlotType `gorm:"serializer:json" json:"fixed_slots,omitempty"`
	ApplicableSlots []SlotType `gorm:"serializer:json" json:"applicable_slots,omitempty"`

	Announced   bool      `json:"announced"`
	ExecuteDate *string   `gorm:"type:varchar(10);index" json:"execute_date,omitempty"`
	ExecuteSlot *SlotType `gorm:"type:varchar(16)" json:"execute_slot,omitempty"`

	Active    bool      `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Task) TableName() string {
	return "tasks"
}

// Scope derives the task's scope from its ID fields.
func (t *Task) Scope() TaskScope {
	switch {
	case t.LocationID != nil && *t.LocationID != "":
		return ScopeLocation
	case t.BrandID != nil:
		return ScopeBrand
	default:
		return ScopeGlobal
	}
}

// HasFixedWeekday reports whether weekday (0=Sunday) is pinned.
func (t *Task) HasFixedWeekday(weekday int) bool {
	for _, d := range t.FixedWeekdays {
		if d == weekday {
			return true
		}
	}
	return false
}

// HasFixedSlot reports whether slot is pinned.
func (t *Task) HasFixedSlot(slot SlotType) bool {
	for _, s := range t.FixedSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// AppliesToSlot reports whether slot is eligible for the weighted draw.
func (t *Task) AppliesToSlot(slot SlotType) bool {
	for _, s := range t.ApplicableSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// Normalize fills defaults at the write boundary. Rows read back later are
// taken as-is; readers never re-default.
func (t *Task) Normalize() {
	if t.Weight <= 0 {
		t.Weight = DefaultTaskWeight
	}
	if t.LocationID != nil && *t.LocationID == "" {
		t.LocationID = nil
	}
}
