/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ResolutionTier names the cascade stage that produced an assignment.
type ResolutionTier string

const (
	TierCache    ResolutionTier = "cache"
	TierAdHoc    ResolutionTier = "adhoc"
	TierFixed    ResolutionTier = "fixed"
	TierWeighted ResolutionTier = "weighted"
	TierNone     ResolutionTier = "none"
)

// AssignmentOutcome distinguishes a resolved task from the valid
// nothing-configured result.
type AssignmentOutcome string

const (
	OutcomeAssigned AssignmentOutcome = "assigned"
	OutcomeNone     AssignmentOutcome = "none"
)

// Assignment records one resolution outcome for reporting. Rows are written
// asynchronously after a resolve and never consulted during one; the cache
// and the deterministic cascade remain the source of truth.
type Assignment struct {
	ID         string            `gorm:"type:uuid;primaryKey" json:"id"`
	Date       string            `gorm:"type:varchar(10);index:idx_assignment_key" json:"date"`
	BrandID    uint              `gorm:"index:idx_assignment_key" json:"brand_id"`
	LocationID string            `gorm:"type:uuid;index:idx_assignment_key" json:"location_id"`
	Slot       SlotType          `gorm:"type:varchar(16);index:idx_assignment_key" json:"slot"`
	TaskID     *string           `gorm:"type:uuid" json:"task_id,omitempty"`
	TaskTitle  string            `json:"task_title,omitempty"`
	Outcome    AssignmentOutcome `gorm:"type:varchar(16)" json:"outcome"`
	Tier       ResolutionTier    `gorm:"type:varchar(16)" json:"tier"`
	Seed       *int64            `json:"seed,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TableName returns the table name for GORM.
func (Assignment) TableName() string {
	return "assignments"
}
