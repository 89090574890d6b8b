package models

import (
	"time"
)

// SlotType identifies one of the four daily check-in windows.
type SlotType string

const (
	SlotNone        SlotType = ""
	SlotLunchOpen   SlotType = "lunch_open"
	SlotLunchClose  SlotType = "lunch_close"
	SlotDinnerOpen  SlotType = "dinner_open"
	SlotDinnerClose SlotType = "dinner_close"
)

// AllSlots returns the four check-in slots in canonical day order.
func AllSlots() []SlotType {
	return []SlotType{SlotLunchOpen, SlotLunchClose, SlotDinnerOpen, SlotDinnerClose}
}

// ValidSlot reports whether s is one of the four check-in slots.
func ValidSlot(s SlotType) bool {
	switch s {
	case SlotLunchOpen, SlotLunchClose, SlotDinnerOpen, SlotDinnerClose:
		return true
	}
	return false
}

// Brand is a restaurant chain. The numeric ID is the legacy brand code and
// feeds the assignment seed, so it must never be reissued.
type Brand struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"uniqueIndex" json:"name"`
	Slug      string    `gorm:"uniqueIndex" json:"slug"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is a single restaurant belonging to a brand.
type Location struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	BrandID   uint      `gorm:"index" json:"brand_id"`
	Name      string    `gorm:"index" json:"name"`
	Slug      string    `gorm:"index" json:"slug"`
	Timezone  string    `gorm:"type:varchar(48)" json:"timezone"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WindowConfig defines the time-of-day range for one check-in slot.
// Times are zero-padded "HH:MM:SS"; WindowEnd < WindowStart means the
// window wraps past midnight. A row with a LocationID overrides the
// brand-level row for that location.
type WindowConfig struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	BrandID     uint      `gorm:"index" json:"brand_id"`
	LocationID  *string   `gorm:"type:uuid;index" json:"location_id,omitempty"`
	Slot        SlotType  `gorm:"type:varchar(16);index" json:"slot"`
	WindowStart string    `gorm:"type:varchar(8)" json:"window_start"`
	WindowEnd   string    `gorm:"type:varchar(8)" json:"window_end"`
	Active      bool      `gorm:"default:true" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WindowConfig) TableName() string {
	return "window_configs"
}
