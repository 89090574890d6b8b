/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package window tracks which check-in slot the wall clock is inside and
// fires exactly-timed transition and preload callbacks at window
// boundaries. There is no polling: at most one transition timer and one
// preload timer are armed at a time, re-armed from the wall clock after
// every fire.
package window

import (
	"errors"
	"fmt"
	"sort"

	"github.com/friendsincode/muninn_rounds/internal/models"
)

// ErrInvalidConfig marks an empty or unparsable window set. A scheduler
// initialized with one parks with no timers until re-initialized.
var ErrInvalidConfig = errors.New("invalid window configuration")

// Window is one slot's time-of-day range. Start and End are zero-padded
// "HH:MM:SS", so lexical comparison is time-of-day comparison. End < Start
// means the window wraps past midnight.
type Window struct {
	Slot  models.SlotType `json:"slot"`
	Start string          `json:"start"`
	End   string          `json:"end"`
}

// Contains reports whether the clock value (zero-padded "HH:MM:SS") falls
// inside the window. Both bounds are inclusive. A wrapped window matches
// either side of midnight.
func (w Window) Contains(clock string) bool {
	if w.End < w.Start {
		return clock >= w.Start || clock <= w.End
	}
	return clock >= w.Start && clock <= w.End
}

// Validate checks the slot and both clock strings.
func (w Window) Validate() error {
	if !models.ValidSlot(w.Slot) {
		return fmt.Errorf("%w: unknown slot %q", ErrInvalidConfig, w.Slot)
	}
	if err := validateClock(w.Start); err != nil {
		return fmt.Errorf("%w: slot %s start: %v", ErrInvalidConfig, w.Slot, err)
	}
	if err := validateClock(w.End); err != nil {
		return fmt.Errorf("%w: slot %s end: %v", ErrInvalidConfig, w.Slot, err)
	}
	return nil
}

func validateClock(clock string) error {
	h, m, s, err := parseClock(clock)
	if err != nil {
		return err
	}
	if h > 23 || m > 59 || s > 59 {
		return fmt.Errorf("clock %q out of range", clock)
	}
	return nil
}

// parseClock splits a zero-padded "HH:MM:SS" string.
func parseClock(clock string) (hour, minute, second int, err error) {
	if len(clock) != 8 || clock[2] != ':' || clock[5] != ':' {
		return 0, 0, 0, fmt.Errorf("clock %q not in HH:MM:SS form", clock)
	}
	for i, c := range clock {
		if i == 2 || i == 5 {
			continue
		}
		if c < '0' || c > '9' {
			return 0, 0, 0, fmt.Errorf("clock %q not in HH:MM:SS form", clock)
		}
	}
	hour = int(clock[0]-'0')*10 + int(clock[1]-'0')
	minute = int(clock[3]-'0')*10 + int(clock[4]-'0')
	second = int(clock[6]-'0')*10 + int(clock[7]-'0')
	return hour, minute, second, nil
}

// FromConfigs converts active brand-level rows into windows sorted by start
// time. Location override rows are ignored here; see Effective.
func FromConfigs(configs []models.WindowConfig) []Window {
	windows := make([]Window, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Active || cfg.LocationID != nil {
			continue
		}
		windows = append(windows, Window{Slot: cfg.Slot, Start: cfg.WindowStart, End: cfg.WindowEnd})
	}
	sortWindows(windows)
	return windows
}

// Effective computes the window set for one location: a location override
// row replaces the brand-level row for its slot.
func Effective(configs []models.WindowConfig, locationID string) []Window {
	bySlot := make(map[models.SlotType]Window)
	overridden := make(map[models.SlotType]bool)

	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		w := Window{Slot: cfg.Slot, Start: cfg.WindowStart, End: cfg.WindowEnd}
		if cfg.LocationID != nil {
			if *cfg.LocationID == locationID {
				bySlot[cfg.Slot] = w
				overridden[cfg.Slot] = true
			}
			continue
		}
		if !overridden[cfg.Slot] {
			bySlot[cfg.Slot] = w
		}
	}

	windows := make([]Window, 0, len(bySlot))
	for _, w := range bySlot {
		windows = append(windows, w)
	}
	sortWindows(windows)
	return windows
}

func sortWindows(windows []Window) {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].Start == windows[j].Start {
			return windows[i].Slot < windows[j].Slot
		}
		return windows[i].Start < windows[j].Start
	})
}

// SlotAt returns the slot whose window contains the clock value, testing
// windows in start order, or SlotNone.
func SlotAt(windows []Window, clock string) models.SlotType {
	for _, w := range windows {
		if w.Contains(clock) {
			return w.Slot
		}
	}
	return models.SlotNone
}
