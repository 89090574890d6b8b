/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package window

import (
	"errors"
	"testing"

	"github.com/friendsincode/muninn_rounds/internal/models"
)

func TestWindowContains(t *testing.T) {
	tests := []struct {
		name   string
		window Window
		clock  string
		want   bool
	}{
		{"wrapped late evening", Window{Slot: models.SlotDinnerClose, Start: "21:30:00", End: "01:00:00"}, "23:50:00", true},
		{"wrapped after midnight", Window{Slot: models.SlotDinnerClose, Start: "21:30:00", End: "01:00:00"}, "00:30:00", true},
		{"wrapped morning outside", Window{Slot: models.SlotDinnerClose, Start: "21:30:00", End: "01:00:00"}, "10:00:00", false},
		{"wrapped start inclusive", Window{Slot: models.SlotDinnerClose, Start: "21:30:00", End: "01:00:00"}, "21:30:00", true},
		{"wrapped end inclusive", Window{Slot: models.SlotDinnerClose, Start: "21:30:00", End: "01:00:00"}, "01:00:00", true},
		{"wrapped just before start", Window{Slot: models.SlotDinnerClose, Start: "21:30:00", End: "01:00:00"}, "21:29:59", false},
		{"wrapped just after end", Window{Slot: models.SlotDinnerClose, Start: "21:30:00", End: "01:00:00"}, "01:00:01", false},
		{"normal inside", Window{Slot: models.SlotLunchOpen, Start: "09:00:00", End: "11:00:00"}, "10:00:00", true},
		{"normal start inclusive", Window{Slot: models.SlotLunchOpen, Start: "09:00:00", End: "11:00:00"}, "09:00:00", true},
		{"normal end inclusive", Window{Slot: models.SlotLunchOpen, Start: "09:00:00", End: "11:00:00"}, "11:00:00", true},
		{"normal before", Window{Slot: models.SlotLunchOpen, Start: "09:00:00", End: "11:00:00"}, "08:59:59", false},
		{"normal after", Window{Slot: models.SlotLunchOpen, Start: "09:00:00", End: "11:00:00"}, "11:00:01", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Contains(tt.clock); got != tt.want {
				t.Errorf("Contains(%q) in [%s, %s] = %v, want %v", tt.clock, tt.window.Start, tt.window.End, got, tt.want)
			}
		})
	}
}

func TestWindowValidate(t *testing.T) {
	tests := []struct {
		name    string
		window  Window
		wantErr bool
	}{
		{"valid", Window{Slot: models.SlotLunchOpen, Start: "09:00:00", End: "11:00:00"}, false},
		{"valid wrapped", Window{Slot: models.SlotDinnerClose, Start: "21:30:00", End: "01:00:00"}, false},
		{"unknown slot", Window{Slot: "brunch", Start: "09:00:00", End: "11:00:00"}, true},
		{"missing padding", Window{Slot: models.SlotLunchOpen, Start: "9:00:00", End: "11:00:00"}, true},
		{"no seconds", Window{Slot: models.SlotLunchOpen, Start: "09:00", End: "11:00:00"}, true},
		{"hour out of range", Window{Slot: models.SlotLunchOpen, Start: "24:00:00", End: "11:00:00"}, true},
		{"minute out of range", Window{Slot: models.SlotLunchOpen, Start: "09:60:00", End: "11:00:00"}, true},
		{"not digits", Window{Slot: models.SlotLunchOpen, Start: "ab:cd:ef", End: "11:00:00"}, true},
		{"empty end", Window{Slot: models.SlotLunchOpen, Start: "09:00:00", End: ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.window.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestSlotAtFirstMatchWins(t *testing.T) {
	windows := []Window{
		{Slot: models.SlotLunchOpen, Start: "09:00:00", End: "12:00:00"},
		{Slot: models.SlotLunchClose, Start: "11:00:00", End: "14:00:00"},
	}

	// 11:30 falls in both; the earlier-starting window wins.
	if got := SlotAt(windows, "11:30:00"); got != models.SlotLunchOpen {
		t.Errorf("SlotAt overlap = %s, want %s", got, models.SlotLunchOpen)
	}
	if got := SlotAt(windows, "13:00:00"); got != models.SlotLunchClose {
		t.Errorf("SlotAt = %s, want %s", got, models.SlotLunchClose)
	}
	if got := SlotAt(windows, "08:00:00"); got != models.SlotNone {
		t.Errorf("SlotAt outside = %s, want none", got)
	}
}

func TestEffectiveAppliesLocationOverride(t *testing.T) {
	loc := "loc-1"
	other := "loc-2"
	configs := []models.WindowConfig{
		{BrandID: 1, Slot: models.SlotLunchOpen, WindowStart: "09:00:00", WindowEnd: "11:00:00", Active: true},
		{BrandID: 1, Slot: models.SlotDinnerOpen, WindowStart: "17:00:00", WindowEnd: "19:00:00", Active: true},
		{BrandID: 1, LocationID: &loc, Slot: models.SlotLunchOpen, WindowStart: "10:00:00", WindowEnd: "12:00:00", Active: true},
		{BrandID: 1, LocationID: &other, Slot: models.SlotDinnerOpen, WindowStart: "18:00:00", WindowEnd: "20:00:00", Active: true},
		{BrandID: 1, Slot: models.SlotLunchClose, WindowStart: "13:00:00", WindowEnd: "15:00:00", Active: false},
	}

	got := Effective(configs, loc)
	if len(got) != 2 {
		t.Fatalf("Effective returned %d windows, want 2: %+v", len(got), got)
	}
	if got[0].Slot != models.SlotLunchOpen || got[0].Start != "10:00:00" {
		t.Errorf("override not applied: %+v", got[0])
	}
	if got[1].Slot != models.SlotDinnerOpen || got[1].Start != "17:00:00" {
		t.Errorf("other location's override leaked: %+v", got[1])
	}
}

func TestFromConfigsSortsAndFilters(t *testing.T) {
	loc := "loc-1"
	configs := []models.WindowConfig{
		{BrandID: 1, Slot: models.SlotDinnerOpen, WindowStart: "17:00:00", WindowEnd: "19:00:00", Active: true},
		{BrandID: 1, Slot: models.SlotLunchOpen, WindowStart: "09:00:00", WindowEnd: "11:00:00", Active: true},
		{BrandID: 1, LocationID: &loc, Slot: models.SlotLunchClose, WindowStart: "13:00:00", WindowEnd: "15:00:00", Active: true},
		{BrandID: 1, Slot: models.SlotDinnerClose, WindowStart: "21:00:00", WindowEnd: "23:00:00", Active: false},
	}

	got := FromConfigs(configs)
	if len(got) != 2 {
		t.Fatalf("FromConfigs returned %d windows, want 2", len(got))
	}
	if got[0].Slot != models.SlotLunchOpen || got[1].Slot != models.SlotDinnerOpen {
		t.Errorf("windows not sorted by start: %+v", got)
	}
}
