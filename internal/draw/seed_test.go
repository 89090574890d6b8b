/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package draw

import "testing"

func TestSeedGoldenValues(t *testing.T) {
	tests := []struct {
		name    string
		date    string
		brandID uint
		slot    string
		want    uint32
	}{
		{"lunch open brand 42", "2025-03-15", 42, "lunch_open", 1204616256},
		{"lunch close brand 42", "2025-03-15", 42, "lunch_close", 1083267140},
		{"dinner open brand 42", "2025-03-15", 42, "dinner_open", 1360894374},
		{"dinner close brand 7", "2025-03-15", 7, "dinner_close", 145847643},
		{"year boundary before", "2024-12-31", 1, "lunch_open", 4157879656},
		{"year boundary after", "2025-01-01", 1, "lunch_open", 1496651364},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Seed(tt.date, tt.brandID, tt.slot)
			if got != tt.want {
				t.Errorf("Seed(%q, %d, %q) = %d, want %d", tt.date, tt.brandID, tt.slot, got, tt.want)
			}
		})
	}
}

func TestSeedIsPure(t *testing.T) {
	first := Seed("2025-03-15", 42, "lunch_open")
	for i := 0; i < 100; i++ {
		if got := Seed("2025-03-15", 42, "lunch_open"); got != first {
			t.Fatalf("call %d: Seed returned %d, want %d", i, got, first)
		}
	}
}

func TestSeedDistinguishesInputs(t *testing.T) {
	base := Seed("2025-03-15", 42, "lunch_open")

	if got := Seed("2025-03-16", 42, "lunch_open"); got == base {
		t.Errorf("different date produced identical seed %d", got)
	}
	if got := Seed("2025-03-15", 43, "lunch_open"); got == base {
		t.Errorf("different brand produced identical seed %d", got)
	}
	if got := Seed("2025-03-15", 42, "dinner_open"); got == base {
		t.Errorf("different slot produced identical seed %d", got)
	}
}
