/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package window

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_rounds/internal/models"
)

func registryScheduler(t *testing.T) *Scheduler {
	t.Helper()
	clock := newFakeClock(time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC))
	s := New(Config{Location: time.UTC, Now: clock.Now}, zerolog.Nop())
	if err := s.Init([]Window{{Slot: models.SlotLunchOpen, Start: "11:00:00", End: "14:00:00"}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get(1); ok {
		t.Fatal("expected empty registry")
	}

	s := registryScheduler(t)
	r.Put(1, s)

	got, ok := r.Get(1)
	if !ok || got != s {
		t.Fatal("expected scheduler back from registry")
	}
	if r.Len() != 1 {
		t.Fatalf("expected len 1, got %d", r.Len())
	}

	r.Remove(1)
	if _, ok := r.Get(1); ok {
		t.Fatal("expected scheduler removed")
	}
	if err := s.Init([]Window{{Slot: models.SlotLunchOpen, Start: "11:00:00", End: "14:00:00"}}); err == nil {
		t.Fatal("expected removed scheduler stopped")
	}
}

func TestRegistryPutStopsReplacedScheduler(t *testing.T) {
	r := NewRegistry()

	old := registryScheduler(t)
	r.Put(7, old)

	replacement := registryScheduler(t)
	r.Put(7, replacement)

	if err := old.Init([]Window{{Slot: models.SlotLunchOpen, Start: "11:00:00", End: "14:00:00"}}); err == nil {
		t.Fatal("expected replaced scheduler stopped")
	}
	if replacement.CurrentSlot() != models.SlotLunchOpen {
		t.Fatal("expected replacement still running")
	}
	if got, _ := r.Get(7); got != replacement {
		t.Fatal("expected replacement registered")
	}
}

func TestRegistryStopAll(t *testing.T) {
	r := NewRegistry()
	a := registryScheduler(t)
	b := registryScheduler(t)
	r.Put(1, a)
	r.Put(2, b)

	r.StopAll()

	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	windows := []Window{{Slot: models.SlotLunchOpen, Start: "11:00:00", End: "14:00:00"}}
	if err := a.Init(windows); err == nil {
		t.Fatal("expected first scheduler stopped")
	}
	if err := b.Init(windows); err == nil {
		t.Fatal("expected second scheduler stopped")
	}
}
