/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/assign"
	"github.com/friendsincode/muninn_rounds/internal/catalog"
	"github.com/friendsincode/muninn_rounds/internal/eventbus"
	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/journal"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/window"
)

type testAPI struct {
	api    *API
	db     *gorm.DB
	bus    eventbus.Memory
	router *chi.Mux
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Brand{}, &models.Location{}, &models.WindowConfig{}, &models.Task{}, &models.Assignment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := assign.NewGormStore(db, zerolog.Nop())
	resolver := assign.NewResolver(store, zerolog.Nop())
	resolver.SetRecorder(store)

	bus := eventbus.NewMemory()
	a := New(db, resolver, window.NewRegistry(), bus, journal.New(64), zerolog.Nop())

	router := chi.NewRouter()
	a.Routes(router)

	return &testAPI{api: a, db: db, bus: bus, router: router}
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	ta.router.ServeHTTP(rr, req)
	return rr
}

func (ta *testAPI) seedBrandAndLocation(t *testing.T) (models.Brand, models.Location) {
	t.Helper()

	brand := models.Brand{Name: "Fresh Bowl", Slug: "fresh-bowl", Active: true}
	if err := ta.db.Create(&brand).Error; err != nil {
		t.Fatalf("create brand: %v", err)
	}
	location := models.Location{
		ID:       uuid.NewString(),
		BrandID:  brand.ID,
		Name:     "Harbor Street",
		Slug:     "harbor-street",
		Timezone: "UTC",
		Active:   true,
	}
	if err := ta.db.Create(&location).Error; err != nil {
		t.Fatalf("create location: %v", err)
	}
	return brand, location
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ta := newTestAPI(t)

	rr := ta.do(t, "GET", "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}

	rr = ta.do(t, "GET", "/readyz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = ta.do(t, "GET", "/api/v1/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("api health: expected 200, got %d", rr.Code)
	}
}

func TestResolveAdHocTask(t *testing.T) {
	ta := newTestAPI(t)
	brand, location := ta.seedBrandAndLocation(t)

	date := "2025-03-15"
	slot := models.SlotDinnerOpen
	task := models.Task{
		ID:          uuid.NewString(),
		Title:       "Inventory the walk-in",
		BrandID:     &brand.ID,
		LocationID:  &location.ID,
		Announced:   true,
		Weight:      models.DefaultTaskWeight,
		ExecuteDate: &date,
		ExecuteSlot: &slot,
		Active:      true,
	}
	if err := ta.db.Create(&task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}

	rr := ta.do(t, "GET", "/api/v1/resolve?location_id="+location.ID+"&slot=dinner_open&date=2025-03-15", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp resolveResponse
	decodeJSON(t, rr, &resp)
	if resp.Outcome != models.OutcomeAssigned {
		t.Fatalf("expected assigned outcome, got %q", resp.Outcome)
	}
	if resp.Tier != models.TierAdHoc {
		t.Fatalf("expected adhoc tier, got %q", resp.Tier)
	}
	if resp.Task == nil || resp.Task.ID != task.ID {
		t.Fatalf("expected task %s, got %+v", task.ID, resp.Task)
	}
	if resp.BrandID != brand.ID {
		t.Fatalf("expected brand %d, got %d", brand.ID, resp.BrandID)
	}

	// The recorder is wired, so the resolution left an audit row.
	var count int64
	if err := ta.db.Model(&models.Assignment{}).Where("location_id = ?", location.ID).Count(&count).Error; err != nil {
		t.Fatalf("count assignments: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 assignment row, got %d", count)
	}
}

func TestResolveErrors(t *testing.T) {
	ta := newTestAPI(t)
	_, location := ta.seedBrandAndLocation(t)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"missing location id", "/api/v1/resolve", http.StatusBadRequest},
		{"unknown location", "/api/v1/resolve?location_id=" + uuid.NewString() + "&slot=lunch_open", http.StatusNotFound},
		{"invalid slot", "/api/v1/resolve?location_id=" + location.ID + "&slot=brunch", http.StatusBadRequest},
		{"invalid date", "/api/v1/resolve?location_id=" + location.ID + "&slot=lunch_open&date=15-03-2025", http.StatusBadRequest},
		{"no open window without slot", "/api/v1/resolve?location_id=" + location.ID, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ta.do(t, "GET", tt.path, nil)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d body=%s", tt.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestResolveSlotDefaultsToOpenWindow(t *testing.T) {
	ta := newTestAPI(t)
	brand, location := ta.seedBrandAndLocation(t)

	noon := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	sched := window.New(window.Config{Location: time.UTC, Now: func() time.Time { return noon }}, zerolog.Nop())
	if err := sched.Init([]window.Window{{Slot: models.SlotLunchOpen, Start: "11:00:00", End: "14:00:00"}}); err != nil {
		t.Fatalf("init scheduler: %v", err)
	}
	ta.api.schedulers.Put(brand.ID, sched)

	rr := ta.do(t, "GET", "/api/v1/resolve?location_id="+location.ID+"&date=2025-03-15", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp resolveResponse
	decodeJSON(t, rr, &resp)
	if resp.Slot != models.SlotLunchOpen {
		t.Fatalf("expected slot defaulted to lunch_open, got %q", resp.Slot)
	}
	if resp.Outcome != models.OutcomeNone {
		t.Fatalf("expected none outcome with no tasks, got %q", resp.Outcome)
	}
}

func TestLocationWindowUsesOverrides(t *testing.T) {
	ta := newTestAPI(t)
	brand, location := ta.seedBrandAndLocation(t)

	configs := []models.WindowConfig{
		{ID: uuid.NewString(), BrandID: brand.ID, Slot: models.SlotLunchOpen, WindowStart: "11:00:00", WindowEnd: "14:00:00", Active: true},
		{ID: uuid.NewString(), BrandID: brand.ID, Slot: models.SlotDinnerOpen, WindowStart: "18:00:00", WindowEnd: "21:00:00", Active: true},
		{ID: uuid.NewString(), BrandID: brand.ID, LocationID: &location.ID, Slot: models.SlotLunchOpen, WindowStart: "10:00:00", WindowEnd: "13:00:00", Active: true},
	}
	for i := range configs {
		if err := ta.db.Create(&configs[i]).Error; err != nil {
			t.Fatalf("create window config: %v", err)
		}
	}

	rr := ta.do(t, "GET", "/api/v1/locations/"+location.ID+"/window", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp locationWindowResponse
	decodeJSON(t, rr, &resp)
	if resp.LocationID != location.ID || resp.BrandID != brand.ID {
		t.Fatalf("unexpected identity in response: %+v", resp)
	}
	if len(resp.Windows) != 2 {
		t.Fatalf("expected 2 effective windows, got %d", len(resp.Windows))
	}
	var lunch *window.Window
	for i := range resp.Windows {
		if resp.Windows[i].Slot == models.SlotLunchOpen {
			lunch = &resp.Windows[i]
		}
	}
	if lunch == nil || lunch.Start != "10:00:00" {
		t.Fatalf("expected location override lunch window, got %+v", lunch)
	}

	rr = ta.do(t, "GET", "/api/v1/locations/"+uuid.NewString()+"/window", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown location, got %d", rr.Code)
	}
}

func TestJournalEndpoints(t *testing.T) {
	ta := newTestAPI(t)

	base := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ta.api.journal.Add(journal.Entry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Level:     "info",
			Message:   "slot changed",
			Component: "window_scheduler",
		})
	}
	ta.api.journal.Add(journal.Entry{
		Timestamp: base.Add(10 * time.Minute),
		Level:     "error",
		Message:   "resolve failed",
		Component: "assign_resolver",
		Fields:    map[string]any{"location_id": "loc-1"},
	})

	rr := ta.do(t, "GET", "/api/v1/journal?level=error", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Entries []journal.Entry `json:"entries"`
		Count   int             `json:"count"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Count != 1 || len(resp.Entries) != 1 {
		t.Fatalf("expected 1 error entry, got %d", resp.Count)
	}
	if resp.Entries[0].Component != "assign_resolver" {
		t.Fatalf("unexpected entry: %+v", resp.Entries[0])
	}

	rr = ta.do(t, "GET", "/api/v1/journal/components", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var comps struct {
		Components []string `json:"components"`
	}
	decodeJSON(t, rr, &comps)
	if len(comps.Components) != 2 {
		t.Fatalf("expected 2 components, got %v", comps.Components)
	}

	rr = ta.do(t, "GET", "/api/v1/journal/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = ta.do(t, "DELETE", "/api/v1/journal", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	rr = ta.do(t, "GET", "/api/v1/journal", nil)
	decodeJSON(t, rr, &resp)
	if resp.Count != 0 {
		t.Fatalf("expected cleared journal, got %d entries", resp.Count)
	}
}

func TestCatalogImportEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	ta.api.SetCatalogService(catalog.New(ta.db, zerolog.Nop()))

	doc := `
brands:
  - name: Fresh Bowl
    slug: fresh-bowl
    locations:
      - name: Harbor Street
        slug: harbor-street
        timezone: UTC
`
	req := httptest.NewRequest("POST", "/api/v1/catalog/import?dry_run=1", strings.NewReader(doc))
	rr := httptest.NewRecorder()
	ta.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var result struct {
		BrandsCreated    int  `json:"brands_created"`
		LocationsCreated int  `json:"locations_created"`
		DryRun           bool `json:"dry_run"`
	}
	decodeJSON(t, rr, &result)
	if !result.DryRun || result.BrandsCreated != 1 || result.LocationsCreated != 1 {
		t.Fatalf("unexpected dry-run result: %+v", result)
	}

	var count int64
	if err := ta.db.Model(&models.Brand{}).Count(&count).Error; err != nil {
		t.Fatalf("count brands: %v", err)
	}
	if count != 0 {
		t.Fatalf("dry run must not persist, found %d brands", count)
	}

	req = httptest.NewRequest("POST", "/api/v1/catalog/import", strings.NewReader("brands: [{slug: missing-name}]"))
	rr = httptest.NewRecorder()
	ta.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid catalog, got %d", rr.Code)
	}

	req = httptest.NewRequest("POST", "/api/v1/catalog/import", nil)
	rr = httptest.NewRecorder()
	ta.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
}

func TestEventsPublishOnWrites(t *testing.T) {
	ta := newTestAPI(t)

	sub := ta.bus.Subscribe(events.EventBrandUpdated)
	defer ta.bus.Unsubscribe(events.EventBrandUpdated, sub)

	rr := ta.do(t, "POST", "/api/v1/brands", map[string]any{"name": "Fresh Bowl"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	select {
	case payload := <-sub:
		if payload["brand_id"] == nil {
			t.Fatalf("expected brand_id in payload, got %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected brand updated event")
	}
}
