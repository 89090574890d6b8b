/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/reports"
	"github.com/friendsincode/muninn_rounds/internal/storage"
)

func TestReportsEndpoints(t *testing.T) {
	ta := newTestAPI(t)
	brand, location := ta.seedBrandAndLocation(t)

	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	ta.api.SetReportsService(reports.New(ta.db, store, 3, zerolog.Nop()), store)

	date := "2025-03-15"
	taskID := uuid.NewString()
	row := models.Assignment{
		ID:         uuid.NewString(),
		Date:       date,
		BrandID:    brand.ID,
		LocationID: location.ID,
		Slot:       models.SlotLunchOpen,
		TaskID:     &taskID,
		TaskTitle:  "Wipe the counters",
		Outcome:    models.OutcomeAssigned,
		Tier:       models.TierWeighted,
	}
	if err := ta.db.Create(&row).Error; err != nil {
		t.Fatalf("create assignment: %v", err)
	}

	rr := ta.do(t, "POST", "/api/v1/reports/run", map[string]any{"brand_id": brand.ID, "date": date})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var report reports.Report
	decodeJSON(t, rr, &report)
	if report.Rows != 1 {
		t.Fatalf("expected 1 report row, got %d", report.Rows)
	}

	rr = ta.do(t, "GET", fmt.Sprintf("/api/v1/reports/%d/%s", brand.ID, date), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, location.ID) || !strings.Contains(body, "Wipe the counters") {
		t.Fatalf("unexpected csv body: %s", body)
	}

	rr = ta.do(t, "GET", "/api/v1/reports", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var listed struct {
		Reports []struct {
			Key string `json:"key"`
		} `json:"reports"`
		Count int `json:"count"`
	}
	decodeJSON(t, rr, &listed)
	if listed.Count != 1 || listed.Reports[0].Key != reports.Key(brand.ID, date) {
		t.Fatalf("unexpected report listing: %+v", listed)
	}

	rr = ta.do(t, "GET", fmt.Sprintf("/api/v1/reports/%d/2025-03-16", brand.ID), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing report, got %d", rr.Code)
	}

	rr = ta.do(t, "GET", fmt.Sprintf("/api/v1/reports/%d/not-a-date", brand.ID), nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rr.Code)
	}

	rr = ta.do(t, "DELETE", fmt.Sprintf("/api/v1/reports/%d/%s", brand.ID, date), nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = ta.do(t, "GET", fmt.Sprintf("/api/v1/reports/%d/%s", brand.ID, date), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
	rr = ta.do(t, "DELETE", fmt.Sprintf("/api/v1/reports/%d/%s", brand.ID, date), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting a missing report, got %d", rr.Code)
	}
}

func TestReportsRunAllBrands(t *testing.T) {
	ta := newTestAPI(t)
	brand, _ := ta.seedBrandAndLocation(t)

	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	ta.api.SetReportsService(reports.New(ta.db, store, 3, zerolog.Nop()), store)

	rr := ta.do(t, "POST", "/api/v1/reports/run", map[string]any{"date": "2025-03-15"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Even with no assignments the brand gets a header-only file.
	keys, err := store.List(context.Background(), "reports/")
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(keys) != 1 || keys[0] != reports.Key(brand.ID, "2025-03-15") {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestReportsDisabledWithoutService(t *testing.T) {
	ta := newTestAPI(t)

	rr := ta.do(t, "POST", "/api/v1/reports/run", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	rr = ta.do(t, "GET", "/api/v1/reports", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	rr = ta.do(t, "GET", "/api/v1/reports/1/2025-03-15", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
