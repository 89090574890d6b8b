/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/window"
)

func (a *API) handleBrandsList(w http.ResponseWriter, r *http.Request) {
	var brands []models.Brand
	if err := a.db.WithContext(r.Context()).Order("id ASC").Find(&brands).Error; err != nil {
		a.logger.Error().Err(err).Msg("list brands failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, brands)
}

func (a *API) handleBrandsCreate(w http.ResponseWriter, r *http.Request) {
	var req brandCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.Slug == "" {
		req.Slug = slugify(req.Name)
	}

	brand := models.Brand{
		Name:   req.Name,
		Slug:   req.Slug,
		Active: true,
	}
	if err := a.db.WithContext(r.Context()).Create(&brand).Error; err != nil {
		a.logger.Error().Err(err).Msg("create brand failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().Uint("brand_id", brand.ID).Str("slug", brand.Slug).Msg("brand created")
	a.publish(events.EventBrandUpdated, events.Payload{"brand_id": brand.ID})

	writeJSON(w, http.StatusCreated, brand)
}

func (a *API) handleBrandsGet(w http.ResponseWriter, r *http.Request) {
	brand, ok := a.loadBrand(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, brand)
}

func (a *API) handleBrandsUpdate(w http.ResponseWriter, r *http.Request) {
	brand, ok := a.loadBrand(w, r)
	if !ok {
		return
	}

	var req brandUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, "name_required")
			return
		}
		updates["name"] = *req.Name
	}
	if req.Slug != nil {
		updates["slug"] = *req.Slug
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, brand)
		return
	}

	if err := a.db.WithContext(r.Context()).Model(brand).Updates(updates).Error; err != nil {
		a.logger.Error().Err(err).Msg("update brand failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.invalidateBrand(r, brand.ID)
	a.publish(events.EventBrandUpdated, events.Payload{"brand_id": brand.ID})

	writeJSON(w, http.StatusOK, brand)
}

func (a *API) handleBrandWindowsGet(w http.ResponseWriter, r *http.Request) {
	brand, ok := a.loadBrand(w, r)
	if !ok {
		return
	}

	var configs []models.WindowConfig
	if err := a.db.WithContext(r.Context()).
		Where("brand_id = ? AND active = ?", brand.ID, true).
		Order("location_id ASC, window_start ASC").
		Find(&configs).Error; err != nil {
		a.logger.Error().Err(err).Msg("list windows failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"brand_id": brand.ID,
		"windows":  configs,
	})
}

// handleBrandWindowsPut replaces the brand's whole window set. The request
// carries brand-level rows and optional per-location override rows; each row
// is validated before any row is written.
func (a *API) handleBrandWindowsPut(w http.ResponseWriter, r *http.Request) {
	brand, ok := a.loadBrand(w, r)
	if !ok {
		return
	}

	var req windowSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.Windows) == 0 {
		writeError(w, http.StatusBadRequest, "windows_required")
		return
	}

	type rowKey struct {
		slot     models.SlotType
		location string
	}
	seen := make(map[rowKey]bool, len(req.Windows))
	for _, entry := range req.Windows {
		cand := window.Window{Slot: entry.Slot, Start: entry.Start, End: entry.End}
		if err := cand.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "invalid_window",
				"detail": err.Error(),
			})
			return
		}
		key := rowKey{slot: entry.Slot}
		if entry.LocationID != nil {
			key.location = *entry.LocationID
		}
		if seen[key] {
			writeError(w, http.StatusBadRequest, "duplicate_window")
			return
		}
		seen[key] = true
	}

	// Override rows must point at locations of this brand.
	for _, entry := range req.Windows {
		if entry.LocationID == nil {
			continue
		}
		var count int64
		if err := a.db.WithContext(r.Context()).Model(&models.Location{}).
			Where("id = ? AND brand_id = ?", *entry.LocationID, brand.ID).
			Count(&count).Error; err != nil {
			a.logger.Error().Err(err).Msg("window location check failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if count == 0 {
			writeError(w, http.StatusBadRequest, "unknown_location")
			return
		}
	}

	configs := make([]models.WindowConfig, 0, len(req.Windows))
	for _, entry := range req.Windows {
		configs = append(configs, models.WindowConfig{
			ID:          uuid.NewString(),
			BrandID:     brand.ID,
			LocationID:  entry.LocationID,
			Slot:        entry.Slot,
			WindowStart: entry.Start,
			WindowEnd:   entry.End,
			Active:      true,
		})
	}

	err := a.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("brand_id = ?", brand.ID).Delete(&models.WindowConfig{}).Error; err != nil {
			return err
		}
		return tx.Create(&configs).Error
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("replace windows failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if a.cache != nil {
		if err := a.cache.InvalidateWindows(r.Context()); err != nil {
			a.logger.Warn().Err(err).Msg("window cache invalidation failed")
		}
	}
	a.publish(events.EventWindowUpdated, events.Payload{"brand_id": brand.ID})

	a.logger.Info().
		Uint("brand_id", brand.ID).
		Int("windows", len(configs)).
		Msg("window set replaced")

	writeJSON(w, http.StatusOK, map[string]any{
		"brand_id": brand.ID,
		"windows":  configs,
	})
}

// loadBrand resolves the {brandID} URL parameter, writing the error
// response itself when the brand cannot be loaded.
func (a *API) loadBrand(w http.ResponseWriter, r *http.Request) (*models.Brand, bool) {
	raw := chi.URLParam(r, "brandID")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_brand_id")
		return nil, false
	}

	var brand models.Brand
	result := a.db.WithContext(r.Context()).First(&brand, "id = ?", uint(id))
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get brand failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return &brand, true
}

// invalidateBrand drops cached assignments for a brand after a write.
func (a *API) invalidateBrand(r *http.Request, brandID uint) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateBrandAssignments(r.Context(), brandID); err != nil {
		a.logger.Warn().Err(err).Uint("brand_id", brandID).Msg("assignment cache invalidation failed")
	}
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			return c
		case c == ' ' || c == '-' || c == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	return strings.Trim(slug, "-")
}
