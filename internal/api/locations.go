/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/models"
)

func (a *API) handleLocationsList(w http.ResponseWriter, r *http.Request) {
	q := a.db.WithContext(r.Context()).Order("brand_id ASC, name ASC")
	if raw := r.URL.Query().Get("brand_id"); raw != "" {
		q = q.Where("brand_id = ?", raw)
	}

	var locations []models.Location
	if err := q.Find(&locations).Error; err != nil {
		a.logger.Error().Err(err).Msg("list locations failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (a *API) handleLocationsCreate(w http.ResponseWriter, r *http.Request) {
	var req locationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.BrandID == 0 {
		writeError(w, http.StatusBadRequest, "brand_id_required")
		return
	}

	var brand models.Brand
	result := a.db.WithContext(r.Context()).First(&brand, "id = ?", req.BrandID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusBadRequest, "unknown_brand")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("brand lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_timezone")
		return
	}
	if req.Slug == "" {
		req.Slug = slugify(req.Name)
	}

	location := models.Location{
		ID:       uuid.NewString(),
		BrandID:  req.BrandID,
		Name:     req.Name,
		Slug:     req.Slug,
		Timezone: req.Timezone,
		Active:   true,
	}
	if err := a.db.WithContext(r.Context()).Create(&location).Error; err != nil {
		a.logger.Error().Err(err).Msg("create location failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().
		Str("location_id", location.ID).
		Uint("brand_id", location.BrandID).
		Msg("location created")
	a.publish(events.EventLocationUpdated, events.Payload{
		"location_id": location.ID,
		"brand_id":    location.BrandID,
	})

	writeJSON(w, http.StatusCreated, location)
}

func (a *API) handleLocationsGet(w http.ResponseWriter, r *http.Request) {
	location, ok := a.loadLocation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, location)
}

func (a *API) handleLocationsUpdate(w http.ResponseWriter, r *http.Request) {
	location, ok := a.loadLocation(w, r)
	if !ok {
		return
	}

	var req locationUpdateRequest
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
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timezone")
			return
		}
		updates["timezone"] = *req.Timezone
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, location)
		return
	}

	if err := a.db.WithContext(r.Context()).Model(location).Updates(updates).Error; err != nil {
		a.logger.Error().Err(err).Msg("update location failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if a.cache != nil {
		if err := a.cache.InvalidateLocation(r.Context(), location.ID); err != nil {
			a.logger.Warn().Err(err).Msg("location cache invalidation failed")
		}
	}
	a.invalidateBrand(r, location.BrandID)
	a.publish(events.EventLocationUpdated, events.Payload{
		"location_id": location.ID,
		"brand_id":    location.BrandID,
	})

	writeJSON(w, http.StatusOK, location)
}

// loadLocation resolves the {locationID} URL parameter, writing the error
// response itself when the location cannot be loaded.
func (a *API) loadLocation(w http.ResponseWriter, r *http.Request) (*models.Location, bool) {
	id := chi.URLParam(r, "locationID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "location_id_required")
		return nil, false
	}

	var location models.Location
	result := a.db.WithContext(r.Context()).First(&location, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get location failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return &location, true
}
