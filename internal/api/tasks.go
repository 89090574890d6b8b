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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/models"
)

func (a *API) handleTasksList(w http.ResponseWriter, r *http.Request) {
	q := a.db.WithContext(r.Context()).Order("created_at ASC")

	if raw := r.URL.Query().Get("brand_id"); raw != "" {
		q = q.Where("brand_id = ?", raw)
	}
	if raw := r.URL.Query().Get("location_id"); raw != "" {
		q = q.Where("location_id = ?", raw)
	}
	if r.URL.Query().Get("include_inactive") == "" {
		q = q.Where("active = ?", true)
	}

	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		a.logger.Error().Err(err).Msg("list tasks failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (a *API) handleTasksCreate(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	task, ok := a.taskFromRequest(w, r, &req)
	if !ok {
		return
	}
	task.ID = uuid.NewString()

	if err := a.db.WithContext(r.Context()).Create(task).Error; err != nil {
		a.logger.Error().Err(err).Msg("create task failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().
		Str("task_id", task.ID).
		Str("scope", string(task.Scope())).
		Bool("routine", task.IsRoutine).
		Msg("task created")
	a.invalidateTaskScope(r, task)
	a.publish(events.EventTaskCreated, taskEventPayload(task))

	writeJSON(w, http.StatusCreated, task)
}

func (a *API) handleTasksGet(w http.ResponseWriter, r *http.Request) {
	task, ok := a.loadTask(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleTasksUpdate replaces the mutable fields of a task wholesale; the
// request body carries the full desired state, like create.
func (a *API) handleTasksUpdate(w http.ResponseWriter, r *http.Request) {
	existing, ok := a.loadTask(w, r)
	if !ok {
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	task, ok := a.taskFromRequest(w, r, &req)
	if !ok {
		return
	}
	task.ID = existing.ID
	task.Active = existing.Active
	task.CreatedAt = existing.CreatedAt

	updates := map[string]any{
		"title":            task.Title,
		"details":          task.Details,
		"brand_id":         task.BrandID,
		"location_id":      task.LocationID,
		"is_routine":       task.IsRoutine,
		"weight":           task.Weight,
		"fixed_weekdays":   task.FixedWeekdays,
		"fixed_slots":      task.FixedSlots,
		"applicable_slots": task.ApplicableSlots,
		"announced":        task.Announced,
		"execute_date":     task.ExecuteDate,
		"execute_slot":     task.ExecuteSlot,
	}
	if err := a.db.WithContext(r.Context()).Model(task).Updates(updates).Error; err != nil {
		a.logger.Error().Err(err).Msg("update task failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.invalidateTaskScope(r, task)
	a.publish(events.EventTaskUpdated, taskEventPayload(task))

	writeJSON(w, http.StatusOK, task)
}

// handleTasksDelete deactivates; resolved assignments keep their task
// reference, so rows are never removed.
func (a *API) handleTasksDelete(w http.ResponseWriter, r *http.Request) {
	task, ok := a.loadTask(w, r)
	if !ok {
		return
	}

	if err := a.db.WithContext(r.Context()).Model(task).Update("active", false).Error; err != nil {
		a.logger.Error().Err(err).Msg("deactivate task failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().Str("task_id", task.ID).Msg("task deactivated")
	a.invalidateTaskScope(r, task)
	a.publish(events.EventTaskDeleted, taskEventPayload(task))

	writeJSON(w, http.StatusOK, task)
}

func (a *API) handleAssignmentsList(w http.ResponseWriter, r *http.Request) {
	q := a.db.WithContext(r.Context()).Order("created_at DESC")

	if raw := r.URL.Query().Get("brand_id"); raw != "" {
		q = q.Where("brand_id = ?", raw)
	}
	if raw := r.URL.Query().Get("location_id"); raw != "" {
		q = q.Where("location_id = ?", raw)
	}
	if raw := r.URL.Query().Get("date"); raw != "" {
		q = q.Where("date = ?", raw)
	}
	if raw := r.URL.Query().Get("slot"); raw != "" {
		q = q.Where("slot = ?", raw)
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	var assignments []models.Assignment
	if err := q.Limit(limit).Find(&assignments).Error; err != nil {
		a.logger.Error().Err(err).Msg("list assignments failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assignments": assignments,
		"count":       len(assignments),
	})
}

// taskFromRequest validates the request and builds a normalized task. Error
// responses are written here; the bool reports success.
func (a *API) taskFromRequest(w http.ResponseWriter, r *http.Request, req *taskRequest) (*models.Task, bool) {
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return nil, false
	}

	brandID := req.BrandID
	if req.LocationID != nil && *req.LocationID != "" {
		var location models.Location
		result := a.db.WithContext(r.Context()).First(&location, "id = ?", *req.LocationID)
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusBadRequest, "unknown_location")
			return nil, false
		}
		if result.Error != nil {
			a.logger.Error().Err(result.Error).Msg("task location lookup failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return nil, false
		}
		if brandID != nil && *brandID != location.BrandID {
			writeError(w, http.StatusBadRequest, "location_brand_mismatch")
			return nil, false
		}
		brandID = &location.BrandID
	} else if brandID != nil {
		var count int64
		if err := a.db.WithContext(r.Context()).Model(&models.Brand{}).
			Where("id = ?", *brandID).Count(&count).Error; err != nil {
			a.logger.Error().Err(err).Msg("task brand lookup failed")
			writeError(w, http.StatusInternalServerError, "db_error")
			return nil, false
		}
		if count == 0 {
			writeError(w, http.StatusBadRequest, "unknown_brand")
			return nil, false
		}
	}

	for _, d := range req.FixedWeekdays {
		if d < 0 || d > 6 {
			writeError(w, http.StatusBadRequest, "invalid_weekday")
			return nil, false
		}
	}
	for _, s := range req.FixedSlots {
		if !models.ValidSlot(s) {
			writeError(w, http.StatusBadRequest, "invalid_slot")
			return nil, false
		}
	}
	for _, s := range req.ApplicableSlots {
		if !models.ValidSlot(s) {
			writeError(w, http.StatusBadRequest, "invalid_slot")
			return nil, false
		}
	}

	if !req.IsRoutine {
		if req.ExecuteDate == nil || *req.ExecuteDate == "" {
			writeError(w, http.StatusBadRequest, "execute_date_required")
			return nil, false
		}
		if _, err := time.Parse("2006-01-02", *req.ExecuteDate); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_execute_date")
			return nil, false
		}
		if req.ExecuteSlot != nil && !models.ValidSlot(*req.ExecuteSlot) {
			writeError(w, http.StatusBadRequest, "invalid_slot")
			return nil, false
		}
	}

	var locationID *string
	if req.LocationID != nil && *req.LocationID != "" {
		locationID = req.LocationID
	}

	task := &models.Task{
		Title:           req.Title,
		Details:         req.Details,
		BrandID:         brandID,
		LocationID:      locationID,
		IsRoutine:       req.IsRoutine,
		Weight:          req.Weight,
		FixedWeekdays:   req.FixedWeekdays,
		FixedSlots:      req.FixedSlots,
		ApplicableSlots: req.ApplicableSlots,
		Announced:       req.Announced == nil || *req.Announced,
		ExecuteDate:     req.ExecuteDate,
		ExecuteSlot:     req.ExecuteSlot,
		Active:          true,
	}
	task.Normalize()
	return task, true
}

// loadTask resolves the {taskID} URL parameter, writing the error response
// itself when the task cannot be loaded.
func (a *API) loadTask(w http.ResponseWriter, r *http.Request) (*models.Task, bool) {
	id := chi.URLParam(r, "taskID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "task_id_required")
		return nil, false
	}

	var task models.Task
	result := a.db.WithContext(r.Context()).First(&task, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil, false
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get task failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil, false
	}
	return &task, true
}

// invalidateTaskScope drops the cached assignments a task write can change:
// the task's brand when scoped, everything when global.
func (a *API) invalidateTaskScope(r *http.Request, task *models.Task) {
	if a.cache == nil {
		return
	}
	var err error
	if task.BrandID != nil {
		err = a.cache.InvalidateBrandAssignments(r.Context(), *task.BrandID)
	} else {
		err = a.cache.InvalidateAssignments(r.Context())
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("task_id", task.ID).Msg("assignment cache invalidation failed")
	}
}

func taskEventPayload(task *models.Task) events.Payload {
	payload := events.Payload{
		"task_id": task.ID,
		"routine": task.IsRoutine,
	}
	if task.BrandID != nil {
		payload["brand_id"] = *task.BrandID
	}
	if task.LocationID != nil {
		payload["location_id"] = *task.LocationID
	}
	return payload
}
