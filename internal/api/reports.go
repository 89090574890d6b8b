/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/muninn_rounds/internal/reports"
	"github.com/friendsincode/muninn_rounds/internal/storage"
)

// handleReportsRun builds and uploads the assignment CSV on demand. With a
// brand_id it covers that brand only; without, every active brand.
func (a *API) handleReportsRun(w http.ResponseWriter, r *http.Request) {
	if a.reportsSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "reports_disabled")
		return
	}

	var req reportRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	date := req.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	if req.BrandID != 0 {
		report, err := a.reportsSvc.Generate(r.Context(), req.BrandID, date)
		if err != nil {
			a.logger.Error().Err(err).Uint("brand_id", req.BrandID).Msg("report run failed")
			writeError(w, http.StatusInternalServerError, "report_failed")
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	if err := a.reportsSvc.RunDaily(r.Context(), date); err != nil {
		a.logger.Error().Err(err).Str("date", date).Msg("report run failed")
		writeError(w, http.StatusInternalServerError, "report_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "date": date})
}

func (a *API) handleReportsList(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "reports_disabled")
		return
	}

	prefix := "reports/"
	if raw := r.URL.Query().Get("brand_id"); raw != "" {
		if _, err := strconv.ParseUint(raw, 10, 32); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_brand_id")
			return
		}
		prefix = fmt.Sprintf("reports/%s/", raw)
	}

	keys, err := a.store.List(r.Context(), prefix)
	if err != nil {
		a.logger.Error().Err(err).Msg("list reports failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	type entry struct {
		Key string `json:"key"`
		URL string `json:"url,omitempty"`
	}
	out := make([]entry, 0, len(keys))
	for _, key := range keys {
		out = append(out, entry{Key: key, URL: a.store.URL(key)})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": out,
		"count":   len(out),
	})
}

func (a *API) handleReportsDownload(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "reports_disabled")
		return
	}

	rawBrand := chi.URLParam(r, "brandID")
	brandID, err := strconv.ParseUint(rawBrand, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_brand_id")
		return
	}
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	data, err := a.store.Read(r.Context(), reports.Key(uint(brandID), date))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("read report failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"assignments-%d-%s.csv\"", brandID, date))
	w.Write(data)
}

func (a *API) handleReportsDelete(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "reports_disabled")
		return
	}

	rawBrand := chi.URLParam(r, "brandID")
	brandID, err := strconv.ParseUint(rawBrand, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_brand_id")
		return
	}
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}

	key := reports.Key(uint(brandID), date)
	exists, err := a.store.Exists(r.Context(), key)
	if err != nil {
		a.logger.Error().Err(err).Msg("report existence check failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	if err := a.store.Delete(r.Context(), key); err != nil {
		a.logger.Error().Err(err).Msg("delete report failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	a.logger.Info().Uint64("brand_id", brandID).Str("date", date).Msg("report deleted")
	w.WriteHeader(http.StatusNoContent)
}
