/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/muninn_rounds/internal/journal"
)

const defaultJournalLimit = 500

func (a *API) handleJournalQuery(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable")
		return
	}

	params := journalParamsFromQuery(r)
	params.LocationID = r.URL.Query().Get("location_id")

	entries := a.journal.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleJournalComponents(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"components": a.journal.Components(""),
	})
}

func (a *API) handleJournalStats(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.journal.Stats(""))
}

func (a *API) handleJournalClear(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable")
		return
	}
	a.journal.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Location-scoped journal handlers.

func (a *API) handleLocationJournal(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable")
		return
	}

	locationID := chi.URLParam(r, "locationID")
	params := journalParamsFromQuery(r)
	params.LocationID = locationID

	entries := a.journal.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":     entries,
		"count":       len(entries),
		"location_id": locationID,
	})
}

func (a *API) handleLocationJournalComponents(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable")
		return
	}

	locationID := chi.URLParam(r, "locationID")
	writeJSON(w, http.StatusOK, map[string]any{
		"components":  a.journal.Components(locationID),
		"location_id": locationID,
	})
}

func (a *API) handleLocationJournalStats(w http.ResponseWriter, r *http.Request) {
	if a.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.journal.Stats(chi.URLParam(r, "locationID")))
}

func journalParamsFromQuery(r *http.Request) journal.QueryParams {
	params := journal.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Limit:      defaultJournalLimit,
		Descending: true,
	}

	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}
	if r.URL.Query().Get("order") == "asc" {
		params.Descending = false
	}

	return params
}
