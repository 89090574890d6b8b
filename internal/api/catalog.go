/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"io"
	"net/http"
)

const maxCatalogBytes = 1 << 20

// handleCatalogImport applies a YAML catalog document. With ?dry_run=1 the
// import is validated and counted inside a rolled-back transaction.
func (a *API) handleCatalogImport(w http.ResponseWriter, r *http.Request) {
	if a.catalogSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog_disabled")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxCatalogBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "body_required")
		return
	}
	if len(data) > maxCatalogBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "catalog_too_large")
		return
	}

	dryRun := r.URL.Query().Get("dry_run") == "1" || r.URL.Query().Get("dry_run") == "true"

	result, err := a.catalogSvc.Import(r.Context(), data, dryRun)
	if err != nil {
		a.logger.Warn().Err(err).Bool("dry_run", dryRun).Msg("catalog import rejected")
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "invalid_catalog",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}
