package api

import (
	"errors"
	"net/http"

	"github.com/MbohBless/data-test/internal/schema"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, "analyst") {
		return
	}

	forceRefresh := r.URL.Query().Get("force_refresh") == "true"
	snapshot, err := deps.Schemas.Snapshot(r.Context(), forceRefresh)
	if err != nil {
		if errors.Is(err, schema.ErrUnavailable) {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", err.Error(), true, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", err.Error(), true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tables":        snapshot.Tables,
		"total_tables":  len(snapshot.Tables),
		"database_name": snapshot.DatabaseName,
		"fetched_at":    snapshot.FetchedAt,
		"cached":        snapshot.Cached,
		"stale":         snapshot.Stale,
	})
}
