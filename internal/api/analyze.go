package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/MbohBless/data-test/internal/analysis"
	"github.com/MbohBless/data-test/internal/auth"
)

const (
	minRequestLength = 5
	maxRequestLength = 500
)

type analyzeRequest struct {
	Request            string         `json:"request"`
	Context            map[string]any `json:"context"`
	ForceRefreshSchema bool           `json:"force_refresh_schema"`
	IncludeRawData     *bool          `json:"include_raw_data"`
}

func handleAnalyze(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, "analyst") {
		return
	}

	var payload analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", false, nil)
		return
	}

	text := strings.TrimSpace(payload.Request)
	if length := utf8.RuneCountInString(text); length < minRequestLength || length > maxRequestLength {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("request text must be between %d and %d characters", minRequestLength, maxRequestLength), false, nil)
		return
	}

	includeRawData := true
	if payload.IncludeRawData != nil {
		includeRawData = *payload.IncludeRawData
	}

	response := deps.Analysis.Analyze(r.Context(), analysis.Request{
		Text:               text,
		Context:            payload.Context,
		ForceRefreshSchema: payload.ForceRefreshSchema,
		IncludeRawData:     includeRawData,
	})

	// every accepted request yields a well-formed analysis response,
	// whatever happened inside the loop
	writeJSON(w, http.StatusOK, response)
}

func requireRole(w http.ResponseWriter, r *http.Request, role string) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		// auth disabled; nothing to enforce
		return true
	}
	if !identity.HasRole(role) {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN",
			fmt.Sprintf("role %q is required", role), false, nil)
		return false
	}
	return true
}
