package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jask/moneyrules/internal/engine"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// writeError maps the service error taxonomy onto HTTP statuses. Force
// requirements travel as 409 with the preview and confirm token so the
// client can resubmit.
func writeError(w http.ResponseWriter, err error) {
	var vErr *engine.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: vErr.Error(), Code: "validation"})
		return
	}
	var fErr *engine.ForceRequiredError
	if errors.As(err, &fErr) {
		writeJSON(w, http.StatusConflict, errorBody{
			Error: fErr.Error(),
			Code:  "force_required",
			Details: map[string]any{
				"preview":       fErr.Preview,
				"confirm_token": fErr.ConfirmToken,
			},
		})
		return
	}
	var cErr *engine.ConcurrencyConflictError
	if errors.As(err, &cErr) {
		writeJSON(w, http.StatusConflict, errorBody{
			Error: cErr.Error(),
			Code:  "concurrency_conflict",
			Details: map[string]any{
				"expected_active_id": cErr.ExpectedActiveID,
				"actual_active_id":   cErr.ActualActiveID,
			},
		})
		return
	}
	var pErr *engine.PartialApplyError
	if errors.As(err, &pErr) {
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error:   pErr.Error(),
			Code:    "partial_apply",
			Details: pErr.Failures,
		})
		return
	}
	var iErr *engine.ImportFormatError
	if errors.As(err, &iErr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: iErr.Error(), Code: "import_format"})
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &engine.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}
