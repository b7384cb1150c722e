package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jask/moneyrules/internal/engine"
	"github.com/jask/moneyrules/internal/service"
)

func listRuleSets(svc *service.RuleSetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sets, err := svc.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sets)
	}
}

func createRuleSet(svc *service.RuleSetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			CloneFrom   string `json:"clone_from"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		set, err := svc.Create(r.Context(), body.Name, body.Description, body.CloneFrom)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, set)
	}
}

func activateRuleSet(svc *service.RuleSetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ExpectedActiveID string `json:"expected_active_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		if err := svc.Activate(r.Context(), chi.URLParam(r, "set_id"), body.ExpectedActiveID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func shadowCompare(svc *service.RuleSetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RuleSetA    string `json:"rule_set_a"`
			RuleSetB    string `json:"rule_set_b"`
			SampleLimit int    `json:"sample_limit"`
			DiffLimit   int    `json:"diff_limit"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		if body.RuleSetA == "" || body.RuleSetB == "" {
			writeError(w, &engine.ValidationError{Field: "rule_set_a", Message: "both rule set ids are required"})
			return
		}
		report, err := svc.ShadowCompare(r.Context(), body.RuleSetA, body.RuleSetB, service.ShadowCompareOptions{
			SampleLimit: body.SampleLimit,
			DiffLimit:   body.DiffLimit,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func extractProtected(svc *service.RuleSetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		set, copied, err := svc.ExtractProtected(r.Context(), chi.URLParam(r, "set_id"), body.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"rule_set": set, "copied": copied})
	}
}

func cleanupPreview(svc *service.RuleSetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.CleanupPreview(r.Context(), chi.URLParam(r, "set_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func cleanupApply(svc *service.RuleSetService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := svc.CleanupApply(r.Context(), chi.URLParam(r, "set_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
