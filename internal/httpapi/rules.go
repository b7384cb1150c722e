package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
	"github.com/jask/moneyrules/internal/service"
)

type saveRuleBody struct {
	Rule  engine.Rule `json:"rule"`
	Force string      `json:"force,omitempty"`
}

func createRule(svc *service.RuleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body saveRuleBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		rule, err := svc.Create(r.Context(), service.SaveRequest{Rule: body.Rule, Force: body.Force})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

func updateRule(svc *service.RuleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body saveRuleBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		body.Rule.ID = chi.URLParam(r, "rule_id")
		rule, err := svc.Update(r.Context(), service.SaveRequest{Rule: body.Rule, Force: body.Force})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func getRule(svc *service.RuleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, err := svc.Get(r.Context(), chi.URLParam(r, "rule_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

func deleteRule(svc *service.RuleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), chi.URLParam(r, "rule_id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listRules(svc *service.RuleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rules, err := svc.List(r.Context(), q.Get("rule_set_id"), repository.RuleScope(q.Get("scope")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rules)
	}
}

func previewRule(svc *service.RuleService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Rule        engine.Rule `json:"rule"`
			SampleLimit int         `json:"sample_limit"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		preview, err := svc.Preview(r.Context(), body.Rule, body.SampleLimit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
	}
}

func applyRules(svc *service.ApplyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts service.ApplyOptions
		if err := decodeBody(r, &opts); err != nil {
			writeError(w, err)
			return
		}
		report, err := svc.Apply(r.Context(), opts)
		if err != nil {
			// A partial apply still produced a report worth returning.
			if report != nil {
				writeJSON(w, http.StatusBadGateway, map[string]any{
					"report": report,
					"error":  err.Error(),
				})
				return
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func explain(svc *service.ExplainService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TransactionIDs []string `json:"transaction_ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		if len(body.TransactionIDs) == 0 {
			writeError(w, &engine.ValidationError{Field: "transaction_ids", Message: "must not be empty"})
			return
		}
		out, err := svc.Explain(r.Context(), body.TransactionIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func advisorSuggest(svc *service.AdvisorService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.AdviseRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		out, err := svc.Suggest(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
