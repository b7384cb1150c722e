// Package httpapi exposes the rule engine over HTTP. Handlers are thin:
// decode, call the service, map the error taxonomy to a status.
package httpapi

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jask/moneyrules/internal/service"
)

// Services bundles everything the router needs.
type Services struct {
	Apply       *service.ApplyService
	Rules       *service.RuleService
	RuleSets    *service.RuleSetService
	Learn       *service.LearnService
	Lint        *service.LintService
	Explain     *service.ExplainService
	Export      *service.ExportService
	TagRules    *TagRuleHandlers
	Advisor     *service.AdvisorService
	Ingest      *service.IngestService
	Maintenance *service.MaintenanceService
	Log         *log.Logger
}

func NewRouter(s Services) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		// Rules
		r.Post("/rules", createRule(s.Rules))
		r.Get("/rules", listRules(s.Rules))
		r.Get("/rules/{rule_id}", getRule(s.Rules))
		r.Put("/rules/{rule_id}", updateRule(s.Rules))
		r.Delete("/rules/{rule_id}", deleteRule(s.Rules))
		r.Post("/rules/preview", previewRule(s.Rules))
		r.Post("/rules/apply", applyRules(s.Apply))
		r.Post("/rules/explain", explain(s.Explain))
		r.Post("/rules/lint", lint(s.Lint))
		r.Get("/rules/lint/latest", lintLatest(s.Lint))
		r.Get("/rules/export", exportRules(s.Export))
		r.Post("/rules/import", importRules(s.Export))

		// Learning
		r.Post("/learn", learn(s.Learn))
		r.Post("/learn/apply", learnApply(s.Learn))
		r.Post("/learn/revert", learnRevert(s.Learn))
		r.Post("/learn/rebuild", learnRebuild(s.Learn))

		// Rulesets
		r.Get("/rulesets", listRuleSets(s.RuleSets))
		r.Post("/rulesets", createRuleSet(s.RuleSets))
		r.Post("/rulesets/{set_id}/activate", activateRuleSet(s.RuleSets))
		r.Post("/rulesets/compare", shadowCompare(s.RuleSets))
		r.Post("/rulesets/{set_id}/extract-protected", extractProtected(s.RuleSets))
		r.Get("/rulesets/{set_id}/cleanup", cleanupPreview(s.RuleSets))
		r.Post("/rulesets/{set_id}/cleanup", cleanupApply(s.RuleSets))

		// Legacy keyword tag rules
		r.Get("/tagrules", s.TagRules.List)
		r.Post("/tagrules", s.TagRules.Create)
		r.Put("/tagrules/{tag_rule_id}", s.TagRules.Update)
		r.Delete("/tagrules/{tag_rule_id}", s.TagRules.Delete)

		// Transactions
		r.Post("/transactions/import", func(w http.ResponseWriter, r *http.Request) {
			res, err := s.Ingest.ImportCSV(r.Context(), http.MaxBytesReader(w, r.Body, 50<<20))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		})

		// Advisor
		r.Post("/advisor/suggest", advisorSuggest(s.Advisor))

		// Ops
		r.Post("/maintenance/reset", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("confirm") != "yes" {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "pass confirm=yes to wipe all data", Code: "validation"})
				return
			}
			if err := s.Maintenance.Reset(r.Context()); err != nil {
				writeError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r
}
