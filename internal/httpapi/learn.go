package httpapi

import (
	"io"
	"net/http"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/service"
)

func learn(svc *service.LearnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts service.LearnOptions
		if err := decodeBody(r, &opts); err != nil {
			writeError(w, err)
			return
		}
		result, err := svc.Learn(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func learnApply(svc *service.LearnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Suggestions []service.Suggestion `json:"suggestions"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		created, err := svc.ApplyLearned(r.Context(), body.Suggestions)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func learnRevert(svc *service.LearnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			service.RevertFilters
			Apply bool `json:"apply"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		report, err := svc.RevertLearned(r.Context(), body.RevertFilters, body.Apply)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func learnRebuild(svc *service.LearnService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts service.RebuildOptions
		if err := decodeBody(r, &opts); err != nil {
			writeError(w, err)
			return
		}
		report, err := svc.RebuildLearned(r.Context(), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func lint(svc *service.LintService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RuleSetID string `json:"rule_set_id"`
			Scope     string `json:"scope"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		report, err := svc.Lint(r.Context(), body.RuleSetID, repository.RuleScope(body.Scope))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func lintLatest(svc *service.LintService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		report, err := svc.Latest(r.Context(), q.Get("rule_set_id"), repository.RuleScope(q.Get("scope")))
		if err != nil {
			writeError(w, err)
			return
		}
		if report == nil {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "no lint report stored", Code: "not_found"})
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func exportRules(svc *service.ExportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		format := q.Get("format")
		data, err := svc.Export(r.Context(), q.Get("rule_set_id"), format, repository.RuleScope(q.Get("scope")))
		if err != nil {
			writeError(w, err)
			return
		}
		if format == "csv" {
			w.Header().Set("Content-Type", "text/csv")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

func importRules(svc *service.ExportService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
		if err != nil {
			writeError(w, err)
			return
		}
		summary, err := svc.Import(r.Context(), q.Get("rule_set_id"), data, repository.RuleScope(q.Get("scope")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
