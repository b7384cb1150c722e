package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// TagRuleHandlers exposes the legacy keyword tag rules. The repo is thin
// enough that handlers talk to it directly.
type TagRuleHandlers struct {
	Repo *repository.TagRuleRepo
}

func (h *TagRuleHandlers) List(w http.ResponseWriter, r *http.Request) {
	onlyEnabled := r.URL.Query().Get("enabled") == "true"
	rules, err := h.Repo.List(r.Context(), onlyEnabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *TagRuleHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var tr engine.TagRule
	if err := decodeBody(r, &tr); err != nil {
		writeError(w, err)
		return
	}
	if tr.Keyword == "" || tr.Tag == "" {
		writeError(w, &engine.ValidationError{Field: "keyword", Message: "keyword and tag are required"})
		return
	}
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if err := h.Repo.Insert(r.Context(), tr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tr)
}

func (h *TagRuleHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var tr engine.TagRule
	if err := decodeBody(r, &tr); err != nil {
		writeError(w, err)
		return
	}
	tr.ID = chi.URLParam(r, "tag_rule_id")
	if tr.Keyword == "" || tr.Tag == "" {
		writeError(w, &engine.ValidationError{Field: "keyword", Message: "keyword and tag are required"})
		return
	}
	if err := h.Repo.Update(r.Context(), tr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (h *TagRuleHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Repo.Delete(r.Context(), chi.URLParam(r, "tag_rule_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
