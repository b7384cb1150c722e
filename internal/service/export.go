package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/database"
	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

const exportFormatVersion = 1

// ExportFile is the portable ruleset document. JSON round-trips losslessly;
// CSV is a flattened export-only view.
type ExportFile struct {
	Version    int           `json:"version"`
	ExportedAt time.Time     `json:"exported_at"`
	RuleSetID  string        `json:"rule_set_id"`
	Scope      string        `json:"scope"`
	Rules      []engine.Rule `json:"rules"`
}

// ImportSummary reports what an import changed.
type ImportSummary struct {
	Parsed            int `json:"parsed"`
	Created           int `json:"created"`
	Removed           int `json:"removed"`
	SkippedInvalid    int `json:"skipped_invalid"`
	SkippedDuplicates int `json:"skipped_duplicates"`
	CreatedCategories int `json:"created_categories"`
}

// ExportService moves rules in and out of the database as JSON or CSV.
type ExportService struct {
	DB         *sql.DB
	Rules      *repository.RuleRepo
	RuleSets   *repository.RuleSetRepo
	Categories *repository.CategoryRepo
	Log        *log.Logger
}

// Export serializes a ruleset's rules. Format is "json" or "csv"; scope
// narrows to manual or learned rules. JSON output preserves every field so
// an export/import cycle reproduces the rules exactly.
func (s *ExportService) Export(ctx context.Context, ruleSetID, format string, scope repository.RuleScope) ([]byte, error) {
	if ruleSetID == "" {
		id, err := s.RuleSets.ActiveID(ctx)
		if err != nil {
			return nil, err
		}
		ruleSetID = id
	}
	rules, err := s.Rules.ListByScope(ctx, ruleSetID, scope)
	if err != nil {
		return nil, err
	}
	switch format {
	case "", "json":
		doc := ExportFile{
			Version:    exportFormatVersion,
			ExportedAt: database.Now(),
			RuleSetID:  ruleSetID,
			Scope:      string(scope),
			Rules:      rules,
		}
		return json.MarshalIndent(doc, "", "  ")
	case "csv":
		return exportCSV(rules)
	default:
		return nil, &engine.ValidationError{Field: "format", Message: "must be json or csv"}
	}
}

// BackupLearned writes the set's learned rules to a timestamped JSON file in
// dir and returns the path. Used as the mandatory pre-step of a learned
// rebuild.
func (s *ExportService) BackupLearned(ctx context.Context, ruleSetID, dir string) (string, error) {
	data, err := s.Export(ctx, ruleSetID, "json", repository.ScopeLearned)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("learned-backup-%s.json", time.Now().UTC().Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		return "", fmt.Errorf("backup verification failed for %s", path)
	}
	return path, nil
}

// Import loads a JSON export into a ruleset, replacing the scoped rules.
// The swap is all-or-nothing: any database failure rolls back to the
// pre-import state. Rules that fail validation or duplicate an earlier row
// in the same file are skipped and counted, not fatal.
func (s *ExportService) Import(ctx context.Context, ruleSetID string, data []byte, scope repository.RuleScope) (*ImportSummary, error) {
	var doc ExportFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &engine.ImportFormatError{Row: 0, Message: "invalid JSON: " + err.Error()}
	}
	if doc.Version != exportFormatVersion {
		return nil, &engine.ImportFormatError{Row: 0, Message: fmt.Sprintf("unsupported export version %d", doc.Version)}
	}
	if ruleSetID == "" {
		id, err := s.RuleSets.ActiveID(ctx)
		if err != nil {
			return nil, err
		}
		ruleSetID = id
	}
	if _, err := s.RuleSets.Get(ctx, ruleSetID); err != nil {
		return nil, err
	}

	summary := &ImportSummary{Parsed: len(doc.Rules)}
	knownCats, err := s.categoryIDs(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	incoming := make([]engine.Rule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		if scope != repository.ScopeAll && string(r.Source) != string(scope) {
			summary.SkippedInvalid++
			continue
		}
		if err := engine.ValidateRule(r); err != nil {
			summary.SkippedInvalid++
			continue
		}
		key := engine.ConfirmToken(r.Conditions) + "|" + actionsKey(r.Actions)
		if seen[key] {
			summary.SkippedDuplicates++
			continue
		}
		seen[key] = true
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.RuleSetID = ruleSetID
		incoming = append(incoming, r)
	}

	err = database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		// Exports from another install reference categories this database
		// has never seen. Treat the unknown value as a name, create the
		// category, and point the rule at the created row.
		for i := range incoming {
			target := incoming[i].Actions.SetCategoryID
			if target == nil || knownCats[*target] {
				continue
			}
			id, created, err := s.Categories.EnsureByName(ctx, tx, *target)
			if err != nil {
				return err
			}
			if created {
				summary.CreatedCategories++
			}
			knownCats[id] = true
			incoming[i].Actions.SetCategoryID = &id
		}
		removed, err := s.Rules.DeleteByScope(ctx, tx, ruleSetID, scope)
		if err != nil {
			return err
		}
		summary.Removed = removed
		for i := range incoming {
			if err := s.Rules.InsertTx(ctx, tx, incoming[i]); err != nil {
				return fmt.Errorf("insert rule %s: %w", incoming[i].ID, err)
			}
		}
		summary.Created = len(incoming)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Log != nil {
		s.Log.Info("rules imported",
			"rule_set", ruleSetID, "created", summary.Created,
			"removed", summary.Removed, "skipped", summary.SkippedInvalid+summary.SkippedDuplicates)
	}
	return summary, nil
}

func (s *ExportService) categoryIDs(ctx context.Context) (map[string]bool, error) {
	cats, err := s.Categories.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(cats))
	for _, c := range cats {
		out[c.ID] = true
	}
	return out, nil
}

func exportCSV(rules []engine.Rule) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"id", "name", "priority", "enabled", "source", "protected", "stop_processing", "conditions", "actions"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, r := range rules {
		cond, err := json.Marshal(r.Conditions)
		if err != nil {
			return nil, err
		}
		act, err := json.Marshal(r.Actions)
		if err != nil {
			return nil, err
		}
		row := []string{
			r.ID, r.Name,
			strconv.Itoa(r.Priority),
			strconv.FormatBool(r.Enabled),
			string(r.Source),
			strconv.FormatBool(r.Protected),
			strconv.FormatBool(r.StopProcessing),
			string(cond), string(act),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// actionsKey flattens actions into a duplicate-detection key.
func actionsKey(a engine.Actions) string {
	var parts []string
	if a.SetCategoryID != nil {
		parts = append(parts, "cat="+*a.SetCategoryID)
	}
	if a.SetMerchantName != nil {
		parts = append(parts, "merchant="+*a.SetMerchantName)
	}
	if a.SetIsIncome != nil {
		parts = append(parts, "income="+strconv.FormatBool(*a.SetIsIncome))
	}
	if a.SetExcludeFromTotals != nil {
		parts = append(parts, "exclude="+strconv.FormatBool(*a.SetExcludeFromTotals))
	}
	if a.Tags != nil {
		parts = append(parts, "tags="+string(a.Tags.Mode)+":"+strings.Join(a.Tags.Values, ","))
	}
	return strings.Join(parts, ";")
}
