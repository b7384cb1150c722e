package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// LearnOptions tunes the suggestion miner.
type LearnOptions struct {
	MinSupport      int     `json:"min_support"`
	MinConfidence   float64 `json:"min_confidence"`
	MaxMatchRatio   float64 `json:"max_match_ratio"`
	MaxSuggestions  int     `json:"max_suggestions"`
	IncludeReviewed bool    `json:"include_reviewed"`
}

// Suggestion is a candidate rule mined from historical categorization
// decisions. Nothing is persisted until the caller materializes a selection.
type Suggestion struct {
	ID                  string            `json:"id"`
	Pattern             string            `json:"pattern"`
	CategoryID          string            `json:"category_id"`
	Conditions          engine.Conditions `json:"conditions"`
	Actions             engine.Actions    `json:"actions"`
	SupportCount        int               `json:"support_count"`
	EstimatedMatchCount int               `json:"estimated_match_count"`
	EstimatedMatchRatio float64           `json:"estimated_match_ratio"`
	Confidence          float64           `json:"confidence"`
	Rationale           string            `json:"rationale"`
}

// DroppedGroup records one candidate discarded by the thresholds, kept for
// observability.
type DroppedGroup struct {
	Pattern    string  `json:"pattern"`
	CategoryID string  `json:"category_id"`
	Support    int     `json:"support"`
	Confidence float64 `json:"confidence"`
	MatchRatio float64 `json:"match_ratio"`
	Reason     string  `json:"reason"`
}

// LearnResult is the miner's full output.
type LearnResult struct {
	Suggestions []Suggestion   `json:"suggestions"`
	Dropped     []DroppedGroup `json:"dropped"`
	CorpusSize  int            `json:"corpus_size"`
}

const (
	dropBelowSupport    = "below_support"
	dropBelowConfidence = "below_confidence"
	dropTooBroad        = "too_broad"
)

// LearnService mines candidate rules from manually categorized transactions
// and manages the learned-rule lifecycle.
type LearnService struct {
	Rules        *repository.RuleRepo
	RuleSets     *repository.RuleSetRepo
	Transactions *repository.TransactionRepo
	Exporter     *ExportService
	BackupDir    string
	// Defaults fill in thresholds a request leaves at zero.
	Defaults LearnOptions
	Log      *log.Logger
}

// Learn groups manually categorized transactions by (pattern, category) and
// emits ranked suggestions. Thresholds discard weak groups; every discard is
// recorded with its reason.
func (s *LearnService) Learn(ctx context.Context, opts LearnOptions) (*LearnResult, error) {
	if opts.MinSupport <= 0 {
		opts.MinSupport = s.Defaults.MinSupport
	}
	if opts.MinSupport <= 0 {
		opts.MinSupport = 3
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = s.Defaults.MinConfidence
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = 0.8
	}
	if opts.MaxMatchRatio <= 0 {
		opts.MaxMatchRatio = s.Defaults.MaxMatchRatio
	}
	if opts.MaxMatchRatio <= 0 {
		opts.MaxMatchRatio = 0.25
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = 50
	}

	corpus, err := s.Transactions.List(ctx, repository.TransactionFilters{})
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type groupKey struct {
		pattern    string
		categoryID string
		field      patternField
	}
	support := map[groupKey]int{}
	for _, t := range corpus {
		if t.CategoryID == nil {
			continue
		}
		if t.CategorySource != "manual" && !(opts.IncludeReviewed && t.Reviewed) {
			continue
		}
		source, field := patternSource(t)
		pattern := NormalizePattern(source)
		if pattern == "" {
			continue
		}
		support[groupKey{pattern, *t.CategoryID, field}]++
	}

	// Cluster near-identical patterns per category so "WOOLWORTH" and
	// "WOOLWORTHS" do not compete as separate suggestions.
	keys := make([]groupKey, 0, len(support))
	for k := range support {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if support[keys[i]] != support[keys[j]] {
			return support[keys[i]] > support[keys[j]]
		}
		return keys[i].pattern < keys[j].pattern
	})
	merged := map[groupKey]bool{}
	for i, a := range keys {
		if merged[a] {
			continue
		}
		for _, b := range keys[i+1:] {
			if merged[b] || a.categoryID != b.categoryID || a.field != b.field {
				continue
			}
			if levenshtein.ComputeDistance(a.pattern, b.pattern) <= 2 {
				support[a] += support[b]
				merged[b] = true
			}
		}
	}

	var result LearnResult
	result.CorpusSize = len(corpus)
	result.Dropped = []DroppedGroup{}
	for _, k := range keys {
		if merged[k] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sup := support[k]
		matchCount, categorizedSame, categorizedAny := patternStats(corpus, k.pattern, k.field, k.categoryID)
		ratio := 0.0
		if len(corpus) > 0 {
			ratio = float64(matchCount) / float64(len(corpus))
		}
		confidence := 1.0
		if categorizedAny > 0 {
			confidence = float64(categorizedSame) / float64(categorizedAny)
		}

		drop := func(reason string) {
			result.Dropped = append(result.Dropped, DroppedGroup{
				Pattern:    k.pattern,
				CategoryID: k.categoryID,
				Support:    sup,
				Confidence: confidence,
				MatchRatio: ratio,
				Reason:     reason,
			})
		}
		switch {
		case sup < opts.MinSupport:
			drop(dropBelowSupport)
			continue
		case confidence < opts.MinConfidence:
			drop(dropBelowConfidence)
			continue
		case ratio > opts.MaxMatchRatio:
			drop(dropTooBroad)
			continue
		}

		categoryID := k.categoryID
		match := &engine.StringMatch{
			Operator:  engine.OpContains,
			Value:     k.pattern,
			Semantics: engine.SemanticsToken,
		}
		conditions := engine.Conditions{}
		// The rule must target the field the pattern was mined from, or the
		// estimated counts above would describe a different rule.
		if k.field == fieldMerchant {
			conditions.Merchant = match
		} else {
			conditions.Description = match
		}
		result.Suggestions = append(result.Suggestions, Suggestion{
			ID:                  uuid.NewString(),
			Pattern:             k.pattern,
			CategoryID:          categoryID,
			Conditions:          conditions,
			Actions:             engine.Actions{SetCategoryID: &categoryID},
			SupportCount:        sup,
			EstimatedMatchCount: matchCount,
			EstimatedMatchRatio: ratio,
			Confidence:          confidence,
			Rationale: fmt.Sprintf("%d transactions matching %q were filed under this category (%.0f%% agreement)",
				sup, k.pattern, confidence*100),
		})
		if len(result.Suggestions) >= opts.MaxSuggestions {
			break
		}
	}
	if result.Suggestions == nil {
		result.Suggestions = []Suggestion{}
	}
	if s.Log != nil {
		s.Log.Info("learn pass finished",
			"corpus", result.CorpusSize,
			"suggestions", len(result.Suggestions),
			"dropped", len(result.Dropped))
	}
	return &result, nil
}

// ApplyLearned materializes the selected suggestions as learned rules in the
// active ruleset.
func (s *LearnService) ApplyLearned(ctx context.Context, selected []Suggestion) ([]engine.Rule, error) {
	activeID, err := s.RuleSets.ActiveID(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Rule, 0, len(selected))
	for _, sg := range selected {
		confidence := sg.Confidence
		rule := engine.Rule{
			ID:         uuid.NewString(),
			RuleSetID:  activeID,
			Name:       "Learned: " + sg.Pattern,
			Conditions: sg.Conditions,
			Actions:    sg.Actions,
			Priority:   0,
			Enabled:    true,
			Source:     engine.SourceLearned,
			Confidence: &confidence,
		}
		if err := engine.ValidateRule(rule); err != nil {
			return nil, err
		}
		if err := s.Rules.Insert(ctx, rule); err != nil {
			return nil, fmt.Errorf("materialize suggestion %q: %w", sg.Pattern, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

// RevertFilters narrows a revert-learned pass.
type RevertFilters struct {
	// RuleCreatedFrom/To bound the offending rule's creation time.
	RuleCreatedFrom *time.Time `json:"rule_created_from,omitempty"`
	RuleCreatedTo   *time.Time `json:"rule_created_to,omitempty"`
	// DisableRules also disables the learned rules that produced the
	// reverted categorizations.
	DisableRules bool `json:"disable_rules"`
}

// RevertReport summarizes a revert-learned pass.
type RevertReport struct {
	Examined      int      `json:"examined"`
	Reverted      int      `json:"reverted"`
	DisabledRules []string `json:"disabled_rules,omitempty"`
	Applied       bool     `json:"applied"`
}

// RevertLearned finds transactions whose category came from a learned rule
// (optionally within the rule-creation window) and clears it. apply=false
// previews without touching anything — the recovery path after a bad
// learning pass.
func (s *LearnService) RevertLearned(ctx context.Context, filters RevertFilters, apply bool) (*RevertReport, error) {
	activeID, err := s.RuleSets.ActiveID(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := s.Rules.ListBySet(ctx, activeID, true)
	if err != nil {
		return nil, err
	}
	compiled, err := engine.CompileRules(rules)
	if err != nil {
		return nil, err
	}
	engine.SortRules(compiled)
	ruleByID := make(map[string]engine.Rule, len(rules))
	for _, r := range rules {
		ruleByID[r.ID] = r
	}

	candidates, err := s.Transactions.List(ctx, repository.TransactionFilters{
		CategorySource: "learned",
	})
	if err != nil {
		return nil, err
	}

	report := &RevertReport{Examined: len(candidates), Applied: apply}
	offenders := map[string]bool{}
	for _, t := range candidates {
		out := engine.Resolve(compiled, t)
		winner, ok := ruleByID[out.WinningCategoryRuleID]
		if !ok || winner.Source != engine.SourceLearned {
			continue
		}
		if filters.RuleCreatedFrom != nil && winner.CreatedAt.Before(*filters.RuleCreatedFrom) {
			continue
		}
		if filters.RuleCreatedTo != nil && winner.CreatedAt.After(*filters.RuleCreatedTo) {
			continue
		}
		report.Reverted++
		offenders[winner.ID] = true
		if apply {
			if err := s.Transactions.ClearCategory(ctx, t.ID); err != nil {
				return nil, fmt.Errorf("revert transaction %s: %w", t.ID, err)
			}
		}
	}

	if filters.DisableRules && len(offenders) > 0 {
		ids := make([]string, 0, len(offenders))
		for id := range offenders {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		report.DisabledRules = ids
		if apply {
			if err := s.Rules.DisableLearned(ctx, activeID, ids); err != nil {
				return nil, err
			}
		}
	}
	if s.Log != nil {
		s.Log.Info("revert learned",
			"examined", report.Examined, "reverted", report.Reverted,
			"disabled", len(report.DisabledRules), "applied", apply)
	}
	return report, nil
}

// RebuildOptions drives the rebuild-learned wizard.
type RebuildOptions struct {
	Apply        bool         `json:"apply"`
	ResetLearned bool         `json:"reset_learned"`
	Thresholds   LearnOptions `json:"thresholds"`
}

// RebuildReport is the wizard outcome.
type RebuildReport struct {
	BackupPath    string       `json:"backup_path"`
	DisabledRules int          `json:"disabled_rules"`
	Result        *LearnResult `json:"result"`
	CreatedRules  int          `json:"created_rules"`
}

// RebuildLearned snapshots the current learned rules to a backup file, then
// optionally disables them and mines afresh. The backup must be confirmed on
// disk before any destructive step runs; a backup failure aborts the wizard.
func (s *LearnService) RebuildLearned(ctx context.Context, opts RebuildOptions) (*RebuildReport, error) {
	activeID, err := s.RuleSets.ActiveID(ctx)
	if err != nil {
		return nil, err
	}

	backupPath, err := s.Exporter.BackupLearned(ctx, activeID, s.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("rebuild aborted, backup failed: %w", err)
	}
	report := &RebuildReport{BackupPath: backupPath}

	if opts.ResetLearned && opts.Apply {
		learned, err := s.Rules.ListByScope(ctx, activeID, repository.ScopeLearned)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(learned))
		for _, r := range learned {
			if r.Enabled {
				ids = append(ids, r.ID)
			}
		}
		if err := s.Rules.DisableLearned(ctx, activeID, ids); err != nil {
			return nil, err
		}
		report.DisabledRules = len(ids)
	}

	result, err := s.Learn(ctx, opts.Thresholds)
	if err != nil {
		return nil, err
	}
	report.Result = result

	if opts.Apply {
		created, err := s.ApplyLearned(ctx, result.Suggestions)
		if err != nil {
			return nil, err
		}
		report.CreatedRules = len(created)
	}
	return report, nil
}

// NormalizePattern extracts a stable token pattern from a raw description:
// uppercase, alphabetic tokens only (length 3+), keeping the first few so
// trailing store numbers and references fall away.
func NormalizePattern(raw string) string {
	upper := strings.ToUpper(raw)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() >= 3 && !isNoiseToken(cur.String()) {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range upper {
		if r >= 'A' && r <= 'Z' {
			cur.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	if len(tokens) > 3 {
		tokens = tokens[:3]
	}
	return strings.Join(tokens, " ")
}

// isNoiseToken drops tokens that carry no merchant signal.
func isNoiseToken(tok string) bool {
	switch tok {
	case "THE", "AND", "PTY", "LTD", "INC", "LLC", "PAYMENT", "PURCHASE", "CARD", "VISA", "DEBIT", "CREDIT", "POS", "EFTPOS":
		return true
	}
	return false
}

// patternField names the transaction field a pattern was mined from, so the
// emitted condition targets the same field the statistics were computed on.
type patternField string

const (
	fieldDescription patternField = "description"
	fieldMerchant    patternField = "merchant"
)

func patternSource(t engine.Transaction) (string, patternField) {
	if t.Merchant != nil && *t.Merchant != "" {
		return *t.Merchant, fieldMerchant
	}
	return t.Description, fieldDescription
}

func fieldValue(t engine.Transaction, field patternField) string {
	if field == fieldMerchant {
		if t.Merchant == nil {
			return ""
		}
		return *t.Merchant
	}
	return t.Description
}

// patternStats counts, over the whole corpus: transactions the pattern would
// match on the given field, matching transactions already categorized
// anywhere, and matching transactions categorized under the target category.
func patternStats(corpus []engine.Transaction, pattern string, field patternField, categoryID string) (matches, sameCategory, anyCategory int) {
	for _, t := range corpus {
		if !engine.TokenContains(strings.ToUpper(fieldValue(t, field)), pattern) {
			continue
		}
		matches++
		if t.CategoryID == nil {
			continue
		}
		anyCategory++
		if *t.CategoryID == categoryID {
			sameCategory++
		}
	}
	return matches, sameCategory, anyCategory
}
