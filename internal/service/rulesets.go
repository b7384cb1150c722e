package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/database"
	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// RuleSetService manages ruleset versions: creation, activation, shadow
// comparison and cleanup.
type RuleSetService struct {
	DB           *sql.DB
	Rules        *repository.RuleRepo
	RuleSets     *repository.RuleSetRepo
	Transactions *repository.TransactionRepo
	Log          *log.Logger
}

// RuleSetSummary pairs a ruleset with its rule counts.
type RuleSetSummary struct {
	engine.RuleSet
	Counts engine.RuleSetCounts `json:"counts"`
}

// List returns all rulesets with counts, active first then newest first.
func (s *RuleSetService) List(ctx context.Context) ([]RuleSetSummary, error) {
	sets, err := s.RuleSets.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.Rules.CountsBySet(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RuleSetSummary, 0, len(sets))
	for _, set := range sets {
		out = append(out, RuleSetSummary{RuleSet: set, Counts: counts[set.ID]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Create makes a new inactive ruleset, optionally cloning every rule from an
// existing set. Cloned rules get fresh IDs; the clone and its source diverge
// independently from that point.
func (s *RuleSetService) Create(ctx context.Context, name, description, cloneFrom string) (*engine.RuleSet, error) {
	if name == "" {
		return nil, &engine.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if cloneFrom != "" {
		if _, err := s.RuleSets.Get(ctx, cloneFrom); err != nil {
			return nil, fmt.Errorf("clone source: %w", err)
		}
	}
	set := engine.RuleSet{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Active:      false,
		CreatedAt:   database.Now(),
	}
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := s.RuleSets.InsertTx(ctx, tx, set); err != nil {
			return err
		}
		if cloneFrom != "" {
			if _, err := s.Rules.CopyInto(ctx, tx, cloneFrom, set.ID, false); err != nil {
				return fmt.Errorf("clone rules: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &set, nil
}

// Activate switches the active ruleset using compare-and-swap on the
// currently active ID. A stale expectation returns ConcurrencyConflictError
// and changes nothing.
func (s *RuleSetService) Activate(ctx context.Context, targetID, expectedActiveID string) error {
	if _, err := s.RuleSets.Get(ctx, targetID); err != nil {
		return err
	}
	if err := s.RuleSets.ActivateCAS(ctx, expectedActiveID, targetID); err != nil {
		return err
	}
	if s.Log != nil {
		s.Log.Info("ruleset activated", "id", targetID, "previous", expectedActiveID)
	}
	return nil
}

// FieldDiff counts, for one output field, how two rulesets diverge over the
// shadow sample.
type FieldDiff struct {
	OnlyA     int `json:"only_a"`
	OnlyB     int `json:"only_b"`
	Different int `json:"different"`
	Same      int `json:"same"`
}

// ShadowDiffRow is one transaction where the two rulesets disagree.
type ShadowDiffRow struct {
	TransactionID string  `json:"transaction_id"`
	Description   string  `json:"description"`
	CategoryA     *string `json:"category_a,omitempty"`
	CategoryB     *string `json:"category_b,omitempty"`
	RuleA         string  `json:"rule_a,omitempty"`
	RuleB         string  `json:"rule_b,omitempty"`
}

// ShadowReport compares two rulesets over a transaction sample without
// writing anything.
type ShadowReport struct {
	RuleSetA    string               `json:"rule_set_a"`
	RuleSetB    string               `json:"rule_set_b"`
	SampleSize  int                  `json:"sample_size"`
	Category    FieldDiff            `json:"category"`
	Tags        FieldDiff            `json:"tags"`
	Merchant    FieldDiff            `json:"merchant"`
	Flags       FieldDiff            `json:"flags"`
	Differences []ShadowDiffRow      `json:"differences"`
	Options     ShadowCompareOptions `json:"options"`
}

// ShadowCompareOptions bounds a shadow run.
type ShadowCompareOptions struct {
	SampleLimit int                           `json:"sample_limit"`
	DiffLimit   int                           `json:"diff_limit"`
	Filters     repository.TransactionFilters `json:"-"`
}

// ShadowCompare resolves the same sample against two rulesets and reports
// per-field divergence. Purely read-only; the inactive set is never applied.
func (s *RuleSetService) ShadowCompare(ctx context.Context, setA, setB string, opts ShadowCompareOptions) (*ShadowReport, error) {
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = 1000
	}
	if opts.DiffLimit <= 0 {
		opts.DiffLimit = 50
	}
	compiledA, err := s.compiledSet(ctx, setA)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: %w", setA, err)
	}
	compiledB, err := s.compiledSet(ctx, setB)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: %w", setB, err)
	}

	filters := opts.Filters
	filters.Limit = opts.SampleLimit
	sample, err := s.Transactions.List(ctx, filters)
	if err != nil {
		return nil, err
	}

	report := &ShadowReport{
		RuleSetA: setA, RuleSetB: setB,
		SampleSize:  len(sample),
		Differences: []ShadowDiffRow{},
		Options:     opts,
	}
	for _, t := range sample {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outA := engine.Resolve(compiledA, t)
		outB := engine.Resolve(compiledB, t)

		catDiff := tallyPtrDiff(&report.Category, outA.CategoryID, outB.CategoryID)
		tallyTagsDiff(&report.Tags, outA.Tags, outB.Tags)
		tallyPtrDiff(&report.Merchant, outA.MerchantName, outB.MerchantName)
		tallyBoolPtrDiff(&report.Flags, outA.IsIncome, outB.IsIncome)
		tallyBoolPtrDiff(&report.Flags, outA.ExcludeFromTotals, outB.ExcludeFromTotals)

		if catDiff && len(report.Differences) < opts.DiffLimit {
			report.Differences = append(report.Differences, ShadowDiffRow{
				TransactionID: t.ID,
				Description:   t.Description,
				CategoryA:     outA.CategoryID,
				CategoryB:     outB.CategoryID,
				RuleA:         outA.WinningCategoryRuleID,
				RuleB:         outB.WinningCategoryRuleID,
			})
		}
	}
	return report, nil
}

func (s *RuleSetService) compiledSet(ctx context.Context, setID string) ([]*engine.CompiledRule, error) {
	rules, err := s.Rules.ListBySet(ctx, setID, true)
	if err != nil {
		return nil, err
	}
	compiled, err := engine.CompileRules(rules)
	if err != nil {
		return nil, err
	}
	engine.SortRules(compiled)
	return compiled, nil
}

// ExtractProtected copies only the protected rules from a source set into a
// fresh inactive set, a curated baseline to build on.
func (s *RuleSetService) ExtractProtected(ctx context.Context, sourceID, name string) (*engine.RuleSet, int, error) {
	if name == "" {
		return nil, 0, &engine.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if _, err := s.RuleSets.Get(ctx, sourceID); err != nil {
		return nil, 0, err
	}
	set := engine.RuleSet{
		ID:          uuid.NewString(),
		Name:        name,
		Description: "protected rules extracted from " + sourceID,
		CreatedAt:   database.Now(),
	}
	var copied int
	err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := s.RuleSets.InsertTx(ctx, tx, set); err != nil {
			return err
		}
		n, err := s.Rules.CopyInto(ctx, tx, sourceID, set.ID, true)
		copied = n
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return &set, copied, nil
}

// Cleanup reason codes.
const (
	cleanupZeroMatch = "zero_match"
	cleanupShadowed  = "shadowed_by_superset"
)

// CleanupCandidate is one rule the cleanup pass would disable.
type CleanupCandidate struct {
	RuleID     string `json:"rule_id"`
	Name       string `json:"name"`
	Reason     string `json:"reason"`
	ShadowedBy string `json:"shadowed_by,omitempty"`
}

// CleanupReport lists candidates; Applied marks whether they were disabled.
type CleanupReport struct {
	RuleSetID  string             `json:"rule_set_id"`
	Candidates []CleanupCandidate `json:"candidates"`
	Skipped    int                `json:"skipped_protected"`
	Applied    bool               `json:"applied"`
}

// CleanupPreview finds rules that match nothing in the corpus or are fully
// shadowed by an earlier broader rule. Protected rules are reported as
// skipped, never listed for disabling.
func (s *RuleSetService) CleanupPreview(ctx context.Context, setID string) (*CleanupReport, error) {
	return s.cleanup(ctx, setID, false)
}

// CleanupApply disables the rules CleanupPreview would list. Disabling, not
// deleting, so a cleanup is always reversible.
func (s *RuleSetService) CleanupApply(ctx context.Context, setID string) (*CleanupReport, error) {
	return s.cleanup(ctx, setID, true)
}

func (s *RuleSetService) cleanup(ctx context.Context, setID string, apply bool) (*CleanupReport, error) {
	rules, err := s.Rules.ListBySet(ctx, setID, true)
	if err != nil {
		return nil, err
	}
	compiled, err := engine.CompileRules(rules)
	if err != nil {
		return nil, err
	}
	engine.SortRules(compiled)

	corpus, err := s.Transactions.List(ctx, repository.TransactionFilters{})
	if err != nil {
		return nil, err
	}

	// matches[i] holds the corpus indices rule i matched; shadowing is
	// judged on observed behavior, not condition algebra.
	matches := make([]map[int]bool, len(compiled))
	for i := range compiled {
		matches[i] = map[int]bool{}
	}
	for ti, t := range corpus {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for ri := range compiled {
			if compiled[ri].Conditions.Matches(t) {
				matches[ri][ti] = true
			}
		}
	}

	report := &CleanupReport{RuleSetID: setID, Candidates: []CleanupCandidate{}, Applied: apply}
	for i, cr := range compiled {
		if cr.Rule.Protected {
			if len(matches[i]) == 0 || shadowedBy(matches, compiled, i) != "" {
				report.Skipped++
			}
			continue
		}
		if len(matches[i]) == 0 {
			report.Candidates = append(report.Candidates, CleanupCandidate{
				RuleID: cr.Rule.ID, Name: cr.Rule.Name, Reason: cleanupZeroMatch,
			})
			continue
		}
		if by := shadowedBy(matches, compiled, i); by != "" {
			report.Candidates = append(report.Candidates, CleanupCandidate{
				RuleID: cr.Rule.ID, Name: cr.Rule.Name, Reason: cleanupShadowed, ShadowedBy: by,
			})
		}
	}

	if apply {
		for _, c := range report.Candidates {
			if err := s.Rules.SetEnabled(ctx, c.RuleID, false); err != nil {
				return nil, fmt.Errorf("disable rule %s: %w", c.RuleID, err)
			}
		}
		if s.Log != nil {
			s.Log.Info("cleanup applied", "rule_set", setID, "disabled", len(report.Candidates))
		}
	}
	return report, nil
}

// shadowedBy reports the ID of an earlier rule whose match set is a strict
// superset of rule i's and whose actions subsume it, or "".
func shadowedBy(matches []map[int]bool, compiled []*engine.CompiledRule, i int) string {
	if len(matches[i]) == 0 {
		return ""
	}
	for j := 0; j < i; j++ {
		if len(matches[j]) <= len(matches[i]) {
			continue
		}
		superset := true
		for ti := range matches[i] {
			if !matches[j][ti] {
				superset = false
				break
			}
		}
		if superset && actionsSubsume(compiled[j].Rule.Actions, compiled[i].Rule.Actions) {
			return compiled[j].Rule.ID
		}
	}
	return ""
}

// actionsSubsume reports whether every field the later rule would set, the
// earlier rule already sets. First-writer-wins then renders the later rule
// inert on shared matches.
func actionsSubsume(earlier, later engine.Actions) bool {
	if later.SetCategoryID != nil && earlier.SetCategoryID == nil {
		return false
	}
	if later.SetMerchantName != nil && earlier.SetMerchantName == nil {
		return false
	}
	if later.SetIsIncome != nil && earlier.SetIsIncome == nil {
		return false
	}
	if later.SetExcludeFromTotals != nil && earlier.SetExcludeFromTotals == nil {
		return false
	}
	// Tag actions accumulate across rules, so a later tag rule is never
	// inert unless the earlier rule replaces tags.
	if later.Tags != nil && (earlier.Tags == nil || earlier.Tags.Mode != engine.TagReplace) {
		return false
	}
	return true
}

func tallyPtrDiff(d *FieldDiff, a, b *string) bool {
	switch {
	case a == nil && b == nil:
		d.Same++
	case a != nil && b == nil:
		d.OnlyA++
	case a == nil && b != nil:
		d.OnlyB++
	case *a == *b:
		d.Same++
	default:
		d.Different++
	}
	return !sameStrPtr(a, b)
}

func tallyBoolPtrDiff(d *FieldDiff, a, b *bool) {
	switch {
	case a == nil && b == nil:
		d.Same++
	case a != nil && b == nil:
		d.OnlyA++
	case a == nil && b != nil:
		d.OnlyB++
	case *a == *b:
		d.Same++
	default:
		d.Different++
	}
}

func tallyTagsDiff(d *FieldDiff, a, b []string) {
	switch {
	case len(a) == 0 && len(b) == 0:
		d.Same++
	case len(a) > 0 && len(b) == 0:
		d.OnlyA++
	case len(a) == 0 && len(b) > 0:
		d.OnlyB++
	case equalTags(a, b):
		d.Same++
	default:
		d.Different++
	}
}

func equalTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
