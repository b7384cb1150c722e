package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// ApplyOptions controls one batch apply run.
type ApplyOptions struct {
	DryRun bool `json:"dry_run"`

	// Overwrite flags: when false, a transaction that already carries a
	// value for that field is left untouched even if a rule would set it.
	OverwriteCategory bool `json:"overwrite_category"`
	OverwriteTags     bool `json:"overwrite_tags"`
	OverwriteMerchant bool `json:"overwrite_merchant"`
	OverwriteFlags    bool `json:"overwrite_flags"`

	// Scope filters.
	OnlyUncategorized  bool     `json:"only_uncategorized"`
	SkipTransfers      bool     `json:"skip_transfers"`
	SkipExcluded       bool     `json:"skip_excluded_from_totals"`
	ExcludeCategoryIDs []string `json:"exclude_category_ids,omitempty"`
	AccountIDs         []string `json:"account_ids,omitempty"`

	// RuleSetID runs a single evaluation with a non-active set.
	RuleSetID string `json:"rule_set_id,omitempty"`

	SampleLimit int `json:"sample_limit,omitempty"`
	Workers     int `json:"workers,omitempty"`
}

// ApplySample is one would-be change included in the report for inspection.
type ApplySample struct {
	TransactionID  string    `json:"transaction_id"`
	Date           time.Time `json:"date"`
	Amount         float64   `json:"amount"`
	Description    string    `json:"description"`
	FromCategoryID *string   `json:"from_category_id,omitempty"`
	ToCategoryID   *string   `json:"to_category_id,omitempty"`
	AddedTags      []string  `json:"added_tags,omitempty"`
	RemovedTags    []string  `json:"removed_tags,omitempty"`
	NewMerchant    *string   `json:"new_merchant,omitempty"`
}

// ApplyReport is the outcome of a batch run, dry or live.
type ApplyReport struct {
	RuleSetID                string              `json:"rule_set_id"`
	DryRun                   bool                `json:"dry_run"`
	Scoped                   int                 `json:"scoped"`
	Updated                  int                 `json:"updated"`
	CategoryUpdates          int                 `json:"category_updates"`
	TagUpdates               int                 `json:"tag_updates"`
	MerchantUpdates          int                 `json:"merchant_updates"`
	FlagUpdates              int                 `json:"flag_updates"`
	BlockedIncomeAssignments int                 `json:"blocked_income_assignments"`
	CategoryChangeBuckets    map[string]int      `json:"category_change_buckets"`
	Skipped                  map[string]int      `json:"skipped"`
	Sample                   []ApplySample       `json:"sample"`
	RowFailures              []engine.RowFailure `json:"row_failures,omitempty"`
}

// Skip reason buckets. Scope filters applied in SQL never reach these; they
// cover diffs suppressed in-process by the overwrite flags.
const (
	skipCategoryExisting = "category_kept_existing"
	skipTagsExisting     = "tags_kept_existing"
	skipMerchantExisting = "merchant_kept_existing"
	skipFlagsExisting    = "flags_kept_existing"
)

// ApplyService runs the resolution pipeline over a transaction scope and
// either persists the diffs or reports them.
type ApplyService struct {
	Rules        *repository.RuleRepo
	RuleSets     *repository.RuleSetRepo
	Transactions *repository.TransactionRepo
	TagRules     *repository.TagRuleRepo
	// DefaultWorkers bounds the evaluation pool when the request does not
	// set its own. Zero falls back to NumCPU.
	DefaultWorkers int
	Log            *log.Logger
}

// rowResult is one transaction's evaluation, produced by a worker. Results
// are written by slice index so aggregation order never depends on worker
// scheduling.
type rowResult struct {
	txn     engine.Transaction
	update  repository.TransactionUpdate
	changed bool
	blocked int
	skips   []string
	sample  ApplySample
}

// Apply evaluates every in-scope transaction against a consistent rule
// snapshot. Live mode persists per-row and keeps going past row failures;
// they are reported, not fatal.
func (s *ApplyService) Apply(ctx context.Context, opts ApplyOptions) (*ApplyReport, error) {
	setID, rules, tagRules, err := s.snapshot(ctx, opts.RuleSetID)
	if err != nil {
		return nil, err
	}

	txns, err := s.Transactions.List(ctx, repository.TransactionFilters{
		AccountIDs:         opts.AccountIDs,
		OnlyUncategorized:  opts.OnlyUncategorized,
		SkipTransfers:      opts.SkipTransfers,
		SkipExcluded:       opts.SkipExcluded,
		ExcludeCategoryIDs: opts.ExcludeCategoryIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	report := &ApplyReport{
		RuleSetID:             setID,
		DryRun:                opts.DryRun,
		Scoped:                len(txns),
		CategoryChangeBuckets: map[string]int{},
		Skipped:               map[string]int{},
		Sample:                []ApplySample{},
	}
	if len(txns) == 0 {
		return report, nil
	}

	results := s.evaluateAll(ctx, txns, rules, tagRules, opts)

	sampleLimit := opts.SampleLimit
	if sampleLimit <= 0 {
		sampleLimit = 10
	}

	for i := range results {
		res := &results[i]
		report.BlockedIncomeAssignments += res.blocked
		for _, reason := range res.skips {
			report.Skipped[reason]++
		}
		if !res.changed {
			continue
		}
		if res.update.CategoryID != nil || res.update.CategorySource != "" {
			report.CategoryUpdates++
			report.CategoryChangeBuckets[bucketKey(res.txn.CategoryID, res.update.CategoryID)]++
		}
		if res.update.TagsChanged {
			report.TagUpdates++
		}
		if res.update.Merchant != nil {
			report.MerchantUpdates++
		}
		if res.update.IsIncome != nil || res.update.Exclude != nil {
			report.FlagUpdates++
		}
		if len(report.Sample) < sampleLimit {
			report.Sample = append(report.Sample, res.sample)
		}

		if opts.DryRun {
			report.Updated++
			continue
		}
		if err := s.Transactions.ApplyUpdate(ctx, res.update); err != nil {
			report.RowFailures = append(report.RowFailures, engine.RowFailure{
				TransactionID: res.txn.ID,
				Err:           err.Error(),
			})
			continue
		}
		report.Updated++
	}

	if s.Log != nil {
		s.Log.Info("apply finished",
			"rule_set", setID, "dry_run", opts.DryRun,
			"scoped", report.Scoped, "updated", report.Updated,
			"failures", len(report.RowFailures))
	}
	if len(report.RowFailures) > 0 {
		return report, &engine.PartialApplyError{Failures: report.RowFailures}
	}
	return report, nil
}

// evaluateAll fans the per-transaction evaluation out across a bounded worker
// pool. Workers write results by index, so output is deterministic regardless
// of scheduling.
func (s *ApplyService) evaluateAll(ctx context.Context, txns []engine.Transaction,
	rules []*engine.CompiledRule, tagRules []engine.TagRule, opts ApplyOptions) []rowResult {

	workers := opts.Workers
	if workers <= 0 {
		workers = s.DefaultWorkers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(txns) {
		workers = len(txns)
	}

	results := make([]rowResult, len(txns))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = evaluateRow(txns[i], rules, tagRules, opts)
			}
		}()
	}
	for i := range txns {
		select {
		case jobs <- i:
		case <-ctx.Done():
			// Drain: remaining rows evaluate as no-ops.
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

// evaluateRow resolves one transaction and diffs the outcome against the
// persisted state, honoring the overwrite flags.
func evaluateRow(t engine.Transaction, rules []*engine.CompiledRule,
	tagRules []engine.TagRule, opts ApplyOptions) rowResult {

	out := engine.Resolve(rules, t)
	finalTags, _ := engine.ApplyTagRules(tagRules, t, out.Tags)

	res := rowResult{txn: t, update: repository.TransactionUpdate{ID: t.ID}}
	for _, b := range out.Blocked {
		if b.Reason == engine.BlockIncomeSign {
			res.blocked++
		}
	}

	if out.CategoryID != nil && !sameStrPtr(out.CategoryID, t.CategoryID) {
		if t.CategoryID != nil && !opts.OverwriteCategory {
			res.skips = append(res.skips, skipCategoryExisting)
		} else {
			res.update.CategoryID = out.CategoryID
			res.update.CategorySource = categorySourceFor(out, rules)
			res.changed = true
		}
	}

	added, removed := diffTags(t.Tags, finalTags)
	if len(added) > 0 || len(removed) > 0 {
		if len(t.Tags) > 0 && !opts.OverwriteTags {
			res.skips = append(res.skips, skipTagsExisting)
		} else {
			res.update.Tags = finalTags
			res.update.TagsChanged = true
			res.changed = true
		}
	}

	if out.MerchantName != nil && !sameStrPtr(out.MerchantName, t.Merchant) {
		if t.Merchant != nil && !opts.OverwriteMerchant {
			res.skips = append(res.skips, skipMerchantExisting)
		} else {
			res.update.Merchant = out.MerchantName
			res.changed = true
		}
	}

	flagChanged := false
	if out.IsIncome != nil && *out.IsIncome != t.IsIncome {
		if t.IsIncome && !opts.OverwriteFlags {
			res.skips = append(res.skips, skipFlagsExisting)
		} else {
			res.update.IsIncome = out.IsIncome
			flagChanged = true
		}
	}
	if out.ExcludeFromTotals != nil && *out.ExcludeFromTotals != t.ExcludeFromTotals {
		if t.ExcludeFromTotals && !opts.OverwriteFlags {
			res.skips = append(res.skips, skipFlagsExisting)
		} else {
			res.update.Exclude = out.ExcludeFromTotals
			flagChanged = true
		}
	}
	if flagChanged {
		res.changed = true
	}

	if res.changed {
		res.sample = ApplySample{
			TransactionID:  t.ID,
			Date:           t.Date,
			Amount:         t.Amount,
			Description:    t.Description,
			FromCategoryID: t.CategoryID,
			ToCategoryID:   res.update.CategoryID,
			AddedTags:      added,
			RemovedTags:    removed,
			NewMerchant:    res.update.Merchant,
		}
	}
	return res
}

// snapshot reads the rule list once per batch so a mid-batch rule edit cannot
// mix semantics within one run. An empty ruleSetID means the active set.
func (s *ApplyService) snapshot(ctx context.Context, ruleSetID string) (string, []*engine.CompiledRule, []engine.TagRule, error) {
	setID := ruleSetID
	if setID == "" {
		var err error
		setID, err = s.RuleSets.ActiveID(ctx)
		if err != nil {
			return "", nil, nil, err
		}
	} else if _, err := s.RuleSets.Get(ctx, setID); err != nil {
		return "", nil, nil, fmt.Errorf("ruleset %s: %w", setID, err)
	}

	rules, err := s.Rules.ListBySet(ctx, setID, true)
	if err != nil {
		return "", nil, nil, fmt.Errorf("load rules: %w", err)
	}
	compiled, err := engine.CompileRules(rules)
	if err != nil {
		return "", nil, nil, err
	}
	engine.SortRules(compiled)

	tagRules, err := s.TagRules.List(ctx, true)
	if err != nil {
		return "", nil, nil, fmt.Errorf("load tag rules: %w", err)
	}
	return setID, compiled, tagRules, nil
}

func categorySourceFor(out engine.Outcome, rules []*engine.CompiledRule) string {
	for _, cr := range rules {
		if cr.Rule.ID == out.WinningCategoryRuleID {
			if cr.Rule.Source == engine.SourceLearned {
				return "learned"
			}
			return "rule"
		}
	}
	return "rule"
}

func bucketKey(from, to *string) string {
	f, t := "(none)", "(none)"
	if from != nil {
		f = *from
	}
	if to != nil {
		t = *to
	}
	return f + " -> " + t
}

func sameStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func diffTags(before, after []string) (added, removed []string) {
	beforeSet := make(map[string]struct{}, len(before))
	for _, t := range before {
		beforeSet[t] = struct{}{}
	}
	afterSet := make(map[string]struct{}, len(after))
	for _, t := range after {
		afterSet[t] = struct{}{}
		if _, ok := beforeSet[t]; !ok {
			added = append(added, t)
		}
	}
	for _, t := range before {
		if _, ok := afterSet[t]; !ok {
			removed = append(removed, t)
		}
	}
	return added, removed
}
