package engine

import (
	"sort"
	"strings"
)

// BlockReason categorizes why a matching rule's action was not applied.
type BlockReason string

const (
	// BlockIncomeSign: set_is_income=true was refused because the
	// transaction's raw amount is negative.
	BlockIncomeSign BlockReason = "income_override_negative_amount"
	// BlockStopped: a higher-priority rule with stop_processing matched
	// first, so this rule was never applied.
	BlockStopped BlockReason = "stopped_by_earlier_rule"
)

// BlockedRule records one rule whose effect was suppressed during resolution.
type BlockedRule struct {
	RuleID string      `json:"rule_id"`
	Reason BlockReason `json:"reason"`
	ByRule string      `json:"by_rule,omitempty"`
}

// Outcome is the resolved result of evaluating a rule list against one
// transaction. Nil pointer fields mean "no rule set this field".
type Outcome struct {
	CategoryID        *string  `json:"category_id,omitempty"`
	Tags              []string `json:"tags"`
	MerchantName      *string  `json:"merchant_name,omitempty"`
	IsIncome          *bool    `json:"is_income,omitempty"`
	ExcludeFromTotals *bool    `json:"exclude_from_totals,omitempty"`

	WinningCategoryRuleID string        `json:"winning_category_rule_id,omitempty"`
	MatchedRuleIDs        []string      `json:"matched_rule_ids"`
	Blocked               []BlockedRule `json:"blocked,omitempty"`
	StoppedBy             string        `json:"stopped_by,omitempty"`
}

// accumulator merges matched-rule actions with first-writer-wins per field.
// Tags are cumulative until a replace action seals them.
type accumulator struct {
	out  Outcome
	tags map[string]struct{}

	categoryLocked bool
	merchantLocked bool
	incomeLocked   bool
	excludeLocked  bool
	tagsSealed     bool
}

// SortRules orders rules for resolution: priority descending, ties broken by
// ascending rule id so evaluation order is deterministic.
func SortRules(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i].Rule, rules[j].Rule
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
}

// Resolve runs the resolution pipeline for one transaction. The rule slice
// must already be ordered (see SortRules) and contain only enabled rules.
// Resolution never mutates the transaction; persistence is the apply engine's
// job.
func Resolve(rules []*CompiledRule, t Transaction) Outcome {
	acc := accumulator{tags: make(map[string]struct{}, len(t.Tags))}
	for _, tag := range t.Tags {
		acc.tags[tag] = struct{}{}
	}
	acc.out.MatchedRuleIDs = []string{}

	stopped := false
	for _, cr := range rules {
		if !cr.Conditions.Matches(t) {
			continue
		}
		if stopped {
			// Kept in the trace so explain can show what a
			// stop_processing rule shadowed.
			acc.out.Blocked = append(acc.out.Blocked, BlockedRule{
				RuleID: cr.Rule.ID,
				Reason: BlockStopped,
				ByRule: acc.out.StoppedBy,
			})
			continue
		}
		acc.out.MatchedRuleIDs = append(acc.out.MatchedRuleIDs, cr.Rule.ID)
		acc.merge(cr.Rule, t)
		if cr.Rule.StopProcessing {
			stopped = true
			acc.out.StoppedBy = cr.Rule.ID
		}
	}

	acc.out.Tags = sortedTags(acc.tags)
	return acc.out
}

func (acc *accumulator) merge(r *Rule, t Transaction) {
	a := r.Actions
	if a.SetCategoryID != nil && !acc.categoryLocked {
		acc.out.CategoryID = a.SetCategoryID
		acc.out.WinningCategoryRuleID = r.ID
		acc.categoryLocked = true
	}
	if a.SetMerchantName != nil && !acc.merchantLocked {
		acc.out.MerchantName = a.SetMerchantName
		acc.merchantLocked = true
	}
	if a.SetIsIncome != nil && !acc.incomeLocked {
		if *a.SetIsIncome && t.Amount < 0 {
			// Income can only be asserted for non-negative amounts.
			acc.out.Blocked = append(acc.out.Blocked, BlockedRule{
				RuleID: r.ID,
				Reason: BlockIncomeSign,
			})
		} else {
			acc.out.IsIncome = a.SetIsIncome
			acc.incomeLocked = true
		}
	}
	if a.SetExcludeFromTotals != nil && !acc.excludeLocked {
		acc.out.ExcludeFromTotals = a.SetExcludeFromTotals
		acc.excludeLocked = true
	}
	if a.Tags != nil && !acc.tagsSealed {
		switch a.Tags.Mode {
		case TagReplace:
			acc.tags = make(map[string]struct{}, len(a.Tags.Values))
			for _, v := range a.Tags.Values {
				acc.tags[v] = struct{}{}
			}
			acc.tagsSealed = true
		case TagAppend:
			for _, v := range a.Tags.Values {
				acc.tags[v] = struct{}{}
			}
		case TagRemove:
			for _, v := range a.Tags.Values {
				delete(acc.tags, v)
			}
		}
	}
}

func sortedTags(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// ApplyTagRules runs the legacy keyword→tag pass over a resolved tag list.
// It is additive only: keyword hits append their tag, nothing is removed and
// no category is touched. Matched rule ids are returned for the trace.
func ApplyTagRules(rules []TagRule, t Transaction, tags []string) ([]string, []string) {
	if len(rules) == 0 {
		return tags, nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	var matched []string
	for _, tr := range rules {
		if !tr.Enabled || tr.Keyword == "" {
			continue
		}
		desc, kw := t.Description, tr.Keyword
		if !tr.CaseSensitive {
			desc, kw = strings.ToLower(desc), strings.ToLower(kw)
		}
		if strings.Contains(desc, kw) {
			set[tr.Tag] = struct{}{}
			matched = append(matched, tr.ID)
		}
	}
	return sortedTags(set), matched
}
