package service

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// RuleTrace is one rule's role in a transaction's outcome.
type RuleTrace struct {
	RuleID      string `json:"rule_id"`
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Matched     bool   `json:"matched"`
	Won         bool   `json:"won"`
	BlockReason string `json:"block_reason,omitempty"`
}

// Explanation is the full evaluation trace for one transaction against the
// current active ruleset.
type Explanation struct {
	TransactionID string         `json:"transaction_id"`
	Description   string         `json:"description"`
	Outcome       engine.Outcome `json:"outcome"`
	Traces        []RuleTrace    `json:"traces"`
	TagRuleIDs    []string       `json:"tag_rule_ids,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
}

// ExplainService answers "why did this transaction get this category".
type ExplainService struct {
	Rules        *repository.RuleRepo
	RuleSets     *repository.RuleSetRepo
	Transactions *repository.TransactionRepo
	TagRules     *repository.TagRuleRepo
	Log          *log.Logger
}

// Explain resolves the named transactions against the active set and
// reports, per transaction, every matching rule and how it fared: winner,
// contributor, or blocked (and why). Unknown IDs are skipped silently so a
// partially stale ID list still explains the rest.
func (s *ExplainService) Explain(ctx context.Context, transactionIDs []string) ([]Explanation, error) {
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

	tagRules, err := s.TagRules.List(ctx, true)
	if err != nil {
		return nil, err
	}

	txns, err := s.Transactions.GetByIDs(ctx, transactionIDs)
	if err != nil {
		return nil, err
	}

	out := make([]Explanation, 0, len(txns))
	for _, t := range txns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := engine.Resolve(compiled, t)
		blocked := make(map[string]string, len(res.Blocked))
		for _, b := range res.Blocked {
			blocked[b.RuleID] = string(b.Reason)
		}
		matched := make(map[string]bool, len(res.MatchedRuleIDs))
		for _, id := range res.MatchedRuleIDs {
			matched[id] = true
		}

		exp := Explanation{
			TransactionID: t.ID,
			Description:   t.Description,
			Outcome:       res,
			Traces:        make([]RuleTrace, 0, len(res.MatchedRuleIDs)+len(res.Blocked)),
		}
		for _, cr := range compiled {
			id := cr.Rule.ID
			reason, wasBlocked := blocked[id]
			if !matched[id] && !wasBlocked {
				continue
			}
			exp.Traces = append(exp.Traces, RuleTrace{
				RuleID:      id,
				Name:        cr.Rule.Name,
				Priority:    cr.Rule.Priority,
				Matched:     matched[id] || wasBlocked,
				Won:         id == res.WinningCategoryRuleID,
				BlockReason: reason,
			})
		}

		tags, tagIDs := engine.ApplyTagRules(tagRules, t, res.Tags)
		exp.Tags = tags
		exp.TagRuleIDs = tagIDs
		out = append(out, exp)
	}
	return out, nil
}
