package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// Lint finding codes.
const (
	LintDuplicateConditions = "duplicate_conditions"
	LintCategoryConflict    = "category_conflict"
	LintBroadToken          = "broad_learned_substring"
	LintUnguardedIncome     = "unguarded_income_override"
)

// LintFinding is one problem the linter flagged.
type LintFinding struct {
	Code    string   `json:"code"`
	RuleIDs []string `json:"rule_ids"`
	Message string   `json:"message"`
}

// LintReport is the full lint output for a ruleset.
type LintReport struct {
	RuleSetID string        `json:"rule_set_id"`
	Scope     string        `json:"scope"`
	Findings  []LintFinding `json:"findings"`
	RiskScore int           `json:"risk_score"`
}

// LintService runs static checks over a ruleset and persists the report so
// risk can be tracked across edits.
type LintService struct {
	Rules    *repository.RuleRepo
	RuleSets *repository.RuleSetRepo
	Reports  *repository.LintReportRepo
	Log      *log.Logger
}

// Lint checks the set's enabled rules for duplicate condition signatures,
// rules routing identical conditions to different categories, overly broad
// learned substring matches, and income overrides with no sign guard. The
// report is stored and returned.
func (s *LintService) Lint(ctx context.Context, ruleSetID string, scope repository.RuleScope) (*LintReport, error) {
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

	report := &LintReport{RuleSetID: ruleSetID, Scope: string(scope), Findings: []LintFinding{}}

	// Group by condition signature once; duplicates and cross-category
	// conflicts both fall out of the grouping.
	bySignature := map[string][]engine.Rule{}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		sig := engine.ConfirmToken(r.Conditions)
		bySignature[sig] = append(bySignature[sig], r)
	}
	sigs := make([]string, 0, len(bySignature))
	for sig := range bySignature {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	for _, sig := range sigs {
		group := bySignature[sig]
		if len(group) < 2 {
			continue
		}
		ids := make([]string, len(group))
		categories := map[string]bool{}
		for i, r := range group {
			ids[i] = r.ID
			if r.Actions.SetCategoryID != nil {
				categories[*r.Actions.SetCategoryID] = true
			}
		}
		sort.Strings(ids)
		report.Findings = append(report.Findings, LintFinding{
			Code:    LintDuplicateConditions,
			RuleIDs: ids,
			Message: fmt.Sprintf("%d rules share identical conditions", len(group)),
		})
		if len(categories) > 1 {
			report.Findings = append(report.Findings, LintFinding{
				Code:    LintCategoryConflict,
				RuleIDs: ids,
				Message: fmt.Sprintf("identical conditions route to %d different categories; only the highest-priority rule wins", len(categories)),
			})
		}
	}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		if f := broadTokenFinding(r); f != nil {
			report.Findings = append(report.Findings, *f)
		}
		if f := unguardedIncomeFinding(r); f != nil {
			report.Findings = append(report.Findings, *f)
		}
	}

	report.RiskScore = riskScore(report.Findings)

	if err := s.Reports.Insert(ctx, uuid.NewString(), lintScopeKey(ruleSetID, scope), report.RiskScore, report); err != nil {
		return nil, fmt.Errorf("persist lint report: %w", err)
	}
	if s.Log != nil {
		s.Log.Info("lint finished", "rule_set", ruleSetID, "findings", len(report.Findings), "risk", report.RiskScore)
	}
	return report, nil
}

// Latest returns the most recently stored report for the scope, or nil.
func (s *LintService) Latest(ctx context.Context, ruleSetID string, scope repository.RuleScope) (*LintReport, error) {
	if ruleSetID == "" {
		id, err := s.RuleSets.ActiveID(ctx)
		if err != nil {
			return nil, err
		}
		ruleSetID = id
	}
	stored, err := s.Reports.Latest(ctx, lintScopeKey(ruleSetID, scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var report LintReport
	if err := json.Unmarshal(stored.Report, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func lintScopeKey(ruleSetID string, scope repository.RuleScope) string {
	return ruleSetID + ":" + string(scope)
}

// broadTokenFinding flags learned rules whose only text condition is a short
// substring match. These are the classic over-matching accidents.
func broadTokenFinding(r engine.Rule) *LintFinding {
	if r.Source != engine.SourceLearned {
		return nil
	}
	for _, m := range []*engine.StringMatch{r.Conditions.Description, r.Conditions.Merchant} {
		if m == nil || m.Operator != engine.OpContains {
			continue
		}
		if m.Semantics == engine.SemanticsSubstring || len(m.Value) < 4 {
			return &LintFinding{
				Code:    LintBroadToken,
				RuleIDs: []string{r.ID},
				Message: fmt.Sprintf("learned rule matches %q loosely; prefer token matching with a longer pattern", m.Value),
			}
		}
	}
	return nil
}

// unguardedIncomeFinding flags set_is_income=true with no amount sign
// condition. The resolver blocks the action per transaction, but the rule
// itself is the bug.
func unguardedIncomeFinding(r engine.Rule) *LintFinding {
	if r.Actions.SetIsIncome == nil || !*r.Actions.SetIsIncome {
		return nil
	}
	if r.Conditions.AmountSign == engine.SignIncome {
		return nil
	}
	return &LintFinding{
		Code:    LintUnguardedIncome,
		RuleIDs: []string{r.ID},
		Message: "rule marks transactions as income without restricting amount sign to income",
	}
}

// riskScore maps findings onto 0-100. Conflicts weigh most; duplicates
// least.
func riskScore(findings []LintFinding) int {
	score := 0
	for _, f := range findings {
		switch f.Code {
		case LintCategoryConflict:
			score += 20
		case LintUnguardedIncome:
			score += 15
		case LintBroadToken:
			score += 10
		case LintDuplicateConditions:
			score += 5
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}
