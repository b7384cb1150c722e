package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// RuleService owns rule CRUD. Every save path runs validation and then the
// broad-match guard; a guard trip is a confirmable warning, not a failure.
type RuleService struct {
	Rules        *repository.RuleRepo
	RuleSets     *repository.RuleSetRepo
	Transactions *repository.TransactionRepo
	Guard        engine.GuardConfig
	Log          *log.Logger
}

// SaveRequest is the two-phase save protocol: propose without Force, and if
// the guard trips, resubmit with the Force token from the error payload.
type SaveRequest struct {
	Rule  engine.Rule `json:"rule"`
	Force string      `json:"force,omitempty"`
}

// Create validates, guards, and persists a new rule into its ruleset (the
// active set when unset).
func (s *RuleService) Create(ctx context.Context, req SaveRequest) (engine.Rule, error) {
	rule := req.Rule
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Source == "" {
		rule.Source = engine.SourceManual
	}
	if rule.RuleSetID == "" {
		activeID, err := s.RuleSets.ActiveID(ctx)
		if err != nil {
			return engine.Rule{}, err
		}
		rule.RuleSetID = activeID
	}
	if err := s.check(ctx, rule, req.Force); err != nil {
		return engine.Rule{}, err
	}
	if err := s.Rules.Insert(ctx, rule); err != nil {
		return engine.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	if s.Log != nil {
		s.Log.Info("rule created", "rule", rule.ID, "set", rule.RuleSetID, "source", rule.Source)
	}
	return rule, nil
}

// Update validates, guards, and persists an edit to an existing rule.
func (s *RuleService) Update(ctx context.Context, req SaveRequest) (engine.Rule, error) {
	existing, err := s.Rules.Get(ctx, req.Rule.ID)
	if err != nil {
		return engine.Rule{}, fmt.Errorf("rule %s: %w", req.Rule.ID, err)
	}
	rule := req.Rule
	rule.RuleSetID = existing.RuleSetID
	rule.CreatedAt = existing.CreatedAt
	if rule.Source == "" {
		rule.Source = existing.Source
	}
	if err := s.check(ctx, rule, req.Force); err != nil {
		return engine.Rule{}, err
	}
	if err := s.Rules.Update(ctx, rule); err != nil {
		return engine.Rule{}, err
	}
	return rule, nil
}

func (s *RuleService) Get(ctx context.Context, id string) (engine.Rule, error) {
	return s.Rules.Get(ctx, id)
}

func (s *RuleService) Delete(ctx context.Context, id string) error {
	return s.Rules.Delete(ctx, id)
}

// List returns rules from the given set (active when empty) filtered by
// source scope.
func (s *RuleService) List(ctx context.Context, ruleSetID string, scope repository.RuleScope) ([]engine.Rule, error) {
	setID := ruleSetID
	if setID == "" {
		var err error
		setID, err = s.RuleSets.ActiveID(ctx)
		if err != nil {
			return nil, err
		}
	}
	return s.Rules.ListByScope(ctx, setID, scope)
}

// Preview runs the guard computation for candidate conditions without saving
// anything, so a caller can inspect before attempting a save.
func (s *RuleService) Preview(ctx context.Context, rule engine.Rule, sampleLimit int) (engine.GuardPreview, error) {
	if err := engine.ValidateRule(rule); err != nil {
		return engine.GuardPreview{}, err
	}
	cfg := s.Guard
	if sampleLimit > 0 {
		cfg.SampleLimit = sampleLimit
	}
	return s.guardPreview(ctx, rule.Conditions, cfg)
}

// check runs validation plus the guard. A tripped guard returns
// ForceRequiredError carrying the preview and the token that unlocks a
// resubmit; a matching Force token bypasses the trip (the warning was seen).
func (s *RuleService) check(ctx context.Context, rule engine.Rule, force string) error {
	if err := engine.ValidateRule(rule); err != nil {
		return err
	}
	preview, err := s.guardPreview(ctx, rule.Conditions, s.Guard)
	if err != nil {
		return err
	}
	if !preview.RequiresForce {
		return nil
	}
	token := engine.ConfirmToken(rule.Conditions)
	if force == token {
		if s.Log != nil {
			s.Log.Warn("broad rule force-saved",
				"rule", rule.ID, "matches", preview.MatchCount, "total", preview.TotalCount)
		}
		return nil
	}
	return &engine.ForceRequiredError{Preview: &preview, ConfirmToken: token}
}

// guardPreview pages through the full corpus so very large stores never load
// at once; the page loop honors ctx cancellation between pages.
func (s *RuleService) guardPreview(ctx context.Context, c engine.Conditions, cfg engine.GuardConfig) (engine.GuardPreview, error) {
	eval, err := engine.NewGuardEval(c, cfg)
	if err != nil {
		return engine.GuardPreview{}, err
	}
	const pageSize = 500
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return engine.GuardPreview{}, err
		}
		page, err := s.Transactions.List(ctx, repository.TransactionFilters{
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return engine.GuardPreview{}, err
		}
		for _, t := range page {
			eval.Observe(t)
		}
		if len(page) < pageSize {
			break
		}
	}
	return eval.Finish(), nil
}
