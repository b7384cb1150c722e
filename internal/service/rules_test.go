package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneyrules/internal/engine"
)

func txnID(i int) string {
	return fmt.Sprintf("seed-%d", i)
}

func seedWideCorpus(t *testing.T, env *testEnv, ctx context.Context, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		env.insertTxn(t, ctx, engine.Transaction{
			ID:          txnID(i),
			Description: "PAYMENT REF 99",
			Amount:      -10,
		})
	}
}

func TestCreateRuleBroadMatchRequiresForce(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)
	seedWideCorpus(t, env, ctx, 20)

	svc := &RuleService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
		Guard: engine.GuardConfig{MaxMatchRatio: 0.5, MaxMatchCount: 1000, SampleLimit: 5},
	}

	groceries := env.categoryID(t, ctx, "Groceries")
	rule := descRule("", "Everything", "PAYMENT", groceries, 0)

	_, err := svc.Create(ctx, SaveRequest{Rule: rule})
	require.Error(t, err)
	var fErr *engine.ForceRequiredError
	require.ErrorAs(t, err, &fErr)
	require.True(t, fErr.Preview.RequiresForce)
	require.Equal(t, 20, fErr.Preview.MatchCount)
	require.NotEmpty(t, fErr.ConfirmToken)
	require.Len(t, fErr.Preview.Sample, 5)

	// No rule was persisted by the refused save.
	rules, err := svc.List(ctx, "", "")
	require.NoError(t, err)
	require.Empty(t, rules)

	// Resubmitting with the returned token succeeds.
	created, err := svc.Create(ctx, SaveRequest{Rule: rule, Force: fErr.ConfirmToken})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	rules, err = svc.List(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, rules, 1)
}

func TestForceTokenBoundToConditions(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)
	seedWideCorpus(t, env, ctx, 20)

	svc := &RuleService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
		Guard: engine.GuardConfig{MaxMatchRatio: 0.5, MaxMatchCount: 1000, SampleLimit: 5},
	}

	groceries := env.categoryID(t, ctx, "Groceries")
	_, err := svc.Create(ctx, SaveRequest{Rule: descRule("", "A", "PAYMENT", groceries, 0)})
	var fErr *engine.ForceRequiredError
	require.ErrorAs(t, err, &fErr)

	// A token minted for one set of conditions does not unlock another.
	other := descRule("", "B", "REF", groceries, 0)
	_, err = svc.Create(ctx, SaveRequest{Rule: other, Force: fErr.ConfirmToken})
	require.Error(t, err)
	require.ErrorAs(t, err, new(*engine.ForceRequiredError))
}

func TestCreateNarrowRulePassesGuard(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)
	seedWideCorpus(t, env, ctx, 20)
	env.insertTxn(t, ctx, engine.Transaction{ID: "t-narrow", Description: "WOOLWORTHS 1234", Amount: -80})

	svc := &RuleService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
		Guard: engine.GuardConfig{MaxMatchRatio: 0.5, MaxMatchCount: 1000, SampleLimit: 5},
	}

	groceries := env.categoryID(t, ctx, "Groceries")
	created, err := svc.Create(ctx, SaveRequest{Rule: descRule("", "Woolies", "WOOLWORTHS", groceries, 0)})
	require.NoError(t, err)
	require.Equal(t, engine.SourceManual, created.Source)
	require.Equal(t, env.ActiveSetID, created.RuleSetID)
}

func TestCreateRejectsInvalidRule(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	svc := &RuleService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
		Guard: engine.GuardConfig{MaxMatchRatio: 0.5, MaxMatchCount: 1000, SampleLimit: 5},
	}

	_, err := svc.Create(ctx, SaveRequest{Rule: engine.Rule{Name: "empty"}})
	require.Error(t, err)
	require.True(t, engine.IsValidationError(err))
}

func TestPreviewDoesNotPersist(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)
	seedWideCorpus(t, env, ctx, 10)

	svc := &RuleService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
		Guard: engine.GuardConfig{MaxMatchRatio: 0.5, MaxMatchCount: 1000, SampleLimit: 3},
	}

	groceries := env.categoryID(t, ctx, "Groceries")
	preview, err := svc.Preview(ctx, descRule("", "Everything", "PAYMENT", groceries, 0), 0)
	require.NoError(t, err)
	require.True(t, preview.RequiresForce)
	require.Equal(t, 10, preview.MatchCount)
	require.Equal(t, 10, preview.TotalCount)

	rules, err := svc.List(ctx, "", "")
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestUpdatePreservesSetAndCreation(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)
	seedWideCorpus(t, env, ctx, 10)
	env.insertTxn(t, ctx, engine.Transaction{ID: "t1", Description: "WOOLWORTHS", Amount: -10})

	svc := &RuleService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
		Guard: engine.GuardConfig{MaxMatchRatio: 0.5, MaxMatchCount: 1000, SampleLimit: 5},
	}

	groceries := env.categoryID(t, ctx, "Groceries")
	shopping := env.categoryID(t, ctx, "Shopping")
	created, err := svc.Create(ctx, SaveRequest{Rule: descRule("", "Woolies", "WOOLWORTHS", groceries, 0)})
	require.NoError(t, err)

	updated := created
	updated.Actions.SetCategoryID = &shopping
	updated.RuleSetID = "bogus-should-be-ignored"
	got, err := svc.Update(ctx, SaveRequest{Rule: updated})
	require.NoError(t, err)
	require.Equal(t, created.RuleSetID, got.RuleSetID)
	require.Equal(t, shopping, *got.Actions.SetCategoryID)
}
