package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneyrules/internal/engine"
	"github.com/jask/moneyrules/internal/testdata"
)

func TestApplyDryRunWritesNothing(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	env.insertRule(t, ctx, descRule("r1", "Woolies", "WOOLWORTHS", groceries, 10))
	env.insertTxn(t, ctx, engine.Transaction{ID: "t1", Description: "WOOLWORTHS 1234", Amount: -80})

	svc := &ApplyService{Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions, TagRules: env.TagRules}

	report, err := svc.Apply(ctx, ApplyOptions{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, 1, report.CategoryUpdates)
	require.True(t, report.DryRun)

	got, err := env.Transactions.GetByIDs(ctx, []string{"t1"})
	require.NoError(t, err)
	require.Nil(t, got[0].CategoryID, "dry run must not persist")
}

func TestApplyIsIdempotent(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	transport := env.categoryID(t, ctx, "Transport")
	env.insertRule(t, ctx, descRule("r1", "Woolies", "WOOLWORTHS", groceries, 10))
	env.insertRule(t, ctx, descRule("r2", "Uber", "UBER", transport, 5))
	env.insertTxn(t, ctx, engine.Transaction{ID: "t1", Description: "WOOLWORTHS 1234", Amount: -80})
	env.insertTxn(t, ctx, engine.Transaction{ID: "t2", Description: "UBER *TRIP", Amount: -23})
	env.insertTxn(t, ctx, engine.Transaction{ID: "t3", Description: "RENT", Amount: -1500})

	svc := &ApplyService{Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions, TagRules: env.TagRules}

	first, err := svc.Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, first.Updated)

	got, err := env.Transactions.GetByIDs(ctx, []string{"t1", "t2"})
	require.NoError(t, err)
	require.Equal(t, groceries, *got[0].CategoryID)
	require.Equal(t, "rule", got[0].CategorySource)
	require.Equal(t, transport, *got[1].CategoryID)

	second, err := svc.Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, second.Updated, "second pass over already-applied data changes nothing")
}

func TestApplyKeepsManualCategoryWithoutOverwrite(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	shopping := env.categoryID(t, ctx, "Shopping")
	env.insertRule(t, ctx, descRule("r1", "Woolies", "WOOLWORTHS", groceries, 10))
	env.insertTxn(t, ctx, engine.Transaction{
		ID: "t1", Description: "WOOLWORTHS 1234", Amount: -80,
		CategoryID: &shopping, CategorySource: "manual",
	})

	svc := &ApplyService{Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions, TagRules: env.TagRules}

	report, err := svc.Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, report.Updated)
	require.Equal(t, 1, report.Skipped[skipCategoryExisting])

	overwritten, err := svc.Apply(ctx, ApplyOptions{OverwriteCategory: true})
	require.NoError(t, err)
	require.Equal(t, 1, overwritten.Updated)

	got, err := env.Transactions.GetByIDs(ctx, []string{"t1"})
	require.NoError(t, err)
	require.Equal(t, groceries, *got[0].CategoryID)
}

func TestApplyBlocksIncomeOnNegativeAmount(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	yes := true
	env.insertRule(t, ctx, engine.Rule{
		ID:   "r1",
		Name: "Refund income",
		Conditions: engine.Conditions{
			Description: &engine.StringMatch{Operator: engine.OpContains, Value: "REFUND", Semantics: engine.SemanticsToken},
		},
		Actions: engine.Actions{SetIsIncome: &yes},
	})
	env.insertTxn(t, ctx, engine.Transaction{ID: "t1", Description: "REFUND REVERSAL", Amount: -50})

	svc := &ApplyService{Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions, TagRules: env.TagRules}

	report, err := svc.Apply(ctx, ApplyOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, report.Updated)
	require.Equal(t, 1, report.BlockedIncomeAssignments)

	got, err := env.Transactions.GetByIDs(ctx, []string{"t1"})
	require.NoError(t, err)
	require.False(t, got[0].IsIncome)
}

func TestApplyAgainstInactiveSetDoesNotUseActive(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	shopping := env.categoryID(t, ctx, "Shopping")

	other := engine.RuleSet{ID: "set-b", Name: "Candidate"}
	require.NoError(t, env.RuleSets.Insert(ctx, other))

	env.insertRule(t, ctx, descRule("r-active", "Active", "WOOLWORTHS", groceries, 10))
	ruleB := descRule("r-b", "Candidate", "WOOLWORTHS", shopping, 10)
	ruleB.RuleSetID = "set-b"
	env.insertRule(t, ctx, ruleB)

	env.insertTxn(t, ctx, engine.Transaction{ID: "t1", Description: "WOOLWORTHS 1234", Amount: -80})

	svc := &ApplyService{Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions, TagRules: env.TagRules}

	report, err := svc.Apply(ctx, ApplyOptions{RuleSetID: "set-b"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)

	got, err := env.Transactions.GetByIDs(ctx, []string{"t1"})
	require.NoError(t, err)
	require.Equal(t, shopping, *got[0].CategoryID, "explicit set id selects the inactive set")
}

func TestApplyParallelMatchesSequential(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	transport := env.categoryID(t, ctx, "Transport")
	income := env.categoryID(t, ctx, "Income")
	env.insertRule(t, ctx, descRule("r1", "Woolies", "WOOLWORTHS", groceries, 10))
	env.insertRule(t, ctx, descRule("r2", "Uber", "UBER", transport, 5))
	env.insertRule(t, ctx, descRule("r3", "Salary", "SALARY", income, 5))

	seeded, err := testdata.Seed(ctx, env.Transactions, "acct-1", 64)
	require.NoError(t, err)
	require.Len(t, seeded, 64)

	svc := &ApplyService{Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions, TagRules: env.TagRules}

	seq, err := svc.Apply(ctx, ApplyOptions{DryRun: true, Workers: 1})
	require.NoError(t, err)
	par, err := svc.Apply(ctx, ApplyOptions{DryRun: true, Workers: 8})
	require.NoError(t, err)

	require.Equal(t, 24, seq.Updated, "8 woolworths, 8 uber, 8 salary rows in every 64")
	require.Equal(t, seq.Updated, par.Updated)
	require.Equal(t, seq.CategoryUpdates, par.CategoryUpdates)
	require.Equal(t, seq.Sample, par.Sample)
}
