package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

func TestNormalizePattern(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"UBER EATS* SUSHI 4421":     "UBER EATS SUSHI",
		"woolworths 1234 melbourne": "WOOLWORTHS MELBOURNE",
		"VISA DEBIT SPOTIFY":        "SPOTIFY",
		"12345 67":                  "",
		"THE POS 99":                "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizePattern(in), "input %q", in)
	}
}

func learnEnv(t *testing.T) (*testEnv, *LearnService, context.Context) {
	t.Helper()
	env, ctx := newTestEnv(t)
	svc := &LearnService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
	}
	return env, svc, ctx
}

func TestLearnMinesManualCategorizations(t *testing.T) {
	t.Parallel()
	env, svc, ctx := learnEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	for i := 0; i < 5; i++ {
		env.insertTxn(t, ctx, engine.Transaction{
			ID:          fmt.Sprintf("g-%d", i),
			Description: fmt.Sprintf("WOOLWORTHS %d MELBOURNE", 1000+i),
			Amount:      -50,
			CategoryID:  &groceries, CategorySource: "manual",
		})
	}
	// Background noise the pattern must not swallow.
	for i := 0; i < 20; i++ {
		env.insertTxn(t, ctx, engine.Transaction{
			ID:          fmt.Sprintf("n-%d", i),
			Description: fmt.Sprintf("MISC VENDOR %d", i),
			Amount:      -10,
		})
	}

	result, err := svc.Learn(ctx, LearnOptions{MinSupport: 3, MinConfidence: 0.8, MaxMatchRatio: 0.5})
	require.NoError(t, err)
	require.Len(t, result.Suggestions, 1)

	sg := result.Suggestions[0]
	require.Equal(t, "WOOLWORTHS MELBOURNE", sg.Pattern)
	require.Equal(t, groceries, sg.CategoryID)
	require.Equal(t, 5, sg.SupportCount)
	require.InDelta(t, 1.0, sg.Confidence, 0.001)
	require.Equal(t, engine.SemanticsToken, sg.Conditions.Description.Semantics)
}

func TestLearnTargetsTheMinedField(t *testing.T) {
	t.Parallel()
	env, svc, ctx := learnEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	merchant := "WOOLWORTHS GROUP"
	for i := 0; i < 4; i++ {
		env.insertTxn(t, ctx, engine.Transaction{
			ID: fmt.Sprintf("m-%d", i),
			// Card-network reference: the description shares nothing with
			// the cleaned merchant name.
			Description: fmt.Sprintf("SQ *REF %d", 9000+i),
			Merchant:    &merchant,
			Amount:      -30,
			CategoryID:  &groceries, CategorySource: "manual",
		})
	}
	// A description-only row that would inflate a description-targeted count.
	env.insertTxn(t, ctx, engine.Transaction{
		ID: "d-1", Description: "WOOLWORTHS GROUP NEWSLETTER", Amount: -5,
	})

	result, err := svc.Learn(ctx, LearnOptions{MinSupport: 3, MaxMatchRatio: 0.9})
	require.NoError(t, err)
	require.Len(t, result.Suggestions, 1)

	sg := result.Suggestions[0]
	require.Equal(t, "WOOLWORTHS GROUP", sg.Pattern)
	require.Nil(t, sg.Conditions.Description)
	require.NotNil(t, sg.Conditions.Merchant)
	require.Equal(t, "WOOLWORTHS GROUP", sg.Conditions.Merchant.Value)
	require.Equal(t, 4, sg.EstimatedMatchCount, "counts merchant matches only, not the look-alike description")
}

func TestLearnDropsWeakGroups(t *testing.T) {
	t.Parallel()
	env, svc, ctx := learnEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	shopping := env.categoryID(t, ctx, "Shopping")

	// Support 2 only.
	for i := 0; i < 2; i++ {
		env.insertTxn(t, ctx, engine.Transaction{
			ID: fmt.Sprintf("low-%d", i), Description: "RARE SHOP", Amount: -5,
			CategoryID: &groceries, CategorySource: "manual",
		})
	}
	// Split categorization: 3 groceries vs 3 shopping for the same pattern.
	for i := 0; i < 3; i++ {
		env.insertTxn(t, ctx, engine.Transaction{
			ID: fmt.Sprintf("sa-%d", i), Description: "SPLIT VENDOR", Amount: -5,
			CategoryID: &groceries, CategorySource: "manual",
		})
		env.insertTxn(t, ctx, engine.Transaction{
			ID: fmt.Sprintf("sb-%d", i), Description: "SPLIT VENDOR", Amount: -5,
			CategoryID: &shopping, CategorySource: "manual",
		})
	}

	result, err := svc.Learn(ctx, LearnOptions{MinSupport: 3, MinConfidence: 0.8, MaxMatchRatio: 0.9})
	require.NoError(t, err)
	require.Empty(t, result.Suggestions)

	reasons := map[string]bool{}
	for _, d := range result.Dropped {
		reasons[d.Reason] = true
	}
	require.True(t, reasons[dropBelowSupport])
	require.True(t, reasons[dropBelowConfidence])
}

func TestApplyLearnedCreatesLearnedRules(t *testing.T) {
	t.Parallel()
	env, svc, ctx := learnEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	for i := 0; i < 4; i++ {
		env.insertTxn(t, ctx, engine.Transaction{
			ID: fmt.Sprintf("g-%d", i), Description: "WOOLWORTHS METRO", Amount: -30,
			CategoryID: &groceries, CategorySource: "manual",
		})
	}
	env.insertTxn(t, ctx, engine.Transaction{ID: "noise", Description: "OTHER THING ENTIRELY", Amount: -5})

	result, err := svc.Learn(ctx, LearnOptions{MinSupport: 3, MaxMatchRatio: 0.9})
	require.NoError(t, err)
	require.NotEmpty(t, result.Suggestions)

	created, err := svc.ApplyLearned(ctx, result.Suggestions)
	require.NoError(t, err)
	require.Len(t, created, len(result.Suggestions))

	learned, err := env.Rules.ListByScope(ctx, env.ActiveSetID, repository.ScopeLearned)
	require.NoError(t, err)
	require.Len(t, learned, len(created))
	require.NotNil(t, learned[0].Confidence)
}

func TestRevertLearnedClearsAndDisables(t *testing.T) {
	t.Parallel()
	env, svc, ctx := learnEnv(t)

	groceries := env.categoryID(t, ctx, "Groceries")
	rule := descRule("learned-1", "Learned: WOOLWORTHS", "WOOLWORTHS", groceries, 0)
	rule.Source = engine.SourceLearned
	env.insertRule(t, ctx, rule)

	env.insertTxn(t, ctx, engine.Transaction{
		ID: "t1", Description: "WOOLWORTHS 1234", Amount: -80,
		CategoryID: &groceries, CategorySource: "learned",
	})
	env.insertTxn(t, ctx, engine.Transaction{
		ID: "t2", Description: "WOOLWORTHS 5678", Amount: -40,
		CategoryID: &groceries, CategorySource: "manual",
	})

	// Preview changes nothing.
	preview, err := svc.RevertLearned(ctx, RevertFilters{DisableRules: true}, false)
	require.NoError(t, err)
	require.Equal(t, 1, preview.Reverted)
	require.Equal(t, []string{"learned-1"}, preview.DisabledRules)

	got, err := env.Transactions.GetByIDs(ctx, []string{"t1"})
	require.NoError(t, err)
	require.NotNil(t, got[0].CategoryID)

	// Apply reverts the learned categorization, leaves the manual one.
	report, err := svc.RevertLearned(ctx, RevertFilters{DisableRules: true}, true)
	require.NoError(t, err)
	require.Equal(t, 1, report.Reverted)

	got, err = env.Transactions.GetByIDs(ctx, []string{"t1", "t2"})
	require.NoError(t, err)
	require.Nil(t, got[0].CategoryID)
	require.NotNil(t, got[1].CategoryID)

	r, err := env.Rules.Get(ctx, "learned-1")
	require.NoError(t, err)
	require.False(t, r.Enabled)
}

func TestRebuildAbortsWhenBackupFails(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	exporter := &ExportService{DB: env.DB, Rules: env.Rules, RuleSets: env.RuleSets, Categories: env.Categories}
	svc := &LearnService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
		Exporter: exporter,
		// A file path in place of a directory makes MkdirAll fail.
		BackupDir: filepath.Join(t.TempDir(), "occupied"),
	}
	require.NoError(t, os.WriteFile(svc.BackupDir, []byte("x"), 0o644))

	groceries := env.categoryID(t, ctx, "Groceries")
	rule := descRule("learned-1", "Learned", "WOOLWORTHS", groceries, 0)
	rule.Source = engine.SourceLearned
	env.insertRule(t, ctx, rule)

	_, err := svc.RebuildLearned(ctx, RebuildOptions{Apply: true, ResetLearned: true})
	require.Error(t, err)
	require.Contains(t, err.Error(), "backup failed")

	// Nothing was disabled.
	r, err := env.Rules.Get(ctx, "learned-1")
	require.NoError(t, err)
	require.True(t, r.Enabled)
}

func TestRebuildBacksUpThenRemines(t *testing.T) {
	t.Parallel()
	env, ctx := newTestEnv(t)

	exporter := &ExportService{DB: env.DB, Rules: env.Rules, RuleSets: env.RuleSets, Categories: env.Categories}
	svc := &LearnService{
		Rules: env.Rules, RuleSets: env.RuleSets, Transactions: env.Transactions,
		Exporter: exporter, BackupDir: t.TempDir(),
	}

	groceries := env.categoryID(t, ctx, "Groceries")
	stale := descRule("learned-old", "Learned: stale", "OLDSHOP", groceries, 0)
	stale.Source = engine.SourceLearned
	env.insertRule(t, ctx, stale)

	for i := 0; i < 4; i++ {
		env.insertTxn(t, ctx, engine.Transaction{
			ID: fmt.Sprintf("g-%d", i), Description: "WOOLWORTHS METRO", Amount: -30,
			CategoryID: &groceries, CategorySource: "manual",
		})
	}
	env.insertTxn(t, ctx, engine.Transaction{ID: "noise", Description: "SOMETHING ELSE HERE", Amount: -5})

	report, err := svc.RebuildLearned(ctx, RebuildOptions{
		Apply: true, ResetLearned: true,
		Thresholds: LearnOptions{MinSupport: 3, MaxMatchRatio: 0.9},
	})
	require.NoError(t, err)
	require.FileExists(t, report.BackupPath)
	require.Equal(t, 1, report.DisabledRules)
	require.NotZero(t, report.CreatedRules)

	old, err := env.Rules.Get(ctx, "learned-old")
	require.NoError(t, err)
	require.False(t, old.Enabled)
}
