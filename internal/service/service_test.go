package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/moneyrules/internal/database"
	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

type testEnv struct {
	DB           *sql.DB
	Rules        *repository.RuleRepo
	RuleSets     *repository.RuleSetRepo
	Transactions *repository.TransactionRepo
	TagRules     *repository.TagRuleRepo
	Categories   *repository.CategoryRepo
	Lint         *repository.LintReportRepo
	ActiveSetID  string
}

func newTestEnv(t *testing.T) (*testEnv, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(db))
	require.NoError(t, database.SeedDefaults(ctx, db))

	env := &testEnv{
		DB:           db,
		Rules:        repository.NewRuleRepo(db),
		RuleSets:     repository.NewRuleSetRepo(db),
		Transactions: repository.NewTransactionRepo(db),
		TagRules:     repository.NewTagRuleRepo(db),
		Categories:   repository.NewCategoryRepo(db),
		Lint:         repository.NewLintReportRepo(db),
	}
	env.ActiveSetID, err = env.RuleSets.ActiveID(ctx)
	require.NoError(t, err)
	return env, ctx
}

func (e *testEnv) insertTxn(t *testing.T, ctx context.Context, txn engine.Transaction) engine.Transaction {
	t.Helper()
	if txn.AccountID == "" {
		txn.AccountID = "acct-1"
	}
	if txn.Date.IsZero() {
		txn.Date = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	require.NoError(t, e.Transactions.Insert(ctx, txn))
	return txn
}

func (e *testEnv) insertRule(t *testing.T, ctx context.Context, r engine.Rule) engine.Rule {
	t.Helper()
	if r.RuleSetID == "" {
		r.RuleSetID = e.ActiveSetID
	}
	if r.Source == "" {
		r.Source = engine.SourceManual
	}
	r.Enabled = true
	require.NoError(t, e.Rules.Insert(ctx, r))
	return r
}

func (e *testEnv) categoryID(t *testing.T, ctx context.Context, name string) string {
	t.Helper()
	cats, err := e.Categories.List(ctx)
	require.NoError(t, err)
	for _, c := range cats {
		if c.Name == name {
			return c.ID
		}
	}
	t.Fatalf("category %q not seeded", name)
	return ""
}

func descRule(id, name, pattern, categoryID string, priority int) engine.Rule {
	cid := categoryID
	return engine.Rule{
		ID:   id,
		Name: name,
		Conditions: engine.Conditions{
			Description: &engine.StringMatch{
				Operator:  engine.OpContains,
				Value:     pattern,
				Semantics: engine.SemanticsToken,
			},
		},
		Actions:  engine.Actions{SetCategoryID: &cid},
		Priority: priority,
	}
}
