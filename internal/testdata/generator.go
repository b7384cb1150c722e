// Package testdata generates deterministic sample transactions for tests.
package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// Merchants cycled through by Seed, paired with typical spend.
var merchants = []struct {
	desc   string
	amount float64
}{
	{"UBER EATS* SUSHI 4421", -32.50},
	{"AMAZON.COM*1XK99", -54.99},
	{"WOOLWORTHS 1234 MELBOURNE", -87.20},
	{"SPOTIFY P1234ABCD", -11.99},
	{"SALARY ACME PTY LTD", 4200.00},
	{"SHELL COLES EXPRESS 9921", -65.40},
	{"NETFLIX.COM", -15.99},
	{"CAT PROTECTION SOCIETY", -25.00},
}

// Seed inserts n transactions with a fixed rng seed so tests see the same
// corpus every run. Returns the inserted transactions in insertion order.
func Seed(ctx context.Context, repo *repository.TransactionRepo, accountID string, n int) ([]engine.Transaction, error) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	out := make([]engine.Transaction, 0, n)
	for i := 0; i < n; i++ {
		m := merchants[i%len(merchants)]
		jitter := float64(rng.Intn(500)) / 100
		t := engine.Transaction{
			ID:          fmt.Sprintf("txn-%04d-%s", i, uuid.NewString()[:8]),
			Date:        base.AddDate(0, 0, i%90),
			Description: m.desc,
			Amount:      m.amount - jitter,
			AccountID:   accountID,
		}
		if t.Amount > 0 {
			t.Amount = m.amount // keep income rows positive
			t.IsIncome = true
		}
		if err := repo.Insert(ctx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
