package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func txn(desc string, amount float64) Transaction {
	return Transaction{
		ID:          "t1",
		Date:        time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Description: desc,
		Amount:      amount,
		AccountID:   "acct-1",
	}
}

func mustCompile(t *testing.T, c Conditions) *CompiledConditions {
	t.Helper()
	cc, err := Compile(c)
	require.NoError(t, err)
	return cc
}

func TestTokenVsSubstring(t *testing.T) {
	t.Parallel()

	token := mustCompile(t, Conditions{
		Description: &StringMatch{Operator: OpContains, Value: "CAT", Semantics: SemanticsToken},
	})
	substr := mustCompile(t, Conditions{
		Description: &StringMatch{Operator: OpContains, Value: "CAT", Semantics: SemanticsSubstring},
	})

	require.False(t, token.Matches(txn("CATALOG PURCHASE", -10)))
	require.True(t, substr.Matches(txn("CATALOG PURCHASE", -10)))

	require.True(t, token.Matches(txn("CAT FOOD STORE", -10)))
	require.True(t, token.Matches(txn("MY-CAT SUPPLIES", -10)))
	require.True(t, token.Matches(txn("CAT", -10)))
	require.False(t, token.Matches(txn("SCATTER", -10)))
}

func TestTokenContainsCaseInsensitiveDefault(t *testing.T) {
	t.Parallel()

	cc := mustCompile(t, Conditions{
		Description: &StringMatch{Operator: OpContains, Value: "woolworths"},
	})
	require.True(t, cc.Matches(txn("WOOLWORTHS 3021 SPOTSWOOD", -54.30)))

	sensitive := mustCompile(t, Conditions{
		Description: &StringMatch{Operator: OpContains, Value: "woolworths", CaseSensitive: true},
	})
	require.False(t, sensitive.Matches(txn("WOOLWORTHS 3021 SPOTSWOOD", -54.30)))
}

func TestStringOperators(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		match StringMatch
		desc  string
		want  bool
	}{
		{"equals hit", StringMatch{Operator: OpEquals, Value: "payment thankyou"}, "PAYMENT THANKYOU", true},
		{"equals miss", StringMatch{Operator: OpEquals, Value: "payment"}, "PAYMENT THANKYOU", false},
		{"starts_with hit", StringMatch{Operator: OpStartsWith, Value: "dan murphy"}, "DAN MURPHY'S/580", true},
		{"starts_with miss", StringMatch{Operator: OpStartsWith, Value: "murphy"}, "DAN MURPHY'S/580", false},
		{"regex hit", StringMatch{Operator: OpRegex, Value: `^UBER\s*(EATS|TRIP)`}, "UBER EATS MELBOURNE", true},
		{"regex case-insensitive", StringMatch{Operator: OpRegex, Value: `uber`}, "UBER TRIP", true},
		{"regex case-sensitive miss", StringMatch{Operator: OpRegex, Value: `uber`, CaseSensitive: true}, "UBER TRIP", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cc := mustCompile(t, Conditions{Description: &tc.match})
			require.Equal(t, tc.want, cc.Matches(txn(tc.desc, -5)))
		})
	}
}

func TestInvalidRegexIsValidationError(t *testing.T) {
	t.Parallel()

	_, err := Compile(Conditions{
		Description: &StringMatch{Operator: OpRegex, Value: "("},
	})
	require.Error(t, err)
	require.True(t, IsValidationError(err))
}

func TestAmountConditions(t *testing.T) {
	t.Parallel()

	exact := 54.30
	cc := mustCompile(t, Conditions{Amount: &AmountMatch{Exact: &exact}})
	require.True(t, cc.Matches(txn("X", -54.30)), "absolute value comparison")
	require.True(t, cc.Matches(txn("X", 54.30)))
	require.True(t, cc.Matches(txn("X", -54.304)), "within epsilon")
	require.False(t, cc.Matches(txn("X", -54.40)))

	lo, hi := 10.0, 20.0
	ranged := mustCompile(t, Conditions{Amount: &AmountMatch{Min: &lo, Max: &hi}})
	require.True(t, ranged.Matches(txn("X", -10)), "inclusive min")
	require.True(t, ranged.Matches(txn("X", 20)), "inclusive max")
	require.False(t, ranged.Matches(txn("X", -9.99)))
	require.False(t, ranged.Matches(txn("X", 20.01)))
}

func TestAmountSignFilter(t *testing.T) {
	t.Parallel()

	expense := mustCompile(t, Conditions{
		Description: &StringMatch{Operator: OpContains, Value: "REFUND"},
		AmountSign:  SignExpense,
	})
	income := mustCompile(t, Conditions{
		Description: &StringMatch{Operator: OpContains, Value: "REFUND"},
		AmountSign:  SignIncome,
	})

	require.True(t, expense.Matches(txn("REFUND DUE", -12)))
	require.False(t, expense.Matches(txn("REFUND DUE", 12)))
	require.True(t, income.Matches(txn("REFUND DUE", 12)))
	require.False(t, income.Matches(txn("REFUND DUE", -12)))
	require.False(t, income.Matches(txn("REFUND DUE", 0)), "zero is neither sign")
}

func TestAccountAndDateFilters(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	cc := mustCompile(t, Conditions{
		AccountIDs: []string{"acct-1", "acct-2"},
		DateFrom:   &from,
		DateTo:     &to,
	})

	require.True(t, cc.Matches(txn("X", -1)))

	other := txn("X", -1)
	other.AccountID = "acct-9"
	require.False(t, cc.Matches(other))

	early := txn("X", -1)
	early.Date = time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	require.False(t, cc.Matches(early))

	boundary := txn("X", -1)
	boundary.Date = to
	require.True(t, cc.Matches(boundary), "date range is inclusive")
}

func TestMerchantConditionNilMerchant(t *testing.T) {
	t.Parallel()

	cc := mustCompile(t, Conditions{
		Merchant: &StringMatch{Operator: OpEquals, Value: "uber"},
	})
	require.False(t, cc.Matches(txn("UBER TRIP", -20)), "nil merchant never matches a merchant condition")

	withMerchant := txn("UBER TRIP", -20)
	m := "Uber"
	withMerchant.Merchant = &m
	require.True(t, cc.Matches(withMerchant))
}
