package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func guardCorpus(n int) []Transaction {
	out := make([]Transaction, 0, n)
	for i := 0; i < n; i++ {
		tr := txn(fmt.Sprintf("PURCHASE %04d", i), -10)
		tr.ID = fmt.Sprintf("t%04d", i)
		tr.AccountID = "acct-main"
		out = append(out, tr)
	}
	return out
}

func TestGuardTripsOnFullCorpusMatch(t *testing.T) {
	t.Parallel()

	cfg := GuardConfig{MaxMatchRatio: 0.25, MaxMatchCount: 500, SampleLimit: 5}
	eval, err := NewGuardEval(Conditions{
		Description: &StringMatch{Operator: OpContains, Value: "PURCHASE"},
	}, cfg)
	require.NoError(t, err)

	for _, tr := range guardCorpus(1000) {
		eval.Observe(tr)
	}
	p := eval.Finish()
	require.Equal(t, 1000, p.MatchCount)
	require.Equal(t, 1000, p.TotalCount)
	require.InDelta(t, 1.0, p.MatchRatio, 1e-9)
	require.True(t, p.RequiresForce)
	require.Len(t, p.Sample, 5)
	require.NotEmpty(t, p.Warnings)
}

func TestGuardNarrowedByAccountFilterPasses(t *testing.T) {
	t.Parallel()

	cfg := GuardConfig{MaxMatchRatio: 0.25, MaxMatchCount: 500, SampleLimit: 5}
	eval, err := NewGuardEval(Conditions{
		Description: &StringMatch{Operator: OpContains, Value: "PURCHASE"},
		AccountIDs:  []string{"acct-rare"},
	}, cfg)
	require.NoError(t, err)

	corpus := guardCorpus(1000)
	corpus[3].AccountID = "acct-rare"
	corpus[700].AccountID = "acct-rare"
	for _, tr := range corpus {
		eval.Observe(tr)
	}
	p := eval.Finish()
	require.Equal(t, 2, p.MatchCount)
	require.False(t, p.RequiresForce)
}

func TestGuardSampleStableAcrossRuns(t *testing.T) {
	t.Parallel()

	run := func() GuardPreview {
		eval, err := NewGuardEval(Conditions{
			Description: &StringMatch{Operator: OpContains, Value: "PURCHASE"},
		}, GuardConfig{MaxMatchRatio: 0.9, SampleLimit: 3})
		require.NoError(t, err)
		for _, tr := range guardCorpus(200) {
			eval.Observe(tr)
		}
		return eval.Finish()
	}
	first := run()
	require.Len(t, first.Sample, 3)
	require.Equal(t, first, run())
}

func TestConfirmTokenBoundToConditions(t *testing.T) {
	t.Parallel()

	a := Conditions{Description: &StringMatch{Operator: OpContains, Value: "A"}}
	b := Conditions{Description: &StringMatch{Operator: OpContains, Value: "B"}}
	require.Equal(t, ConfirmToken(a), ConfirmToken(a))
	require.NotEqual(t, ConfirmToken(a), ConfirmToken(b))
}
