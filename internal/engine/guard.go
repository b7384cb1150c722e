package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
)

// GuardConfig holds the broad-match thresholds.
type GuardConfig struct {
	// MaxMatchRatio trips the guard when matches/total exceeds it.
	MaxMatchRatio float64
	// MaxMatchCount trips the guard on an absolute match ceiling.
	MaxMatchCount int
	// SampleLimit bounds the preview sample size.
	SampleLimit int
}

// GuardPreview is what a caller sees before deciding to force-save a rule.
type GuardPreview struct {
	MatchCount    int           `json:"match_count"`
	TotalCount    int           `json:"total_count"`
	MatchRatio    float64       `json:"match_ratio"`
	Warnings      []string      `json:"warnings,omitempty"`
	Sample        []Transaction `json:"sample"`
	RequiresForce bool          `json:"requires_force"`
}

// GuardEval accumulates match statistics for candidate conditions over a
// streamed corpus, so callers can page through transactions without holding
// them all in memory. Sample collection is a bounded reservoir: output size
// is independent of corpus size and observation order determines the seed
// positions deterministically only for the first SampleLimit matches.
type GuardEval struct {
	cfg   GuardConfig
	cc    *CompiledConditions
	cond  Conditions
	total int
	match int
	rng   *rand.Rand
	samp  []Transaction
}

// NewGuardEval compiles the candidate conditions and returns an accumulator.
func NewGuardEval(c Conditions, cfg GuardConfig) (*GuardEval, error) {
	cc, err := Compile(c)
	if err != nil {
		return nil, err
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = 5
	}
	return &GuardEval{
		cfg:  cfg,
		cc:   cc,
		cond: c,
		rng:  rand.New(rand.NewSource(guardSeed)),
	}, nil
}

// Deterministic seed keeps preview samples stable across repeated runs over
// the same corpus order.
const guardSeed = 0x6d6f6e6579

// Observe feeds one corpus transaction into the evaluation.
func (g *GuardEval) Observe(t Transaction) {
	g.total++
	if !g.cc.Matches(t) {
		return
	}
	g.match++
	if len(g.samp) < g.cfg.SampleLimit {
		g.samp = append(g.samp, t)
		return
	}
	if i := g.rng.Intn(g.match); i < g.cfg.SampleLimit {
		g.samp[i] = t
	}
}

// Finish computes the preview and whether the save requires force.
func (g *GuardEval) Finish() GuardPreview {
	p := GuardPreview{
		MatchCount: g.match,
		TotalCount: g.total,
		Sample:     g.samp,
	}
	if p.Sample == nil {
		p.Sample = []Transaction{}
	}
	if g.total > 0 {
		p.MatchRatio = float64(g.match) / float64(g.total)
	}
	p.Warnings = conditionWarnings(g.cond)
	if g.total > 0 && p.MatchRatio > g.cfg.MaxMatchRatio {
		p.Warnings = append(p.Warnings, fmt.Sprintf(
			"matches %.1f%% of all transactions (threshold %.1f%%)",
			p.MatchRatio*100, g.cfg.MaxMatchRatio*100))
		p.RequiresForce = true
	}
	if g.cfg.MaxMatchCount > 0 && g.match > g.cfg.MaxMatchCount {
		p.Warnings = append(p.Warnings, fmt.Sprintf(
			"matches %d transactions (ceiling %d)", g.match, g.cfg.MaxMatchCount))
		p.RequiresForce = true
	}
	return p
}

func conditionWarnings(c Conditions) []string {
	var out []string
	if m := c.Description; m != nil && m.Operator == OpContains && m.Semantics == SemanticsSubstring {
		out = append(out, "description uses unconstrained substring matching")
	}
	if m := c.Merchant; m != nil && m.Operator == OpContains && m.Semantics == SemanticsSubstring {
		out = append(out, "merchant uses unconstrained substring matching")
	}
	if m := c.Description; m != nil && len(m.Value) < 3 && m.Operator != OpRegex {
		out = append(out, "description pattern is very short")
	}
	return out
}

// ConfirmToken derives the force-confirmation token from the canonical JSON
// of the candidate conditions. A confirmation issued for one condition set
// cannot be replayed to save different conditions.
func ConfirmToken(c Conditions) string {
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
