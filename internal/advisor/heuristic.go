package advisor

import (
	"context"
	"strings"

	"github.com/jask/moneyrules/internal/engine"
)

// Heuristic is the offline advisor: it extracts the longest token shared by
// every sampled description and matches the category by name similarity.
// Used when no API key is configured, and as the fallback path in tests.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) SuggestRule(ctx context.Context, req SuggestRequest) (SuggestResponse, error) {
	if err := ctx.Err(); err != nil {
		return SuggestResponse{}, err
	}
	if len(req.Transactions) == 0 {
		return SuggestResponse{}, nil
	}

	common := commonTokens(req.Transactions)
	if len(common) == 0 {
		return SuggestResponse{Rationale: "no token is shared by every sampled transaction"}, nil
	}
	pattern := longest(common)

	out := SuggestResponse{
		Name: "Match " + properCap(pattern),
		Conditions: engine.Conditions{
			Description: &engine.StringMatch{
				Operator:  engine.OpContains,
				Value:     pattern,
				Semantics: engine.SemanticsToken,
			},
		},
		Confidence: confidenceFor(pattern, len(req.Transactions)),
		Rationale:  "every sampled transaction contains the token " + pattern,
	}

	if cat, score := bestCategory(pattern, req.Categories); score > 0 {
		id := cat.ID
		out.Actions.SetCategoryID = &id
		out.Rationale += "; category matched by name"
	}
	return out, nil
}

// commonTokens returns the uppercase alphabetic tokens (length 4+) present
// in every sample's description.
func commonTokens(samples []TransactionSample) []string {
	counts := map[string]int{}
	for _, s := range samples {
		seen := map[string]bool{}
		for _, tok := range strings.Fields(strings.ToUpper(s.Description)) {
			tok = strings.TrimFunc(tok, func(r rune) bool { return r < 'A' || r > 'Z' })
			if len(tok) < 4 || seen[tok] {
				continue
			}
			seen[tok] = true
			counts[tok]++
		}
	}
	var out []string
	for tok, n := range counts {
		if n == len(samples) {
			out = append(out, tok)
		}
	}
	return out
}

func longest(tokens []string) string {
	best := tokens[0]
	for _, t := range tokens[1:] {
		if len(t) > len(best) || (len(t) == len(best) && t < best) {
			best = t
		}
	}
	return best
}

func bestCategory(pattern string, opts []CategoryOption) (CategoryOption, float64) {
	var best CategoryOption
	bestScore := 0.0
	lower := strings.ToLower(pattern)
	for _, o := range opts {
		name := strings.ToLower(o.Name)
		switch {
		case name == lower:
			return o, 1
		case strings.Contains(name, lower) || strings.Contains(lower, name):
			if bestScore < 0.6 {
				best, bestScore = o, 0.6
			}
		}
	}
	return best, bestScore
}

// confidenceFor scales with pattern specificity and sample size, capped well
// below certainty; drafts always go through the normal guarded save.
func confidenceFor(pattern string, samples int) float64 {
	c := 0.3 + 0.05*float64(len(pattern)) + 0.05*float64(samples)
	if c > 0.85 {
		c = 0.85
	}
	return c
}

func properCap(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
