// Package advisor turns a cluster of uncategorized transactions into a
// drafted rule, either via a model or a local heuristic. Drafts are
// suggestions only; nothing here writes to the database.
package advisor

import (
	"context"

	"github.com/jask/moneyrules/internal/engine"
)

// Provider drafts rules from transaction samples.
type Provider interface {
	SuggestRule(ctx context.Context, req SuggestRequest) (SuggestResponse, error)
}

// SuggestRequest carries the sample and the category vocabulary the draft
// may target.
type SuggestRequest struct {
	Transactions []TransactionSample `json:"transactions"`
	Categories   []CategoryOption    `json:"categories"`
}

// TransactionSample is the subset of a transaction the advisor sees.
type TransactionSample struct {
	Description string  `json:"description"`
	Merchant    string  `json:"merchant,omitempty"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
}

// CategoryOption names a category the draft may assign.
type CategoryOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SuggestResponse is a drafted rule plus the advisor's reasoning. An empty
// Conditions means the advisor found no safe pattern.
type SuggestResponse struct {
	Conditions engine.Conditions `json:"conditions"`
	Actions    engine.Actions    `json:"actions"`
	Name       string            `json:"name"`
	Confidence float64           `json:"confidence"`
	Rationale  string            `json:"rationale"`
}
