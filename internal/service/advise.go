package service

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/jask/moneyrules/internal/advisor"
	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// AdviseRequest selects what the advisor looks at.
type AdviseRequest struct {
	// TransactionIDs pins the sample. Empty means "recent uncategorized".
	TransactionIDs []string `json:"transaction_ids,omitempty"`
	SampleLimit    int      `json:"sample_limit,omitempty"`
}

// AdviseResult is the drafted rule, ready to feed into the normal guarded
// rule save.
type AdviseResult struct {
	Draft      engine.Rule `json:"draft"`
	Confidence float64     `json:"confidence"`
	Rationale  string      `json:"rationale"`
	SampleSize int         `json:"sample_size"`
}

// AdvisorService gathers a transaction sample and asks a Provider to draft a
// rule. The draft is returned unvalidated and unsaved.
type AdvisorService struct {
	Provider     advisor.Provider
	Transactions *repository.TransactionRepo
	Categories   *repository.CategoryRepo
	Log          *log.Logger
}

// Suggest drafts one rule for the selected sample.
func (s *AdvisorService) Suggest(ctx context.Context, req AdviseRequest) (*AdviseResult, error) {
	if req.SampleLimit <= 0 {
		req.SampleLimit = 20
	}

	var txns []engine.Transaction
	var err error
	if len(req.TransactionIDs) > 0 {
		txns, err = s.Transactions.GetByIDs(ctx, req.TransactionIDs)
	} else {
		txns, err = s.Transactions.List(ctx, repository.TransactionFilters{
			OnlyUncategorized: true,
			Limit:             req.SampleLimit,
		})
	}
	if err != nil {
		return nil, err
	}
	if len(txns) > req.SampleLimit {
		txns = txns[:req.SampleLimit]
	}
	if len(txns) == 0 {
		return nil, &engine.ValidationError{Field: "transaction_ids", Message: "no transactions to advise on"}
	}

	cats, err := s.Categories.List(ctx)
	if err != nil {
		return nil, err
	}

	provReq := advisor.SuggestRequest{
		Transactions: make([]advisor.TransactionSample, 0, len(txns)),
		Categories:   make([]advisor.CategoryOption, 0, len(cats)),
	}
	for _, t := range txns {
		sample := advisor.TransactionSample{
			Description: t.Description,
			Amount:      t.Amount,
			Date:        t.Date.Format("2006-01-02"),
		}
		if t.Merchant != nil {
			sample.Merchant = *t.Merchant
		}
		provReq.Transactions = append(provReq.Transactions, sample)
	}
	for _, c := range cats {
		provReq.Categories = append(provReq.Categories, advisor.CategoryOption{ID: c.ID, Name: c.Name})
	}

	resp, err := s.Provider.SuggestRule(ctx, provReq)
	if err != nil {
		return nil, err
	}
	if resp.Conditions.Empty() {
		return nil, &engine.ValidationError{Field: "sample", Message: "advisor found no safe pattern: " + resp.Rationale}
	}

	result := &AdviseResult{
		Draft: engine.Rule{
			Name:       resp.Name,
			Conditions: resp.Conditions,
			Actions:    resp.Actions,
			Enabled:    true,
			Source:     engine.SourceManual,
		},
		Confidence: resp.Confidence,
		Rationale:  resp.Rationale,
		SampleSize: len(txns),
	}
	if s.Log != nil {
		s.Log.Info("advisor draft produced", "sample", len(txns), "confidence", resp.Confidence)
	}
	return result, nil
}
