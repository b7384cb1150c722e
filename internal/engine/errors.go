package engine

import (
	"errors"
	"fmt"
)

// ValidationError rejects a rule before any evaluation happens: missing
// conditions, an invalid regex, or an empty action set.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Message)
	}
	return "invalid rule: " + e.Message
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ForceRequiredError is not a failure: the broad-match guard tripped and the
// caller must resubmit with the confirm token to persist anyway.
type ForceRequiredError struct {
	Preview      *GuardPreview
	ConfirmToken string
}

func (e *ForceRequiredError) Error() string {
	return fmt.Sprintf("rule matches %d of %d transactions (%.1f%%); force required",
		e.Preview.MatchCount, e.Preview.TotalCount, e.Preview.MatchRatio*100)
}

// IsForceRequired reports whether err is (or wraps) a ForceRequiredError.
func IsForceRequired(err error) bool {
	var fe *ForceRequiredError
	return errors.As(err, &fe)
}

// ConcurrencyConflictError signals a lost ruleset activation race. The caller
// must re-read the active id and retry.
type ConcurrencyConflictError struct {
	ExpectedActiveID string
	ActualActiveID   string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("active ruleset changed (expected %s, now %s); retry against the fresh id",
		e.ExpectedActiveID, e.ActualActiveID)
}

// RowFailure records one transaction the batch apply could not persist.
type RowFailure struct {
	TransactionID string `json:"transaction_id"`
	Err           string `json:"error"`
}

// PartialApplyError means the batch finished but some rows failed. Successful
// counts are reported alongside the per-row failures; the batch is not rolled
// back.
type PartialApplyError struct {
	Failures []RowFailure
}

func (e *PartialApplyError) Error() string {
	return fmt.Sprintf("apply completed with %d row failures", len(e.Failures))
}

// ImportFormatError reports a malformed import file with row context. Import
// is all-or-nothing per file.
type ImportFormatError struct {
	Row     int
	Message string
}

func (e *ImportFormatError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("import: row %d: %s", e.Row, e.Message)
	}
	return "import: " + e.Message
}
