package engine

// maxRegexPattern caps user-supplied regex size. Go's regexp is RE2 (linear
// time), so the remaining sandboxing concern is pattern bloat.
const maxRegexPattern = 512

// ValidateRule rejects structurally broken rules before any evaluation. A
// rule must carry at least one condition and at least one action; regex
// conditions must compile.
func ValidateRule(r Rule) error {
	// An amount-sign filter alone would match roughly half the corpus, so
	// it does not count as a condition on its own.
	if r.Conditions.Empty() {
		return &ValidationError{Field: "conditions", Message: "rule has no conditions"}
	}
	if r.Actions.Empty() {
		return &ValidationError{Field: "actions", Message: "rule has no actions"}
	}
	if err := validateStringMatch(r.Conditions.Description, "conditions.description"); err != nil {
		return err
	}
	if err := validateStringMatch(r.Conditions.Merchant, "conditions.merchant"); err != nil {
		return err
	}
	if err := validateAmount(r.Conditions.Amount); err != nil {
		return err
	}
	switch r.Conditions.AmountSign {
	case "", SignAny, SignExpense, SignIncome:
	default:
		return &ValidationError{Field: "conditions.amount_sign", Message: "unknown amount sign"}
	}
	if r.Conditions.DateFrom != nil && r.Conditions.DateTo != nil &&
		r.Conditions.DateTo.Before(*r.Conditions.DateFrom) {
		return &ValidationError{Field: "conditions.date_to", Message: "date range ends before it starts"}
	}
	if t := r.Actions.Tags; t != nil {
		switch t.Mode {
		case TagAppend, TagReplace, TagRemove:
		default:
			return &ValidationError{Field: "actions.tags.mode", Message: "unknown tag mode"}
		}
		if t.Mode != TagReplace && len(t.Values) == 0 {
			return &ValidationError{Field: "actions.tags.values", Message: "tag action has no values"}
		}
	}
	switch r.Source {
	case SourceManual, SourceLearned:
	default:
		return &ValidationError{Field: "source", Message: "unknown rule source"}
	}
	// Compile catches invalid regex patterns.
	if _, err := Compile(r.Conditions); err != nil {
		return err
	}
	return nil
}

func validateStringMatch(m *StringMatch, field string) error {
	if m == nil {
		return nil
	}
	switch m.Operator {
	case OpContains, OpStartsWith, OpEquals, OpRegex:
	default:
		return &ValidationError{Field: field, Message: "unknown operator"}
	}
	if m.Value == "" {
		return &ValidationError{Field: field, Message: "empty match value"}
	}
	switch m.Semantics {
	case "", SemanticsToken, SemanticsSubstring:
	default:
		return &ValidationError{Field: field, Message: "unknown match semantics"}
	}
	return nil
}

func validateAmount(m *AmountMatch) error {
	if m == nil {
		return nil
	}
	if m.Exact != nil && (m.Min != nil || m.Max != nil) {
		return &ValidationError{Field: "conditions.amount", Message: "exact and min/max are mutually exclusive"}
	}
	if m.Exact == nil && m.Min == nil && m.Max == nil {
		return &ValidationError{Field: "conditions.amount", Message: "amount condition has no bounds"}
	}
	if m.Min != nil && m.Max != nil && *m.Max < *m.Min {
		return &ValidationError{Field: "conditions.amount", Message: "max is below min"}
	}
	for _, v := range []*float64{m.Exact, m.Min, m.Max} {
		if v != nil && *v < 0 {
			return &ValidationError{Field: "conditions.amount", Message: "amount bounds are absolute values, must be non-negative"}
		}
	}
	return nil
}
