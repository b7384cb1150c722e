package engine

import "time"

// StringOperator selects how a string condition compares against a field.
type StringOperator string

const (
	OpContains   StringOperator = "contains"
	OpStartsWith StringOperator = "starts_with"
	OpEquals     StringOperator = "equals"
	OpRegex      StringOperator = "regex"
)

// MatchSemantics controls how a contains condition treats token boundaries.
type MatchSemantics string

const (
	// SemanticsToken constrains contains matches to token boundaries.
	// This is the safe default, especially for learned rules.
	SemanticsToken MatchSemantics = "token"
	// SemanticsSubstring allows unconstrained substring matches. Opt-in;
	// the guard and linter treat it as higher risk.
	SemanticsSubstring MatchSemantics = "substring"
)

// AmountSign filters by the sign of the raw (signed) transaction amount.
type AmountSign string

const (
	SignAny     AmountSign = "any"
	SignExpense AmountSign = "expense"
	SignIncome  AmountSign = "income"
)

// TagMode selects how a tag action combines with the transaction's tags.
type TagMode string

const (
	TagAppend  TagMode = "append"
	TagReplace TagMode = "replace"
	TagRemove  TagMode = "remove"
)

// RuleSource records how a rule came to exist.
type RuleSource string

const (
	SourceManual  RuleSource = "manual"
	SourceLearned RuleSource = "learned"
)

// StringMatch is one string condition against a transaction field.
type StringMatch struct {
	Operator      StringOperator `json:"operator"`
	Value         string         `json:"value"`
	CaseSensitive bool           `json:"case_sensitive"`
	Semantics     MatchSemantics `json:"semantics,omitempty"`
}

// AmountMatch constrains the transaction's absolute amount. Exactly one of
// Exact or Min/Max may be set; Min and Max are inclusive.
type AmountMatch struct {
	Exact *float64 `json:"exact,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// Conditions is the ANDed set of conditions on a rule. Nil/empty fields are
// wildcards. A rule with nothing set is invalid.
type Conditions struct {
	Description *StringMatch `json:"description,omitempty"`
	Merchant    *StringMatch `json:"merchant,omitempty"`
	Amount      *AmountMatch `json:"amount,omitempty"`
	AmountSign  AmountSign   `json:"amount_sign,omitempty"`
	AccountIDs  []string     `json:"account_ids,omitempty"`
	DateFrom    *time.Time   `json:"date_from,omitempty"`
	DateTo      *time.Time   `json:"date_to,omitempty"`
}

// Empty reports whether no condition field is present.
func (c Conditions) Empty() bool {
	return c.Description == nil && c.Merchant == nil && c.Amount == nil &&
		len(c.AccountIDs) == 0 && c.DateFrom == nil && c.DateTo == nil
}

// TagAction mutates the transaction's tag set.
type TagAction struct {
	Mode   TagMode  `json:"mode"`
	Values []string `json:"values"`
}

// Actions are applied when a rule's conditions match.
type Actions struct {
	SetCategoryID        *string    `json:"set_category_id,omitempty"`
	Tags                 *TagAction `json:"tags,omitempty"`
	SetMerchantName      *string    `json:"set_merchant_name,omitempty"`
	SetIsIncome          *bool      `json:"set_is_income,omitempty"`
	SetExcludeFromTotals *bool      `json:"set_exclude_from_totals,omitempty"`
}

// Empty reports whether no action field is present.
func (a Actions) Empty() bool {
	return a.SetCategoryID == nil && a.Tags == nil && a.SetMerchantName == nil &&
		a.SetIsIncome == nil && a.SetExcludeFromTotals == nil
}

// Rule is one ordered condition→action record.
type Rule struct {
	ID             string     `json:"id"`
	RuleSetID      string     `json:"rule_set_id"`
	Name           string     `json:"name,omitempty"`
	Conditions     Conditions `json:"conditions"`
	Actions        Actions    `json:"actions"`
	Priority       int        `json:"priority"`
	Enabled        bool       `json:"enabled"`
	StopProcessing bool       `json:"stop_processing"`
	Protected      bool       `json:"protected"`
	Source         RuleSource `json:"source"`
	Confidence     *float64   `json:"confidence,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RuleSet is a named, versioned collection of rules. Exactly one set is
// active at a time.
type RuleSet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RuleSetCounts are derived per-set statistics.
type RuleSetCounts struct {
	Rules     int `json:"rules"`
	Enabled   int `json:"enabled"`
	Manual    int `json:"manual"`
	Protected int `json:"protected"`
	Learned   int `json:"learned"`
}

// Transaction is the engine's read view of a transaction row. Amounts are
// signed (expense negative, income positive) and arrive pre-normalized.
type Transaction struct {
	ID                string    `json:"id"`
	Date              time.Time `json:"date"`
	Description       string    `json:"description"`
	Merchant          *string   `json:"merchant,omitempty"`
	Amount            float64   `json:"amount"`
	AccountID         string    `json:"account_id"`
	CategoryID        *string   `json:"category_id,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	IsIncome          bool      `json:"is_income"`
	ExcludeFromTotals bool      `json:"exclude_from_totals"`
	Reviewed          bool      `json:"reviewed"`
	IsTransfer        bool      `json:"is_transfer"`
	CategorySource    string    `json:"category_source,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// TagRule is a legacy keyword→tag record. It lives in its own priority space
// and only ever appends tags; it never sets a category.
type TagRule struct {
	ID            string    `json:"id"`
	Keyword       string    `json:"keyword"`
	Tag           string    `json:"tag"`
	Priority      int       `json:"priority"`
	Enabled       bool      `json:"enabled"`
	CaseSensitive bool      `json:"case_sensitive"`
	CreatedAt     time.Time `json:"created_at"`
}
