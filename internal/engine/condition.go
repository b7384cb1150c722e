package engine

import (
	"regexp"
	"strings"
)

// amountEpsilon absorbs float representation noise when comparing an exact
// amount condition against a transaction amount.
const amountEpsilon = 0.005

// CompiledConditions is a Conditions value with its regex operators compiled
// once, so batch evaluation does not recompile per transaction.
type CompiledConditions struct {
	Conditions Conditions

	descRe     *regexp.Regexp
	merchantRe *regexp.Regexp
	accountSet map[string]struct{}
}

// CompiledRule pairs a rule with its compiled conditions.
type CompiledRule struct {
	Rule       *Rule
	Conditions *CompiledConditions
}

// Compile prepares conditions for repeated evaluation. Invalid regex patterns
// return a ValidationError, never a silent non-match.
func Compile(c Conditions) (*CompiledConditions, error) {
	cc := &CompiledConditions{Conditions: c}
	var err error
	if cc.descRe, err = compileMatchRegex(c.Description, "conditions.description"); err != nil {
		return nil, err
	}
	if cc.merchantRe, err = compileMatchRegex(c.Merchant, "conditions.merchant"); err != nil {
		return nil, err
	}
	if len(c.AccountIDs) > 0 {
		cc.accountSet = make(map[string]struct{}, len(c.AccountIDs))
		for _, id := range c.AccountIDs {
			cc.accountSet[id] = struct{}{}
		}
	}
	return cc, nil
}

// CompileRules compiles every rule in the slice, failing on the first invalid
// rule so a broken rule cannot silently drop out of a batch.
func CompileRules(rules []Rule) ([]*CompiledRule, error) {
	out := make([]*CompiledRule, 0, len(rules))
	for i := range rules {
		cc, err := Compile(rules[i].Conditions)
		if err != nil {
			return nil, err
		}
		out = append(out, &CompiledRule{Rule: &rules[i], Conditions: cc})
	}
	return out, nil
}

func compileMatchRegex(m *StringMatch, field string) (*regexp.Regexp, error) {
	if m == nil || m.Operator != OpRegex {
		return nil, nil
	}
	pattern := m.Value
	if len(pattern) > maxRegexPattern {
		return nil, &ValidationError{Field: field, Message: "regex pattern too long"}
	}
	if !m.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &ValidationError{Field: field, Message: "invalid regex: " + err.Error()}
	}
	return re, nil
}

// Matches evaluates every present condition against the transaction. Present
// fields are ANDed; absent fields are wildcards.
func (cc *CompiledConditions) Matches(t Transaction) bool {
	c := cc.Conditions
	if c.Description != nil && !matchString(c.Description, cc.descRe, t.Description) {
		return false
	}
	if c.Merchant != nil {
		if t.Merchant == nil || !matchString(c.Merchant, cc.merchantRe, *t.Merchant) {
			return false
		}
	}
	if c.Amount != nil && !matchAmount(c.Amount, t.Amount) {
		return false
	}
	if !matchSign(c.AmountSign, t.Amount) {
		return false
	}
	if cc.accountSet != nil {
		if _, ok := cc.accountSet[t.AccountID]; !ok {
			return false
		}
	}
	if c.DateFrom != nil && t.Date.Before(*c.DateFrom) {
		return false
	}
	if c.DateTo != nil && t.Date.After(*c.DateTo) {
		return false
	}
	return true
}

func matchString(m *StringMatch, re *regexp.Regexp, field string) bool {
	value := m.Value
	if !m.CaseSensitive && m.Operator != OpRegex {
		field = strings.ToLower(field)
		value = strings.ToLower(value)
	}
	switch m.Operator {
	case OpEquals:
		return field == value
	case OpStartsWith:
		return strings.HasPrefix(field, value)
	case OpContains:
		if m.Semantics == SemanticsSubstring {
			return strings.Contains(field, value)
		}
		return TokenContains(field, value)
	case OpRegex:
		return re != nil && re.MatchString(field)
	}
	return false
}

// TokenContains reports whether needle occurs in haystack at token
// boundaries: the characters immediately before and after the occurrence must
// be absent or non-alphanumeric (ASCII letters and digits). This is a
// deliberately conservative boundary definition; "CAT" matches "CAT FOOD" and
// "MY-CAT" but not "CATALOG".
func TokenContains(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		beforeOK := start == 0 || !isWordByte(haystack[start-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func matchAmount(m *AmountMatch, amount float64) bool {
	abs := amount
	if abs < 0 {
		abs = -abs
	}
	if m.Exact != nil {
		diff := abs - *m.Exact
		if diff < 0 {
			diff = -diff
		}
		return diff <= amountEpsilon
	}
	if m.Min != nil && abs < *m.Min {
		return false
	}
	if m.Max != nil && abs > *m.Max {
		return false
	}
	return true
}

func matchSign(sign AmountSign, amount float64) bool {
	switch sign {
	case SignExpense:
		return amount < 0
	case SignIncome:
		return amount > 0
	default:
		return true
	}
}
