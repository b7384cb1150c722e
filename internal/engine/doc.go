// Package engine is the pure evaluation core of the categorization rule
// engine: condition matching, ordered resolution with first-writer-wins
// action merging, rule validation, and the broad-match guard arithmetic.
//
// Nothing in this package touches storage or mutates a transaction.
// Evaluation is stateless; the same (rule list, transaction) pair always
// resolves to the same outcome regardless of worker scheduling, which is what
// lets the apply engine fan out per-transaction work freely.
package engine
