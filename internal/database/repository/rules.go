package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/engine"
)

// RuleScope selects a subset of rules by source.
type RuleScope string

const (
	ScopeAll     RuleScope = "all"
	ScopeManual  RuleScope = "manual"
	ScopeLearned RuleScope = "learned"
)

// RuleRepo stores categorization rules. Conditions and actions are stored as
// JSON columns; behavior fields are scalar so ordering and counting stay in
// SQL.
type RuleRepo struct{ db *sql.DB }

func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

const ruleColumns = `id, rule_set_id, name, conditions, actions, priority, enabled,
 stop_processing, protected, source, confidence, created_at, updated_at`

func (r *RuleRepo) Insert(ctx context.Context, rule engine.Rule) error {
	conditions, actions, err := marshalRule(rule)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO rules(id, rule_set_id, name, conditions, actions, priority, enabled,
	 stop_processing, protected, source, confidence, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, rule.ID, rule.RuleSetID, rule.Name, conditions, actions, rule.Priority, rule.Enabled,
		rule.StopProcessing, rule.Protected, rule.Source, rule.Confidence)
	return err
}

func (r *RuleRepo) Update(ctx context.Context, rule engine.Rule) error {
	conditions, actions, err := marshalRule(rule)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
	UPDATE rules SET name = ?, conditions = ?, actions = ?, priority = ?, enabled = ?,
	 stop_processing = ?, protected = ?, source = ?, confidence = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ?
	`, rule.Name, conditions, actions, rule.Priority, rule.Enabled,
		rule.StopProcessing, rule.Protected, rule.Source, rule.Confidence, rule.ID)
	if err != nil {
		return err
	}
	return requireRowHit(res, "rule", rule.ID)
}

func (r *RuleRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowHit(res, "rule", id)
}

func (r *RuleRepo) Get(ctx context.Context, id string) (engine.Rule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id)
	return scanRule(row)
}

// ListBySet returns a ruleset's rules already in resolution order: priority
// descending, rule id ascending.
func (r *RuleRepo) ListBySet(ctx context.Context, ruleSetID string, onlyEnabled bool) ([]engine.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_set_id = ?`
	if onlyEnabled {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY priority DESC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, ruleSetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListByScope returns rules from a set filtered by source scope.
func (r *RuleRepo) ListByScope(ctx context.Context, ruleSetID string, scope RuleScope) ([]engine.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_set_id = ?`
	args := []interface{}{ruleSetID}
	switch scope {
	case ScopeAll, "":
	case ScopeManual, ScopeLearned:
		query += ` AND source = ?`
		args = append(args, string(scope))
	default:
		return nil, fmt.Errorf("unknown rule scope %q", scope)
	}
	query += ` ORDER BY priority DESC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

func (r *RuleRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE rules SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, enabled, id)
	if err != nil {
		return err
	}
	return requireRowHit(res, "rule", id)
}

// DisableLearned disables the given learned rules. Manual rules are never
// touched even if their ids are passed.
func (r *RuleRepo) DisableLearned(ctx context.Context, ruleSetID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, ruleSetID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := r.db.ExecContext(ctx, `
	UPDATE rules SET enabled = 0, updated_at = CURRENT_TIMESTAMP
	WHERE rule_set_id = ? AND source = 'learned' AND id IN (`+placeholders+`)
	`, args...)
	return err
}

// CopyInto deep-copies rules from one set into another with fresh ids, inside
// the caller's transaction. When onlyProtected is set, generated/learned
// rules are left behind and only protected or manual rules travel.
func (r *RuleRepo) CopyInto(ctx context.Context, tx *sql.Tx, fromSetID, toSetID string, onlyProtected bool) (int, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_set_id = ?`
	if onlyProtected {
		query += ` AND (protected = 1 OR source = 'manual')`
	}
	query += ` ORDER BY priority DESC, id ASC`
	rows, err := tx.QueryContext(ctx, query, fromSetID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	rules, err := scanRules(rows)
	if err != nil {
		return 0, err
	}

	for i := range rules {
		rules[i].ID = uuid.NewString()
		rules[i].RuleSetID = toSetID
		conditions, actions, err := marshalRule(rules[i])
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO rules(id, rule_set_id, name, conditions, actions, priority, enabled,
		 stop_processing, protected, source, confidence, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		`, rules[i].ID, toSetID, rules[i].Name, conditions, actions, rules[i].Priority,
			rules[i].Enabled, rules[i].StopProcessing, rules[i].Protected,
			rules[i].Source, rules[i].Confidence); err != nil {
			return 0, err
		}
	}
	return len(rules), nil
}

// DeleteByScope removes a source scope from a set inside the caller's
// transaction. Used by import's replace mode.
func (r *RuleRepo) DeleteByScope(ctx context.Context, tx *sql.Tx, ruleSetID string, scope RuleScope) (int, error) {
	query := `DELETE FROM rules WHERE rule_set_id = ?`
	args := []interface{}{ruleSetID}
	switch scope {
	case ScopeAll, "":
	case ScopeManual, ScopeLearned:
		query += ` AND source = ?`
		args = append(args, string(scope))
	default:
		return 0, fmt.Errorf("unknown rule scope %q", scope)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InsertTx is Insert inside the caller's transaction.
func (r *RuleRepo) InsertTx(ctx context.Context, tx *sql.Tx, rule engine.Rule) error {
	conditions, actions, err := marshalRule(rule)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
	INSERT INTO rules(id, rule_set_id, name, conditions, actions, priority, enabled,
	 stop_processing, protected, source, confidence, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, rule.ID, rule.RuleSetID, rule.Name, conditions, actions, rule.Priority, rule.Enabled,
		rule.StopProcessing, rule.Protected, rule.Source, rule.Confidence)
	return err
}

// CountsBySet computes the derived per-set counters in one pass.
func (r *RuleRepo) CountsBySet(ctx context.Context) (map[string]engine.RuleSetCounts, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT rule_set_id,
	       COUNT(*),
	       SUM(enabled),
	       SUM(CASE WHEN source = 'manual' THEN 1 ELSE 0 END),
	       SUM(protected),
	       SUM(CASE WHEN source = 'learned' THEN 1 ELSE 0 END)
	FROM rules GROUP BY rule_set_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]engine.RuleSetCounts{}
	for rows.Next() {
		var setID string
		var c engine.RuleSetCounts
		if err := rows.Scan(&setID, &c.Rules, &c.Enabled, &c.Manual, &c.Protected, &c.Learned); err != nil {
			return nil, err
		}
		out[setID] = c
	}
	return out, rows.Err()
}

func marshalRule(rule engine.Rule) (string, string, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("marshal conditions: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshal actions: %w", err)
	}
	return string(conditions), string(actions), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (engine.Rule, error) {
	var rule engine.Rule
	var conditions, actions string
	err := row.Scan(&rule.ID, &rule.RuleSetID, &rule.Name, &conditions, &actions,
		&rule.Priority, &rule.Enabled, &rule.StopProcessing, &rule.Protected,
		&rule.Source, &rule.Confidence, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return engine.Rule{}, err
	}
	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return engine.Rule{}, fmt.Errorf("rule %s: unmarshal conditions: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return engine.Rule{}, fmt.Errorf("rule %s: unmarshal actions: %w", rule.ID, err)
	}
	return rule, nil
}

func scanRules(rows *sql.Rows) ([]engine.Rule, error) {
	var out []engine.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func requireRowHit(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, sql.ErrNoRows)
	}
	return nil
}
