package repository

import (
	"context"
	"database/sql"

	"github.com/jask/moneyrules/internal/engine"
)

// TagRuleRepo stores the legacy keyword→tag rules. They live in their own
// priority space and are evaluated additively after the primary engine.
type TagRuleRepo struct{ db *sql.DB }

func NewTagRuleRepo(db *sql.DB) *TagRuleRepo { return &TagRuleRepo{db: db} }

func (r *TagRuleRepo) Insert(ctx context.Context, tr engine.TagRule) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO tag_rules(id, keyword, tag, priority, enabled, case_sensitive, created_at)
	VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, tr.ID, tr.Keyword, tr.Tag, tr.Priority, tr.Enabled, tr.CaseSensitive)
	return err
}

func (r *TagRuleRepo) Update(ctx context.Context, tr engine.TagRule) error {
	res, err := r.db.ExecContext(ctx, `
	UPDATE tag_rules SET keyword = ?, tag = ?, priority = ?, enabled = ?, case_sensitive = ?
	WHERE id = ?
	`, tr.Keyword, tr.Tag, tr.Priority, tr.Enabled, tr.CaseSensitive, tr.ID)
	if err != nil {
		return err
	}
	return requireRowHit(res, "tag rule", tr.ID)
}

func (r *TagRuleRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tag_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowHit(res, "tag rule", id)
}

// List returns tag rules ordered by their own priority space (descending,
// ties by id).
func (r *TagRuleRepo) List(ctx context.Context, onlyEnabled bool) ([]engine.TagRule, error) {
	query := `SELECT id, keyword, tag, priority, enabled, case_sensitive, created_at FROM tag_rules`
	if onlyEnabled {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY priority DESC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.TagRule
	for rows.Next() {
		var tr engine.TagRule
		if err := rows.Scan(&tr.ID, &tr.Keyword, &tr.Tag, &tr.Priority, &tr.Enabled,
			&tr.CaseSensitive, &tr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
