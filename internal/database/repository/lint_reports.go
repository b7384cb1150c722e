package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// LintReportRepo persists lint runs when the caller asks for it.
type LintReportRepo struct{ db *sql.DB }

func NewLintReportRepo(db *sql.DB) *LintReportRepo { return &LintReportRepo{db: db} }

// StoredLintReport is a persisted lint run.
type StoredLintReport struct {
	ID        string
	Scope     string
	RiskScore int
	Report    json.RawMessage
	CreatedAt time.Time
}

func (r *LintReportRepo) Insert(ctx context.Context, id, scope string, riskScore int, report interface{}) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO lint_reports(id, scope, risk_score, report, created_at)
	VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, id, scope, riskScore, string(raw))
	return err
}

// Latest returns the most recent stored report for a scope, or sql.ErrNoRows.
func (r *LintReportRepo) Latest(ctx context.Context, scope string) (StoredLintReport, error) {
	var out StoredLintReport
	var raw string
	err := r.db.QueryRowContext(ctx, `
	SELECT id, scope, risk_score, report, created_at FROM lint_reports
	WHERE scope = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, scope).Scan(&out.ID, &out.Scope, &out.RiskScore, &raw, &out.CreatedAt)
	if err != nil {
		return out, err
	}
	out.Report = json.RawMessage(raw)
	return out, nil
}
