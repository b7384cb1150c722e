package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/moneyrules/internal/engine"
)

// RuleSetRepo stores named rule collections and owns the single-active
// invariant.
type RuleSetRepo struct{ db *sql.DB }

func NewRuleSetRepo(db *sql.DB) *RuleSetRepo { return &RuleSetRepo{db: db} }

func (r *RuleSetRepo) Insert(ctx context.Context, s engine.RuleSet) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO rule_sets(id, name, description, active, created_at, updated_at)
	VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, s.ID, s.Name, s.Description, s.Active)
	return err
}

// InsertTx is Insert inside the caller's transaction.
func (r *RuleSetRepo) InsertTx(ctx context.Context, tx *sql.Tx, s engine.RuleSet) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO rule_sets(id, name, description, active, created_at, updated_at)
	VALUES(?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`, s.ID, s.Name, s.Description, s.Active)
	return err
}

func (r *RuleSetRepo) Get(ctx context.Context, id string) (engine.RuleSet, error) {
	var s engine.RuleSet
	err := r.db.QueryRowContext(ctx, `
	SELECT id, name, description, active, created_at, updated_at FROM rule_sets WHERE id = ?
	`, id).Scan(&s.ID, &s.Name, &s.Description, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *RuleSetRepo) List(ctx context.Context) ([]engine.RuleSet, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, name, description, active, created_at, updated_at
	FROM rule_sets ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.RuleSet
	for rows.Next() {
		var s engine.RuleSet
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ActiveID returns the id of the currently active set.
func (r *RuleSetRepo) ActiveID(ctx context.Context) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM rule_sets WHERE active = 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no active ruleset")
	}
	return id, err
}

// ActivateCAS atomically swaps the active set: the current active id must
// equal expectedActiveID or nothing changes and the fresh active id is
// returned with a ConcurrencyConflictError. An apply running concurrently
// either finishes against the snapshot it took or restarts against the new
// set; it never sees a mix.
func (r *RuleSetRepo) ActivateCAS(ctx context.Context, expectedActiveID, newID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var currentID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM rule_sets WHERE active = 1`).Scan(&currentID); err != nil {
		if err == sql.ErrNoRows {
			currentID = ""
		} else {
			return err
		}
	}
	if currentID != expectedActiveID {
		return &engine.ConcurrencyConflictError{
			ExpectedActiveID: expectedActiveID,
			ActualActiveID:   currentID,
		}
	}
	if currentID == newID {
		return tx.Commit()
	}
	if currentID != "" {
		if _, err := tx.ExecContext(ctx, `
		UPDATE rule_sets SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, currentID); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `
	UPDATE rule_sets SET active = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, newID)
	if err != nil {
		return err
	}
	if err := requireRowHit(res, "ruleset", newID); err != nil {
		return err
	}
	return tx.Commit()
}
