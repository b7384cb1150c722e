package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jask/moneyrules/internal/database"
	"github.com/jask/moneyrules/internal/engine"
)

// TransactionFilters defines list filters. Zero values are wildcards.
type TransactionFilters struct {
	AccountIDs         []string
	OnlyUncategorized  bool
	SkipTransfers      bool
	SkipExcluded       bool
	ExcludeCategoryIDs []string
	CategorySource     string
	CreatedFrom        *time.Time
	CreatedTo          *time.Time
	Limit              int
	Offset             int
}

// TransactionUpdate carries the per-row diff the apply engine persists. Nil
// pointers leave a field untouched; Tags nil leaves the tag set alone,
// non-nil replaces it wholesale with the resolved set.
type TransactionUpdate struct {
	ID             string
	CategoryID     *string
	CategorySource string
	Merchant       *string
	IsIncome       *bool
	Exclude        *bool
	Tags           []string
	TagsChanged    bool
}

// TransactionRepo reads the external transaction store and persists resolved
// outcomes. The engine only ever writes through ApplyUpdate.
type TransactionRepo struct{ db *sql.DB }

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const txnColumns = `id, account_id, date, description, merchant, amount, category_id,
 is_income, exclude_from_totals, reviewed, is_transfer, category_source, created_at`

func (r *TransactionRepo) Insert(ctx context.Context, t engine.Transaction) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO transactions(id, account_id, date, description, merchant, amount, category_id,
	 is_income, exclude_from_totals, reviewed, is_transfer, category_source, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, t.ID, t.AccountID, t.Date, t.Description, t.Merchant, t.Amount, t.CategoryID,
		t.IsIncome, t.ExcludeFromTotals, t.Reviewed, t.IsTransfer, t.CategorySource)
	if err != nil {
		return err
	}
	for _, tag := range t.Tags {
		if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO transaction_tags(transaction_id, tag) VALUES(?, ?)
		`, t.ID, tag); err != nil {
			return err
		}
	}
	return nil
}

func (r *TransactionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n)
	return n, err
}

// List returns transactions in deterministic order (date, then id) with their
// tag sets attached.
func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]engine.Transaction, error) {
	var where []string
	var args []interface{}

	if len(f.AccountIDs) > 0 {
		where = append(where, `account_id IN (`+placeholders(len(f.AccountIDs))+`)`)
		for _, id := range f.AccountIDs {
			args = append(args, id)
		}
	}
	if f.OnlyUncategorized {
		where = append(where, `category_id IS NULL`)
	}
	if f.SkipTransfers {
		where = append(where, `is_transfer = 0`)
	}
	if f.SkipExcluded {
		where = append(where, `exclude_from_totals = 0`)
	}
	if len(f.ExcludeCategoryIDs) > 0 {
		where = append(where, `(category_id IS NULL OR category_id NOT IN (`+placeholders(len(f.ExcludeCategoryIDs))+`))`)
		for _, id := range f.ExcludeCategoryIDs {
			args = append(args, id)
		}
	}
	if f.CategorySource != "" {
		where = append(where, `category_source = ?`)
		args = append(args, f.CategorySource)
	}
	if f.CreatedFrom != nil {
		where = append(where, `created_at >= ?`)
		args = append(args, *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		where = append(where, `created_at <= ?`)
		args = append(args, *f.CreatedTo)
	}

	query := `SELECT ` + txnColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY date, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	return r.attachTags(ctx, out)
}

// GetByIDs returns the requested transactions in input order; missing ids are
// simply absent from the result.
func (r *TransactionRepo) GetByIDs(ctx context.Context, ids []string) ([]engine.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+txnColumns+` FROM transactions WHERE id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	found, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	found, err = r.attachTags(ctx, found)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]engine.Transaction, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	out := make([]engine.Transaction, 0, len(found))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// ApplyUpdate persists one resolved diff transactionally. Each row gets its
// own transaction so a failure is contained to that row.
func (r *TransactionRepo) ApplyUpdate(ctx context.Context, u TransactionUpdate) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if u.CategoryID != nil || u.CategorySource != "" {
			if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET category_id = ?, category_source = ? WHERE id = ?
			`, u.CategoryID, u.CategorySource, u.ID); err != nil {
				return err
			}
		}
		if u.Merchant != nil {
			if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET merchant = ? WHERE id = ?
			`, u.Merchant, u.ID); err != nil {
				return err
			}
		}
		if u.IsIncome != nil {
			if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET is_income = ? WHERE id = ?
			`, u.IsIncome, u.ID); err != nil {
				return err
			}
		}
		if u.Exclude != nil {
			if _, err := tx.ExecContext(ctx, `
			UPDATE transactions SET exclude_from_totals = ? WHERE id = ?
			`, u.Exclude, u.ID); err != nil {
				return err
			}
		}
		if u.TagsChanged {
			if _, err := tx.ExecContext(ctx, `
			DELETE FROM transaction_tags WHERE transaction_id = ?
			`, u.ID); err != nil {
				return err
			}
			for _, tag := range u.Tags {
				if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO transaction_tags(transaction_id, tag) VALUES(?, ?)
				`, u.ID, tag); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ClearCategory reverts a transaction to uncategorized.
func (r *TransactionRepo) ClearCategory(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE transactions SET category_id = NULL, category_source = '' WHERE id = ?
	`, id)
	return err
}

func (r *TransactionRepo) attachTags(ctx context.Context, txns []engine.Transaction) ([]engine.Transaction, error) {
	if len(txns) == 0 {
		return txns, nil
	}
	ids := make([]interface{}, len(txns))
	for i, t := range txns {
		ids[i] = t.ID
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT transaction_id, tag FROM transaction_tags
	WHERE transaction_id IN (`+placeholders(len(ids))+`)
	ORDER BY transaction_id, tag
	`, ids...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tagsByID := map[string][]string{}
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, err
		}
		tagsByID[id] = append(tagsByID[id], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range txns {
		txns[i].Tags = tagsByID[txns[i].ID]
	}
	return txns, nil
}

func scanTransactions(rows *sql.Rows) ([]engine.Transaction, error) {
	var out []engine.Transaction
	for rows.Next() {
		var t engine.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Date, &t.Description, &t.Merchant,
			&t.Amount, &t.CategoryID, &t.IsIncome, &t.ExcludeFromTotals, &t.Reviewed,
			&t.IsTransfer, &t.CategorySource, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
