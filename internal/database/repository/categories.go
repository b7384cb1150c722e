package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Category is a category row. Category CRUD is an external concern; the
// engine only reads names and creates missing ones during rule import.
type Category struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type CategoryRepo struct{ db *sql.DB }

func NewCategoryRepo(db *sql.DB) *CategoryRepo { return &CategoryRepo{db: db} }

func (r *CategoryRepo) List(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CategoryRepo) Get(ctx context.Context, id string) (Category, error) {
	var c Category
	err := r.db.QueryRowContext(ctx, `
	SELECT id, name, created_at FROM categories WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	return c, err
}

// EnsureByName returns the category with the given name, creating it when
// missing. Created reports whether a new row was inserted.
func (r *CategoryRepo) EnsureByName(ctx context.Context, tx *sql.Tx, name string) (id string, created bool, err error) {
	err = tx.QueryRowContext(ctx, `SELECT id FROM categories WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, err
	}
	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `INSERT INTO categories(id, name) VALUES(?, ?)`, id, name)
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}
