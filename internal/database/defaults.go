package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

// SeedDefaults ensures a new database has an active ruleset and baseline
// categories. It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	var sets int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rule_sets`).Scan(&sets); err != nil {
		return err
	}
	if sets == 0 {
		_, err := db.ExecContext(ctx, `
		INSERT INTO rule_sets(id, name, description, active)
		VALUES(?, 'Default', 'Initial ruleset', 1)
		`, uuid.NewString())
		if err != nil {
			return err
		}
	} else {
		// Never zero active sets once one exists.
		var active int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rule_sets WHERE active = 1`).Scan(&active); err != nil {
			return err
		}
		if active == 0 {
			_, err := db.ExecContext(ctx, `
			UPDATE rule_sets SET active = 1
			WHERE id = (SELECT id FROM rule_sets ORDER BY created_at, id LIMIT 1)
			`)
			if err != nil {
				return err
			}
		}
	}

	var cats int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&cats); err != nil {
		return err
	}
	if cats > 0 {
		return nil
	}
	defaults := []string{
		"Income",
		"Groceries",
		"Restaurants",
		"Transport",
		"Shopping",
		"Utilities",
		"Subscriptions",
		"Savings",
		"Health",
		"Entertainment",
		"Internal Transfer",
	}
	for _, name := range defaults {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("cat:"+name)).String()
		if _, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO categories(id, name) VALUES(?, ?)
		`, id, name); err != nil {
			return err
		}
	}
	return nil
}
