package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/jask/moneyrules/internal/database"
)

// MaintenanceService houses destructive ops actions.
type MaintenanceService struct {
	DB  *sql.DB
	Log *log.Logger
}

// Reset wipes all user data. It keeps the schema intact so the server can
// continue running; defaults must be reseeded by the caller.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"lint_reports",
			"transaction_tags",
			"tag_rules",
			"transactions",
			"rules",
			"rule_sets",
			"categories",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	if err := database.SeedDefaults(ctx, s.DB); err != nil {
		return fmt.Errorf("reseed defaults: %w", err)
	}
	if s.Log != nil {
		s.Log.Warn("database reset")
	}
	return nil
}
