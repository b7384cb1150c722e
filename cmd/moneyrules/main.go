package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jask/moneyrules/internal/advisor"
	"github.com/jask/moneyrules/internal/config"
	"github.com/jask/moneyrules/internal/database"
	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
	"github.com/jask/moneyrules/internal/httpapi"
	"github.com/jask/moneyrules/internal/service"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "moneyrules",
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", "err", err)
	}
	if lvl, err := log.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.Log.Format == "json" {
		logger.SetFormatter(log.JSONFormatter)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Fatal("create data dir", "err", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatal("open database", "path", cfg.Database.Path, "err", err)
	}
	defer db.Close()
	if err := database.RunMigrations(db); err != nil {
		logger.Fatal("migrate", "err", err)
	}
	if err := database.SeedDefaults(context.Background(), db); err != nil {
		logger.Fatal("seed defaults", "err", err)
	}

	ruleRepo := repository.NewRuleRepo(db)
	ruleSetRepo := repository.NewRuleSetRepo(db)
	txnRepo := repository.NewTransactionRepo(db)
	tagRuleRepo := repository.NewTagRuleRepo(db)
	categoryRepo := repository.NewCategoryRepo(db)
	lintRepo := repository.NewLintReportRepo(db)

	guard := engine.GuardConfig{
		MaxMatchRatio: cfg.Engine.MaxMatchRatio,
		MaxMatchCount: cfg.Engine.MaxMatchCount,
		SampleLimit:   cfg.Engine.SampleLimit,
	}

	exportSvc := &service.ExportService{
		DB: db, Rules: ruleRepo, RuleSets: ruleSetRepo, Categories: categoryRepo, Log: logger,
	}
	services := httpapi.Services{
		Apply: &service.ApplyService{
			Rules: ruleRepo, RuleSets: ruleSetRepo, Transactions: txnRepo,
			TagRules: tagRuleRepo, DefaultWorkers: cfg.Engine.Workers, Log: logger,
		},
		Rules: &service.RuleService{
			Rules: ruleRepo, RuleSets: ruleSetRepo, Transactions: txnRepo,
			Guard: guard, Log: logger,
		},
		RuleSets: &service.RuleSetService{
			DB: db, Rules: ruleRepo, RuleSets: ruleSetRepo, Transactions: txnRepo, Log: logger,
		},
		Learn: &service.LearnService{
			Rules: ruleRepo, RuleSets: ruleSetRepo, Transactions: txnRepo,
			Exporter: exportSvc, BackupDir: cfg.Learn.BackupDir,
			Defaults: service.LearnOptions{
				MinSupport:    cfg.Learn.MinSupport,
				MinConfidence: cfg.Learn.MinConfidence,
				MaxMatchRatio: cfg.Learn.MaxMatchRatio,
			},
			Log: logger,
		},
		Lint: &service.LintService{
			Rules: ruleRepo, RuleSets: ruleSetRepo, Reports: lintRepo, Log: logger,
		},
		Explain: &service.ExplainService{
			Rules: ruleRepo, RuleSets: ruleSetRepo, Transactions: txnRepo,
			TagRules: tagRuleRepo, Log: logger,
		},
		Export:   exportSvc,
		TagRules: &httpapi.TagRuleHandlers{Repo: tagRuleRepo},
		Advisor: &service.AdvisorService{
			Provider:     advisorProvider(cfg, logger),
			Transactions: txnRepo,
			Categories:   categoryRepo,
			Log:          logger,
		},
		Ingest:      &service.IngestService{Transactions: txnRepo, Log: logger},
		Maintenance: &service.MaintenanceService{DB: db, Log: logger},
		Log:         logger,
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(services),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "db", cfg.Database.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func advisorProvider(cfg config.Config, logger *log.Logger) advisor.Provider {
	if cfg.Advisor.Provider == "gemini" {
		logger.Info("advisor: gemini", "model", cfg.Advisor.Model)
		return advisor.NewGemini(cfg.Advisor.Model)
	}
	logger.Info("advisor: heuristic")
	return advisor.NewHeuristic()
}
