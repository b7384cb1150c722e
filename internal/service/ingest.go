package service

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jask/moneyrules/internal/database/repository"
	"github.com/jask/moneyrules/internal/engine"
)

// IngestService loads transactions from CSV so the engine has a corpus to
// run against.
type IngestService struct {
	Transactions *repository.TransactionRepo
	Log          *log.Logger
}

// IngestResult reports what a CSV load did.
type IngestResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// ImportCSV reads rows of: date, description, merchant, amount, account_id.
// Merchant may be empty. Amount is signed dollars. A header row is detected
// and skipped. Malformed rows are collected, not fatal.
func (s *IngestService) ImportCSV(ctx context.Context, r io.Reader) (IngestResult, error) {
	res := IngestResult{}
	csvr := csv.NewReader(bufio.NewReader(r))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1

	line := 0
	for {
		line++
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rec, err := csvr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(rec) < 5 {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: expected 5 columns (date, description, merchant, amount, account_id)", line))
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "date") {
			continue
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[0]))
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d date: %v", line, err))
			continue
		}
		amount, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d amount: %v", line, err))
			continue
		}
		desc := strings.TrimSpace(rec[1])
		accountID := strings.TrimSpace(rec[4])
		if desc == "" || accountID == "" {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: description and account_id are required", line))
			continue
		}

		t := engine.Transaction{
			ID:          uuid.NewString(),
			Date:        date,
			Description: desc,
			Amount:      amount,
			AccountID:   accountID,
		}
		if m := strings.TrimSpace(rec[2]); m != "" {
			t.Merchant = &m
		}
		if err := s.Transactions.Insert(ctx, t); err != nil {
			res.Skipped++
			res.Errors = append(res.Errors, fmt.Sprintf("line %d insert: %v", line, err))
			continue
		}
		res.Imported++
	}
	if s.Log != nil {
		s.Log.Info("csv ingest", "imported", res.Imported, "skipped", res.Skipped)
	}
	return res, nil
}
