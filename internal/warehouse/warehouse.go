package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Logical table names read by the dashboard.
const (
	TableAdFacts       = "Final_Ad_Data"
	TableAdFactsLast   = "Final_Ad_Data_Last"
	TableBanners       = "Banner_Drive_Ready"
	TableLPScore       = "LP_Score_Ready"
	TableUnitDrive     = "Unit_Drive_Ready_View"
	TableMarketMonthly = "Market_Monthly_Evaluated_View"
	TableKPIThresholds = "Target_Indicators_Meta"
	TableClients       = "ClientSettings"
	TableUnits         = "UnitMapping"
)

var (
	// ErrLoadFailure wraps any error returned by a warehouse backend.
	ErrLoadFailure = errors.New("warehouse load failure")
	// ErrSchemaMismatch is returned when a required column is absent.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// SchemaError names the table and the columns it lacks.
type SchemaError struct {
	Table   string
	Missing []string
}

// Error lists the missing columns.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch: table %s missing columns [%s]", e.Table, strings.Join(e.Missing, ", "))
}

// Is matches ErrSchemaMismatch.
func (e *SchemaError) Is(target error) bool { return target == ErrSchemaMismatch }

// Table is an untyped result set as returned by a backend.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Source reads whole logical tables from a warehouse.
type Source interface {
	Fetch(ctx context.Context, table string) (*Table, error)
	Close() error
}

// Ref returns the fully qualified, backtick-quoted table reference.
func Ref(project, dataset, table string) string {
	if project == "" {
		return fmt.Sprintf("`%s.%s`", dataset, table)
	}
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table)
}

func loadFailure(table string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLoadFailure, table, err)
}

// Retrying retries transient backend failures with exponential backoff.
type Retrying struct {
	Source
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
}

// NewRetrying wraps src. Attempts below one are treated as one; backoff is
// the first wait.
func NewRetrying(src Source, attempts int, backoff time.Duration, logger *zap.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrying{Source: src, Attempts: attempts, Backoff: backoff, Logger: logger}
}

// Fetch retries failed fetches up to Attempts times. Context cancellation
// and schema mismatches are returned without retrying.
func (r *Retrying) Fetch(ctx context.Context, table string) (*Table, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.Backoff
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.Attempts-1)), ctx)

	var out *Table
	op := func() error {
		t, err := r.Source.Fetch(ctx, table)
		switch {
		case err == nil:
			out = t
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrSchemaMismatch):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if r.Logger != nil {
			r.Logger.Warn("warehouse fetch failed, retrying",
				zap.String("table", table),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return out, nil
}
