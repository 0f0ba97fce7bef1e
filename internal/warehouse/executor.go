package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/MbohBless/data-test/internal/observability"
)

type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureQuery      FailureKind = "query"
)

// ExecError carries enough structure for the caller to decide whether
// the failure is a property of the SQL (worth regenerating) or of the
// environment.
type ExecError struct {
	Kind   FailureKind
	Detail string
	cause  error
}

func (e *ExecError) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

func (e *ExecError) Unwrap() error {
	return e.cause
}

// Outcome is the materialized result of one statement.
type Outcome struct {
	Columns  []string
	Rows     []map[string]any
	RowCount int
	Elapsed  time.Duration
	Summary  map[string]ColumnSummary
}

// ColumnSummary is a small per-column profile shipped alongside the
// rows so the evaluation step can judge sufficiency without the full
// result set.
type ColumnSummary struct {
	Nulls    int      `json:"nulls"`
	Distinct int      `json:"distinct,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Mean     *float64 `json:"mean,omitempty"`
}

// Executor runs verified statements inside a read-only transaction.
// It never mutates warehouse state; the transaction is always rolled
// back.
type Executor struct {
	db       *sql.DB
	readOnly bool
}

func NewExecutor(db *sql.DB, readOnly bool) *Executor {
	return &Executor{db: db, readOnly: readOnly}
}

func (e *Executor) Execute(ctx context.Context, sqlText string, timeout time.Duration) (Outcome, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: e.readOnly})
	if err != nil {
		return Outcome{}, classify(ctx, err, FailureConnection)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return Outcome{}, classify(ctx, err, FailureQuery)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Outcome{}, classify(ctx, err, FailureQuery)
	}

	var materialized []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for index := range values {
			targets[index] = &values[index]
		}
		if err := rows.Scan(targets...); err != nil {
			return Outcome{}, classify(ctx, err, FailureQuery)
		}
		row := make(map[string]any, len(columns))
		for index, column := range columns {
			row[column] = normalizeValue(values[index])
		}
		materialized = append(materialized, row)
	}
	if err := rows.Err(); err != nil {
		return Outcome{}, classify(ctx, err, FailureQuery)
	}

	elapsed := time.Since(start)
	observability.ObserveQueryExecution(elapsed)

	return Outcome{
		Columns:  columns,
		Rows:     materialized,
		RowCount: len(materialized),
		Elapsed:  elapsed,
		Summary:  summarize(columns, materialized),
	}, nil
}

func classify(ctx context.Context, err error, fallback FailureKind) *ExecError {
	kind := fallback
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = FailureTimeout
	case errors.Is(err, driver.ErrBadConn):
		kind = FailureConnection
	}
	return &ExecError{Kind: kind, Detail: err.Error(), cause: err}
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return value
	}
}

func summarize(columns []string, rows []map[string]any) map[string]ColumnSummary {
	if len(rows) == 0 {
		return nil
	}
	summaries := make(map[string]ColumnSummary, len(columns))
	for _, column := range columns {
		summaries[column] = summarizeColumn(column, rows)
	}
	return summaries
}

func summarizeColumn(column string, rows []map[string]any) ColumnSummary {
	var summary ColumnSummary
	var (
		numericCount   int
		sum, low, high float64
	)
	distinct := map[string]struct{}{}
	for _, row := range rows {
		value := row[column]
		if value == nil {
			summary.Nulls++
			continue
		}
		if number, ok := asFloat(value); ok {
			if numericCount == 0 || number < low {
				low = number
			}
			if numericCount == 0 || number > high {
				high = number
			}
			sum += number
			numericCount++
			continue
		}
		if text, ok := value.(string); ok {
			distinct[text] = struct{}{}
		}
	}
	if numericCount > 0 {
		mean := sum / float64(numericCount)
		summary.Min = &low
		summary.Max = &high
		summary.Mean = &mean
	}
	if len(distinct) > 0 {
		summary.Distinct = len(distinct)
	}
	return summary
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	default:
		return 0, false
	}
}
