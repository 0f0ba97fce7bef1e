package warehouse

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestExecuteMaterializesRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	statement := `SELECT region, total FROM orders LIMIT 3`
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statement)).WillReturnRows(
		sqlmock.NewRows([]string{"region", "total"}).
			AddRow([]byte("north"), int64(120)).
			AddRow("south", int64(80)).
			AddRow("north", nil),
	)
	mock.ExpectRollback()

	executor := NewExecutor(db, true)
	outcome, err := executor.Execute(context.Background(), statement, time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !reflect.DeepEqual(outcome.Columns, []string{"region", "total"}) {
		t.Fatalf("columns = %v", outcome.Columns)
	}
	if outcome.RowCount != 3 || len(outcome.Rows) != 3 {
		t.Fatalf("row count = %d", outcome.RowCount)
	}
	if outcome.Rows[0]["region"] != "north" {
		t.Fatalf("byte column not normalized to string: %#v", outcome.Rows[0]["region"])
	}

	regionSummary := outcome.Summary["region"]
	if regionSummary.Distinct != 2 {
		t.Fatalf("region distinct = %d, want 2", regionSummary.Distinct)
	}
	totalSummary := outcome.Summary["total"]
	if totalSummary.Nulls != 1 {
		t.Fatalf("total nulls = %d, want 1", totalSummary.Nulls)
	}
	if totalSummary.Min == nil || *totalSummary.Min != 80 {
		t.Fatalf("total min = %v, want 80", totalSummary.Min)
	}
	if totalSummary.Max == nil || *totalSummary.Max != 120 {
		t.Fatalf("total max = %v, want 120", totalSummary.Max)
	}
	if totalSummary.Mean == nil || *totalSummary.Mean != 100 {
		t.Fatalf("total mean = %v, want 100", totalSummary.Mean)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecuteAlwaysRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1`)).WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))
	mock.ExpectRollback()

	executor := NewExecutor(db, true)
	if _, err := executor.Execute(context.Background(), `SELECT 1`, 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("transaction was not rolled back: %v", err)
	}
}

func TestExecuteClassifiesQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT bogus FROM orders`)).
		WillReturnError(errors.New(`column "bogus" does not exist`))
	mock.ExpectRollback()

	executor := NewExecutor(db, true)
	_, err = executor.Execute(context.Background(), `SELECT bogus FROM orders`, time.Second)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error type = %T", err)
	}
	if execErr.Kind != FailureQuery {
		t.Fatalf("kind = %s, want %s", execErr.Kind, FailureQuery)
	}
}

func TestExecuteClassifiesConnectionError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	executor := NewExecutor(db, true)
	_, err = executor.Execute(context.Background(), `SELECT 1`, time.Second)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error type = %T", err)
	}
	if execErr.Kind != FailureConnection {
		t.Fatalf("kind = %s, want %s", execErr.Kind, FailureConnection)
	}
}

func TestExecuteClassifiesTimeout(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	executor := NewExecutor(db, true)
	_, err = executor.Execute(ctx, `SELECT 1`, 0)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("error type = %T", err)
	}
	if execErr.Kind != FailureTimeout {
		t.Fatalf("kind = %s, want %s", execErr.Kind, FailureTimeout)
	}
}
