package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const columnQuery = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

// SQLIntrospector reads table and column metadata from
// information_schema, which both supported warehouse drivers expose.
type SQLIntrospector struct {
	db         *sql.DB
	sourceID   string
	schemaName string
	sampleRows int
}

func NewSQLIntrospector(db *sql.DB, sourceID, schemaName string, sampleRows int) *SQLIntrospector {
	if schemaName == "" {
		schemaName = "public"
	}
	return &SQLIntrospector{
		db:         db,
		sourceID:   sourceID,
		schemaName: schemaName,
		sampleRows: sampleRows,
	}
}

func (i *SQLIntrospector) SourceID() string {
	return i.sourceID
}

func (i *SQLIntrospector) Introspect(ctx context.Context) (Snapshot, error) {
	var databaseName string
	if err := i.db.QueryRowContext(ctx, "SELECT current_database()").Scan(&databaseName); err != nil {
		return Snapshot{}, fmt.Errorf("resolve database name: %w", err)
	}

	rows, err := i.db.QueryContext(ctx, columnQuery, i.schemaName)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query information_schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []Table
	byName := map[string]int{}
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return Snapshot{}, fmt.Errorf("scan column row: %w", err)
		}
		index, ok := byName[tableName]
		if !ok {
			index = len(tables)
			byName[tableName] = index
			tables = append(tables, Table{Name: tableName})
		}
		tables[index].Columns = append(tables[index].Columns, Column{
			Name:     columnName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("iterate column rows: %w", err)
	}

	if i.sampleRows > 0 {
		for index := range tables {
			samples, err := i.fetchSamples(ctx, tables[index].Name)
			if err != nil {
				// Samples only enrich the prompt context; a failed fetch
				// must not fail the whole snapshot.
				continue
			}
			tables[index].SampleRows = samples
		}
	}

	return Snapshot{
		DatabaseName: databaseName,
		Tables:       tables,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

func (i *SQLIntrospector) fetchSamples(ctx context.Context, tableName string) ([][]any, error) {
	rows, err := i.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(tableName)+" LIMIT "+strconv.Itoa(i.sampleRows))
	if err != nil {
		return nil, fmt.Errorf("sample table %q: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sample columns for %q: %w", tableName, err)
	}

	samples := make([][]any, 0, i.sampleRows)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for index := range values {
			scanTargets[index] = &values[index]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("scan sample row: %w", err)
		}
		samples = append(samples, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample rows: %w", err)
	}
	return samples, nil
}

func normalizeValues(values []any) []any {
	for index, value := range values {
		if raw, ok := value.([]byte); ok {
			values[index] = string(raw)
		}
	}
	return values
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
