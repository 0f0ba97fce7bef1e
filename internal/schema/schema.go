package schema

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnavailable is returned when no snapshot can be produced: the
// underlying fetch failed and nothing cached exists to fall back to.
var ErrUnavailable = errors.New("schema: unavailable")

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleRows [][]any  `json:"sample_rows,omitempty"`
}

// Snapshot is an immutable view of the warehouse schema at FetchedAt.
// A refresh produces a new Snapshot; existing ones are never mutated.
type Snapshot struct {
	DatabaseName string    `json:"database_name"`
	Tables       []Table   `json:"tables"`
	FetchedAt    time.Time `json:"fetched_at"`
	Stale        bool      `json:"stale"`
	Cached       bool      `json:"cached"`
}

func (s Snapshot) HasTable(name string) bool {
	for _, table := range s.Tables {
		if strings.EqualFold(table.Name, name) {
			return true
		}
	}
	return false
}

type Introspector interface {
	// SourceID identifies the data source; it keys the snapshot cache.
	SourceID() string
	Introspect(ctx context.Context) (Snapshot, error)
}
