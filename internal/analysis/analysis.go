package analysis

import (
	"github.com/MbohBless/data-test/internal/llm"
	"github.com/MbohBless/data-test/internal/verify"
)

type Status string

const (
	StatusDone                  Status = "done"
	StatusRetriesExhausted      Status = "retries_exhausted"
	StatusVerificationExhausted Status = "verification_exhausted"
	StatusGenerationFailed      Status = "generation_failed"
	StatusSchemaUnavailable     Status = "schema_unavailable"
)

// Request is one analytical question. It is immutable for the lifetime
// of the orchestration flow that owns it.
type Request struct {
	Text               string
	Context            map[string]any
	ForceRefreshSchema bool
	IncludeRawData     bool
}

// ExecutionRecord captures what happened when a candidate reached the
// warehouse.
type ExecutionRecord struct {
	OK          bool   `json:"ok"`
	RowCount    int    `json:"row_count"`
	ElapsedMs   int64  `json:"elapsed_ms"`
	FailureKind string `json:"failure_kind,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// AttemptRecord is the audit trail of one loop iteration. Execution is
// nil when verification rejected the candidate; a verdict exists only
// for executed candidates.
type AttemptRecord struct {
	Index        int              `json:"index"`
	SQL          string           `json:"sql"`
	Verification verify.Outcome   `json:"verification"`
	Execution    *ExecutionRecord `json:"execution,omitempty"`
	Verdict      *llm.Verdict     `json:"verdict,omitempty"`
}

// Response is the sole artifact handed back to the transport layer.
// Every accepted request produces one, whatever went wrong inside the
// loop.
type Response struct {
	AnalysisID        string           `json:"analysis_id"`
	Status            Status           `json:"status"`
	Insight           string           `json:"insight,omitempty"`
	KeyFindings       []string         `json:"key_findings,omitempty"`
	Narrative         string           `json:"narrative,omitempty"`
	VisualizationType string           `json:"visualization_type,omitempty"`
	Data              []map[string]any `json:"data,omitempty"`
	Columns           []string         `json:"columns,omitempty"`
	SQL               string           `json:"sql,omitempty"`
	ExecutionTimeMs   int64            `json:"execution_time_ms"`
	RowCount          int              `json:"row_count"`
	Evaluation        *llm.Verdict     `json:"evaluation,omitempty"`
	Attempts          int              `json:"attempts"`
	History           []AttemptRecord  `json:"history,omitempty"`
	SchemaStale       bool             `json:"schema_stale,omitempty"`
	Error             string           `json:"error,omitempty"`
}
