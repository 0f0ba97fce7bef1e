package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MbohBless/data-test/internal/llm"
	"github.com/MbohBless/data-test/internal/observability"
	"github.com/MbohBless/data-test/internal/schema"
	"github.com/MbohBless/data-test/internal/verify"
	"github.com/MbohBless/data-test/internal/warehouse"
)

type SchemaProvider interface {
	Snapshot(ctx context.Context, forceRefresh bool) (schema.Snapshot, error)
}

type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (llm.Candidate, error)
}

type Verifier interface {
	Verify(sqlText string, snapshot schema.Snapshot) verify.Outcome
}

type Executor interface {
	Execute(ctx context.Context, sqlText string, timeout time.Duration) (warehouse.Outcome, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, text string, result llm.QueryResult) (llm.Verdict, error)
}

type InsightWriter interface {
	Write(ctx context.Context, text string, result llm.QueryResult) (llm.Insight, error)
}

type Dependencies struct {
	Logger    *slog.Logger
	Schemas   SchemaProvider
	Generator Generator
	Verifier  Verifier
	Executor  Executor
	Evaluator Evaluator
	Insights  InsightWriter
}

type Config struct {
	// MaxRetries is the regeneration ceiling: 0 means exactly one
	// generation attempt.
	MaxRetries       int
	ExecutionTimeout time.Duration
	SampleRowLimit   int
}

// Service drives the generate, verify, execute, evaluate loop. All
// per-request state lives on the stack of Analyze; the shared leaf
// components are safe for concurrent use.
type Service struct {
	log  *slog.Logger
	deps Dependencies
	cfg  Config
}

func NewService(deps Dependencies, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.SampleRowLimit <= 0 {
		cfg.SampleRowLimit = 10
	}
	return &Service{log: deps.Logger, deps: deps, cfg: cfg}
}

// executedAttempt is the best-available result: the last candidate
// that executed successfully, kept so an exhausted loop still returns
// data.
type executedAttempt struct {
	sql     string
	outcome warehouse.Outcome
	result  llm.QueryResult
}

func (s *Service) Analyze(ctx context.Context, req Request) Response {
	analysisID := uuid.NewString()
	log := s.log.With("analysis_id", analysisID)

	snapshot, err := s.deps.Schemas.Snapshot(ctx, req.ForceRefreshSchema)
	if err != nil {
		log.Error("schema snapshot unavailable", "error", err)
		observability.ObserveAnalysis(string(StatusSchemaUnavailable), 0)
		return Response{AnalysisID: analysisID, Status: StatusSchemaUnavailable, Error: err.Error()}
	}

	var (
		history    []AttemptRecord
		feedback   []llm.AttemptFeedback
		best       *executedAttempt
		status     Status
		failDetail string
	)

	contextJSON := encodeContext(req.Context)
	maxAttempts := s.cfg.MaxRetries + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := s.deps.Generator.Generate(ctx, llm.GenerateRequest{
			Text:          req.Text,
			Context:       contextJSON,
			Schema:        snapshot,
			PriorAttempts: feedback,
		})
		if err != nil {
			log.Error("query generation failed", "attempt", attempt, "error", err)
			status = StatusGenerationFailed
			failDetail = err.Error()
			break
		}

		record := AttemptRecord{Index: attempt, SQL: candidate.SQL}
		record.Verification = s.deps.Verifier.Verify(candidate.SQL, snapshot)
		if !record.Verification.Accepted {
			log.Warn("candidate rejected",
				"attempt", attempt,
				"reason", record.Verification.Reason,
				"detail", record.Verification.Detail)
			observability.IncrementVerificationRejection(string(record.Verification.Reason))
			history = append(history, record)
			feedback = append(feedback, llm.AttemptFeedback{
				SQL:    candidate.SQL,
				Stage:  "verification",
				Reason: string(record.Verification.Reason),
				Detail: record.Verification.Detail,
			})
			status = StatusVerificationExhausted
			continue
		}

		outcome, execErr := s.deps.Executor.Execute(ctx, candidate.SQL, s.cfg.ExecutionTimeout)
		if execErr != nil {
			kind, detail := executionFailure(execErr)
			log.Warn("execution failed", "attempt", attempt, "kind", kind, "detail", detail)
			record.Execution = &ExecutionRecord{FailureKind: kind, Detail: detail}
			history = append(history, record)
			feedback = append(feedback, llm.AttemptFeedback{
				SQL:    candidate.SQL,
				Stage:  "execution",
				Reason: kind,
				Detail: detail,
			})
			status = StatusRetriesExhausted
			continue
		}

		record.Execution = &ExecutionRecord{
			OK:        true,
			RowCount:  outcome.RowCount,
			ElapsedMs: outcome.Elapsed.Milliseconds(),
		}
		result := llm.QueryResult{
			SQL:        candidate.SQL,
			Columns:    outcome.Columns,
			RowCount:   outcome.RowCount,
			SampleRows: limitRows(outcome.Rows, s.cfg.SampleRowLimit),
			Summary:    outcome.Summary,
		}
		best = &executedAttempt{sql: candidate.SQL, outcome: outcome, result: result}

		verdict, evalErr := s.deps.Evaluator.Evaluate(ctx, req.Text, result)
		if evalErr != nil {
			// a broken evaluator must never wave a result through
			log.Warn("evaluation failed", "attempt", attempt, "error", evalErr)
			verdict = llm.Verdict{Sufficient: false, Reason: "evaluation_error", Reasoning: evalErr.Error()}
		}
		record.Verdict = &verdict
		history = append(history, record)

		if verdict.Sufficient {
			status = StatusDone
			break
		}
		feedback = append(feedback, llm.AttemptFeedback{
			SQL:    candidate.SQL,
			Stage:  "evaluation",
			Reason: verdict.Reason,
			Detail: firstNonEmpty(verdict.Hint, verdict.Reasoning),
		})
		status = StatusRetriesExhausted
	}

	response := Response{
		AnalysisID:  analysisID,
		Status:      status,
		Attempts:    len(history),
		History:     history,
		SchemaStale: snapshot.Stale,
		Error:       failDetail,
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		response.SQL = last.SQL
		response.Evaluation = last.Verdict
	}
	if best != nil {
		response.SQL = best.sql
		response.Columns = best.outcome.Columns
		response.RowCount = best.outcome.RowCount
		response.ExecutionTimeMs = best.outcome.Elapsed.Milliseconds()
		if req.IncludeRawData {
			response.Data = best.outcome.Rows
		}
		s.attachInsight(ctx, log, req.Text, best.result, &response)
	}

	log.Info("analysis finished", "status", status, "attempts", len(history), "rows", response.RowCount)
	observability.ObserveAnalysis(string(status), len(history))
	return response
}

// attachInsight narrates the best result. Failures degrade the
// response instead of failing it.
func (s *Service) attachInsight(ctx context.Context, log *slog.Logger, text string, result llm.QueryResult, response *Response) {
	insight, err := s.deps.Insights.Write(ctx, text, result)
	if err != nil {
		log.Warn("insight generation failed", "error", err)
		return
	}
	response.Insight = insight.Summary
	response.KeyFindings = insight.KeyFindings
	response.Narrative = insight.Narrative
	response.VisualizationType = insight.VisualizationType
}

func executionFailure(err error) (string, string) {
	var execErr *warehouse.ExecError
	if errors.As(err, &execErr) {
		return string(execErr.Kind), execErr.Detail
	}
	return string(warehouse.FailureQuery), err.Error()
}

func encodeContext(values map[string]any) string {
	if len(values) == 0 {
		return ""
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func limitRows(rows []map[string]any, limit int) []map[string]any {
	if len(rows) <= limit {
		return rows
	}
	return rows[:limit]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
