package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MbohBless/data-test/internal/warehouse"
)

// QueryResult is the execution evidence shown to the model: the SQL,
// the shape of the result, and a bounded sample instead of the full
// data set.
type QueryResult struct {
	SQL        string                             `json:"sql"`
	Columns    []string                           `json:"columns"`
	RowCount   int                                `json:"row_count"`
	SampleRows []map[string]any                   `json:"sample_rows,omitempty"`
	Summary    map[string]warehouse.ColumnSummary `json:"summary,omitempty"`
}

type Verdict struct {
	Sufficient bool    `json:"sufficient"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Reason     string  `json:"reason,omitempty"`
	Hint       string  `json:"hint,omitempty"`
}

// Evaluator is the self-check: given the request and real execution
// results, it judges whether the results answer the question. An
// unparsable verdict is treated as insufficient, never as a pass.
type Evaluator struct {
	client  *Client
	timeout time.Duration
}

func NewEvaluator(client *Client, timeout time.Duration) *Evaluator {
	return &Evaluator{client: client, timeout: timeout}
}

const evaluatorSystemPrompt = "You are a data quality evaluator. Decide whether the query results actually answer " +
	"the user's request. Empty results can be a correct answer when the question allows it. " +
	"Respond with a JSON object: " +
	`{"is_correct": true, "confidence": 0.95, "reasoning": "...", "needs_regeneration": false, "regeneration_hint": ""}`

func (e *Evaluator) Evaluate(ctx context.Context, text string, result QueryResult) (Verdict, error) {
	evidence, err := json.Marshal(result)
	if err != nil {
		return Verdict{}, &Error{Op: "evaluate", Kind: KindProvider, Detail: "marshal result evidence", cause: err}
	}
	userPrompt := fmt.Sprintf("User request:\n%s\n\nExecuted SQL and results (JSON):\n%s\n", strings.TrimSpace(text), string(evidence))

	content, err := e.client.complete(ctx, "evaluate", evaluatorSystemPrompt, userPrompt, e.timeout)
	if err != nil {
		return Verdict{}, err
	}

	var parsed struct {
		IsCorrect         bool    `json:"is_correct"`
		Confidence        float64 `json:"confidence"`
		Reasoning         string  `json:"reasoning"`
		NeedsRegeneration bool    `json:"needs_regeneration"`
		RegenerationHint  string  `json:"regeneration_hint"`
	}
	raw := extractJSON(content)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil {
		return Verdict{
			Sufficient: false,
			Reason:     "unparsable_verdict",
			Reasoning:  truncate(strings.TrimSpace(content), 300),
		}, nil
	}

	verdict := Verdict{
		Sufficient: parsed.IsCorrect && !parsed.NeedsRegeneration,
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
		Hint:       parsed.RegenerationHint,
	}
	if !verdict.Sufficient {
		verdict.Reason = "insufficient_results"
	}
	return verdict, nil
}
