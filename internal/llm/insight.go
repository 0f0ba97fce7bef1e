package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Insight struct {
	Summary           string   `json:"insight"`
	KeyFindings       []string `json:"key_findings"`
	VisualizationType string   `json:"visualization_type"`
	Narrative         string   `json:"narrative"`
}

// InsightWriter narrates accepted results. It runs after the verdict,
// so it never changes the outcome of an analysis; a malformed response
// degrades to a plain-text summary.
type InsightWriter struct {
	client  *Client
	timeout time.Duration
}

func NewInsightWriter(client *Client, timeout time.Duration) *InsightWriter {
	return &InsightWriter{client: client, timeout: timeout}
}

const insightSystemPrompt = "You are a data storyteller. Create clear, data-driven insights from query results. " +
	"Respond with a JSON object: " +
	`{"insight": "1-2 sentence summary", "key_findings": ["..."], "visualization_type": "line_chart|bar_chart|pie_chart|table", "narrative": "..."}`

func (w *InsightWriter) Write(ctx context.Context, text string, result QueryResult) (Insight, error) {
	evidence, err := json.Marshal(result)
	if err != nil {
		return Insight{}, &Error{Op: "insight", Kind: KindProvider, Detail: "marshal result evidence", cause: err}
	}
	userPrompt := fmt.Sprintf("User request:\n%s\n\nQuery results (JSON):\n%s\n", strings.TrimSpace(text), string(evidence))

	content, err := w.client.complete(ctx, "insight", insightSystemPrompt, userPrompt, w.timeout)
	if err != nil {
		return Insight{}, err
	}

	var insight Insight
	raw := extractJSON(content)
	if raw == "" || json.Unmarshal([]byte(raw), &insight) != nil || strings.TrimSpace(insight.Summary) == "" {
		return Insight{
			Summary:           truncate(strings.TrimSpace(stripMarkdownFence(content)), 500),
			VisualizationType: "table",
		}, nil
	}
	if insight.VisualizationType == "" {
		insight.VisualizationType = "table"
	}
	return insight, nil
}
