package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MbohBless/data-test/internal/schema"
)

// AttemptFeedback tells the model what happened to an earlier candidate
// so the next one is not a verbatim retry.
type AttemptFeedback struct {
	SQL    string
	Stage  string
	Reason string
	Detail string
}

type GenerateRequest struct {
	Text          string
	Context       string
	Schema        schema.Snapshot
	PriorAttempts []AttemptFeedback
}

type Candidate struct {
	SQL        string
	Plan       []string
	Reasoning  string
	Confidence float64
}

// Generator turns an analytical request into one SQL candidate.
type Generator struct {
	client  *Client
	timeout time.Duration
}

func NewGenerator(client *Client, timeout time.Duration) *Generator {
	return &Generator{client: client, timeout: timeout}
}

const generatorSystemPrompt = "You are an expert data analyst. Generate a single valid PostgreSQL query " +
	"for the user's analytical request. Use only tables and columns from the provided schema. " +
	"Only SELECT, WITH, and EXPLAIN statements are allowed. Handle NULL values. " +
	"Respond with a JSON object: " +
	`{"plan": ["Step 1: ...", "Step 2: ..."], "sql": "SELECT ...", "reasoning": "...", "confidence": 0.95}`

func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (Candidate, error) {
	userPrompt, err := buildGeneratorPrompt(req)
	if err != nil {
		return Candidate{}, &Error{Op: "generate", Kind: KindProvider, Detail: "build prompt", cause: err}
	}

	content, err := g.client.complete(ctx, "generate", generatorSystemPrompt, userPrompt, g.timeout)
	if err != nil {
		return Candidate{}, err
	}

	candidate, ok := parseCandidate(content)
	if !ok {
		return Candidate{}, &Error{Op: "generate", Kind: KindProvider, Detail: "model returned no usable SQL"}
	}
	return candidate, nil
}

func buildGeneratorPrompt(req GenerateRequest) (string, error) {
	digest, err := json.Marshal(schemaDigest(req.Schema))
	if err != nil {
		return "", fmt.Errorf("marshal schema digest: %w", err)
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Database schema (JSON):\n%s\n\nUser request:\n%s\n", string(digest), strings.TrimSpace(req.Text))
	if strings.TrimSpace(req.Context) != "" {
		fmt.Fprintf(&builder, "\nAdditional context:\n%s\n", strings.TrimSpace(req.Context))
	}
	for _, attempt := range req.PriorAttempts {
		fmt.Fprintf(&builder, "\nA previous attempt failed at the %s stage (%s: %s):\n%s\nProduce a corrected query, not a repeat.\n",
			attempt.Stage, attempt.Reason, attempt.Detail, attempt.SQL)
	}
	return builder.String(), nil
}

type digestColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

type digestTable struct {
	Name    string           `json:"name"`
	Columns []digestColumn   `json:"columns"`
	Samples []map[string]any `json:"sample_rows,omitempty"`
}

// schemaDigest shapes the snapshot for the prompt: column names keyed
// to their sample values so the model sees real data shapes.
func schemaDigest(snapshot schema.Snapshot) []digestTable {
	tables := make([]digestTable, 0, len(snapshot.Tables))
	for _, table := range snapshot.Tables {
		digest := digestTable{Name: table.Name, Columns: make([]digestColumn, 0, len(table.Columns))}
		for _, column := range table.Columns {
			digest.Columns = append(digest.Columns, digestColumn{Name: column.Name, Type: column.Type, Nullable: column.Nullable})
		}
		for _, row := range table.SampleRows {
			sample := make(map[string]any, len(table.Columns))
			for index, column := range table.Columns {
				if index < len(row) {
					sample[column.Name] = row[index]
				}
			}
			digest.Samples = append(digest.Samples, sample)
		}
		tables = append(tables, digest)
	}
	return tables
}

func parseCandidate(content string) (Candidate, bool) {
	var parsed struct {
		Plan       []string `json:"plan"`
		SQL        string   `json:"sql"`
		Reasoning  string   `json:"reasoning"`
		Confidence float64  `json:"confidence"`
	}
	if raw := extractJSON(content); raw != "" {
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil && strings.TrimSpace(parsed.SQL) != "" {
			return Candidate{
				SQL:        strings.TrimSpace(parsed.SQL),
				Plan:       parsed.Plan,
				Reasoning:  parsed.Reasoning,
				Confidence: parsed.Confidence,
			}, true
		}
	}

	// some models ignore the JSON instruction and answer with bare SQL
	fallback := stripMarkdownFence(content)
	lowered := strings.ToLower(fallback)
	for _, prefix := range []string{"select", "with", "explain"} {
		if strings.HasPrefix(lowered, prefix) {
			return Candidate{SQL: fallback}, true
		}
	}
	return Candidate{}, false
}
