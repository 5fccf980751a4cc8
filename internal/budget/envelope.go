package budget

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the structured-content result every MCP tool returns,
// matching the tool surface's result envelope exactly. The JSON form always
// carries the complete result set; only the accompanying text rendering is
// subject to token-budget truncation.
type Envelope struct {
	Tool          string         `json:"tool"`
	Success       bool           `json:"success"`
	Results       []any          `json:"results"`
	Confidence    float64        `json:"confidence"`
	NextActions   []string       `json:"next_actions"`
	FilesModified []string       `json:"files_modified,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// TextRenderer formats one result into a markdown-ish line or block.
type TextRenderer func(result any) string

// Render produces the dual output for a tool call: full JSON (never
// truncated) plus a budget-fitted text rendering built by applying render
// to as many leading results as fit maxTokens, using progressive count
// reduction.
func Render(env Envelope, maxTokens int, render TextRenderer) (text string, jsonPayload string, err error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	rendered := make([]renderedItem, len(env.Results))
	for i, r := range env.Results {
		line := render(r)
		rendered[i] = renderedItem{line: line, cost: EstimateTokens(line)}
	}

	header := fmt.Sprintf("# %s (%d results)\n\n", env.Tool, len(env.Results))
	overhead := EstimateTokens(header)
	kept, fraction := FitByCount(rendered, maxTokens, overhead)

	var b strings.Builder
	b.WriteString(header)
	for _, it := range kept {
		b.WriteString(it.line)
		b.WriteByte('\n')
	}
	if fraction < 1.0 {
		fmt.Fprintf(&b, "\n_(showing %d of %d results, reduced to fit response budget)_\n",
			len(kept), len(env.Results))
	}
	if len(env.NextActions) > 0 {
		b.WriteString("\nNext actions:\n")
		for _, a := range env.NextActions {
			b.WriteString("- ")
			b.WriteString(a)
			b.WriteByte('\n')
		}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "", "", err
	}
	return b.String(), string(payload), nil
}

type renderedItem struct {
	line string
	cost int
}

func (r renderedItem) TokenCost() int { return r.cost }

// NotReady builds the envelope a tool returns when the tier it needs
// hasn't finished its initial build yet.
func NotReady(tool string, etaSeconds int) Envelope {
	return Envelope{
		Tool:       tool,
		Success:    false,
		Results:    nil,
		Confidence: 0,
		NextActions: []string{
			fmt.Sprintf("retry in ~%ds once indexing completes", etaSeconds),
			"use manage_workspace(operation=health) to check progress",
		},
		Metadata: map[string]any{"not_ready": true, "eta_seconds": etaSeconds},
	}
}
