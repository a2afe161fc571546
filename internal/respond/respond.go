// Package respond turns tabular results into the natural-language
// answer the caller sees. Technical columns (ids, timestamps,
// credential-like fields) are filtered out before the model sees the
// rows.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlsage/sqlsage/internal/execute"
	"github.com/sqlsage/sqlsage/internal/llm"
)

const maxRowsInPrompt = 10

var hiddenFragments = []string{
	"createdat", "updatedat", "deletedat",
	"password", "hash", "token", "secret",
}

// Identifier columns match as exact names or _-separated suffixes only;
// a bare substring check would also swallow columns like "paid" or
// "valid".
var hiddenIdentifiers = []string{"id", "uuid"}

const systemPrompt = `You are a friendly assistant answering questions about a database.

FORMATTING RULES:
1. Answer clearly and naturally
2. Organize data with bullet points or numbered lists
3. Include the total when relevant: "Found X results"
4. If there are more than 10 results, show the first 10 and mention the total
5. Do NOT show IDs, UUIDs, timestamps or technical fields
6. Round decimals to 2 digits

WHEN THERE ARE RESULTS:
- Summarize first: "I found X matching records"
- List the data clearly
- For a count, state the number directly

WHEN THERE ARE NO RESULTS:
- Do not say "it does not exist in the database"
- Be kind: "I did not find records matching that"
- Suggest alternatives when possible`

type Generator struct {
	model  llm.Model
	logger *slog.Logger
}

func New(model llm.Model, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{model: model, logger: logger}
}

// Generate produces the natural-language answer for question given the
// executed result. The token count of the model call is returned for
// cost accounting.
func (g *Generator) Generate(ctx context.Context, question string, result execute.Result) (string, int, error) {
	columns, rows := filterTechnicalFields(result.Columns, result.Rows)

	reply, err := g.model.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildPrompt(question, columns, rows, result.RowCount())},
	})
	if err != nil {
		return "", 0, fmt.Errorf("generate response: %w", err)
	}
	return strings.TrimSpace(reply.Text), reply.TokensUsed, nil
}

func buildPrompt(question string, columns []string, rows [][]any, total int) string {
	shown := rows
	if len(shown) > maxRowsInPrompt {
		shown = shown[:maxRowsInPrompt]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION: %s\n", question)
	fmt.Fprintf(&b, "DATA (%d results):\n", total)
	fmt.Fprintf(&b, "columns: %s\n", strings.Join(columns, ", "))
	for _, row := range shown {
		values := make([]string, 0, len(row))
		for _, value := range row {
			values = append(values, fmt.Sprint(value))
		}
		fmt.Fprintf(&b, "- %s\n", strings.Join(values, " | "))
	}
	b.WriteString("\nAnswer naturally and helpfully:")
	return b.String()
}

func isHiddenColumn(column string) bool {
	lower := strings.ToLower(column)
	for _, name := range hiddenIdentifiers {
		if lower == name || strings.HasSuffix(lower, "_"+name) {
			return true
		}
	}
	normalized := strings.NewReplacer("_", "", "-", "").Replace(lower)
	for _, fragment := range hiddenFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// filterTechnicalFields drops hidden columns and the matching cells
// from every row.
func filterTechnicalFields(columns []string, rows [][]any) ([]string, [][]any) {
	if len(columns) == 0 || len(rows) == 0 {
		return columns, rows
	}

	var visible []int
	var visibleColumns []string
	for i, column := range columns {
		if !isHiddenColumn(column) {
			visible = append(visible, i)
			visibleColumns = append(visibleColumns, column)
		}
	}

	filtered := make([][]any, 0, len(rows))
	for _, row := range rows {
		cells := make([]any, 0, len(visible))
		for _, i := range visible {
			if i < len(row) {
				cells = append(cells, row[i])
			}
		}
		filtered = append(filtered, cells)
	}
	return visibleColumns, filtered
}
