// Package sqlgen turns a natural-language question plus a table
// selection into a single schema-qualified SELECT statement. It is
// purely text-to-text: the model's raw reply is extracted, every table
// reference is prefix-resolved to its partition, and the result is
// normalized. Nothing here executes SQL.
package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sqlsage/sqlsage/internal/llm"
	"github.com/sqlsage/sqlsage/internal/schema"
)

// ErrUngenerable means the model's reply contained no SELECT at all;
// the attempt is a hard failure and the caller decides whether to retry.
var ErrUngenerable = errors.New("sqlgen: model reply contains no SELECT statement")

const maxErrorExcerpt = 300

const systemPrompt = `You are a PostgreSQL expert. Generate valid, efficient SQL.

CRITICAL RULES:
1. Use schema prefixes: "schema"."table"
2. SELECT statements only (read-only queries)
3. Never mix aggregate functions (COUNT, SUM, AVG) with bare columns without GROUP BY
4. Always include a LIMIT (at most 100)
5. Use clear aliases for JOINs
6. Prefer ILIKE for text searches (case-insensitive)
7. For dates use: date_column >= CURRENT_DATE - INTERVAL 'N days'

COMMON PATTERNS:
- Count: SELECT COUNT(*) FROM "schema"."table"
- List: SELECT col1, col2 FROM "schema"."table" LIMIT 20
- Filter text: WHERE col ILIKE '%value%'
- Group: SELECT col, COUNT(*) FROM "schema"."table" GROUP BY col
- Top N: SELECT col, COUNT(*) AS total FROM "schema"."table" GROUP BY col ORDER BY total DESC LIMIT 10

MISTAKES TO AVOID:
- SELECT name, COUNT(*) FROM t (missing GROUP BY)
- SELECT * without LIMIT
- Using = for text (use ILIKE)
- Leaving schema/table names unquoted
- JOINs without an ON clause`

// Statement is a generated, normalized, schema-qualified SELECT.
// SchemaBindings maps each referenced table to the partition it was
// prefixed with.
type Statement struct {
	RawText        string
	SQL            string
	SchemaBindings map[string]string
	TokenCost      int
}

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

// Generate produces a statement for question against the selected
// tables. When previousError is non-empty the prompt carries the
// literal error text from the last failed execution so the model can
// correct the statement.
func (g *Generator) Generate(ctx context.Context, question string, selection []schema.TableDescriptor, targetPartition, previousError string) (Statement, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildUserPrompt(question, selection, targetPartition, previousError)},
	}

	reply, err := g.model.Invoke(ctx, messages)
	if err != nil {
		return Statement{}, fmt.Errorf("generate statement: %w", err)
	}

	extracted, ok := extractSQL(reply.Text)
	if !ok {
		return Statement{RawText: reply.Text, TokenCost: reply.TokensUsed}, ErrUngenerable
	}

	qualified, bindings := QualifyTables(extracted, partitionsByTable(selection), targetPartition, g.logger)
	return Statement{
		RawText:        reply.Text,
		SQL:            Normalize(qualified),
		SchemaBindings: bindings,
		TokenCost:      reply.TokensUsed,
	}, nil
}

func buildUserPrompt(question string, selection []schema.TableDescriptor, targetPartition, previousError string) string {
	var b strings.Builder
	if previousError != "" {
		excerpt := previousError
		if len(excerpt) > maxErrorExcerpt {
			excerpt = excerpt[:maxErrorExcerpt]
		}
		b.WriteString("The previous SQL produced this error:\n")
		b.WriteString(excerpt)
		b.WriteString("\n\n")
	}
	b.WriteString("AVAILABLE TABLES:\n")
	for _, table := range selection {
		b.WriteString(describeTable(table))
		b.WriteString("\n")
	}
	b.WriteString("\nUSER QUESTION: ")
	b.WriteString(question)
	if previousError == "" {
		b.WriteString("\nSCHEMA: ")
		b.WriteString(targetPartition)
		b.WriteString("\n\nGenerate the SQL:")
	} else {
		b.WriteString("\n\nGenerate a CORRECTED SQL statement that avoids the error:")
	}
	return b.String()
}

func describeTable(table schema.TableDescriptor) string {
	columns := table.Columns
	if len(columns) > 8 {
		columns = columns[:8]
	}
	names := make([]string, 0, len(columns))
	var enums []string
	for _, column := range columns {
		names = append(names, column.Name)
		if len(column.EnumValues) > 0 {
			values := column.EnumValues
			if len(values) > 5 {
				values = values[:5]
			}
			enums = append(enums, fmt.Sprintf("%s=[%s]", column.Name, strings.Join(values, ", ")))
		}
	}
	info := fmt.Sprintf("%q.%q: columns=[%s]", table.SchemaName, table.Name, strings.Join(names, ", "))
	if len(enums) > 0 {
		info += " | enums: " + strings.Join(enums, ", ")
	}
	return info
}

func partitionsByTable(selection []schema.TableDescriptor) map[string]string {
	known := make(map[string]string, len(selection))
	for _, table := range selection {
		known[strings.ToLower(table.Name)] = table.SchemaName
	}
	return known
}

var fenceOpen = regexp.MustCompile("(?i)^```(sql)?\\s*$")

// extractSQL pulls the statement text out of the model's reply: fenced
// code blocks win, otherwise everything before the first SELECT is
// discarded. A reply with no SELECT at all is ungenerable.
func extractSQL(raw string) (string, bool) {
	if sql, ok := extractFenced(raw); ok && strings.Contains(strings.ToUpper(sql), "SELECT") {
		return sql, true
	}
	start := strings.Index(strings.ToUpper(raw), "SELECT")
	if start == -1 {
		return "", false
	}
	return raw[start:], true
}

func extractFenced(raw string) (string, bool) {
	if !strings.Contains(raw, "```") {
		return "", false
	}
	var lines []string
	inBlock := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if fenceOpen.MatchString(trimmed) {
			inBlock = !inBlock
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inBlock = false
			continue
		}
		if inBlock {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, " "), true
}

var (
	whitespaceRun = regexp.MustCompile(`[\s\n]+`)
	bareAggregate = regexp.MustCompile(`(?i)^SELECT\s+(COUNT|SUM|AVG|MIN|MAX)\s*\(`)
	limitClause   = regexp.MustCompile(`(?i)\bLIMIT\b`)
	groupByClause = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
)

// Normalize collapses whitespace, appends LIMIT 100 when the statement
// has no LIMIT and is not a bare aggregate, and ensures exactly one
// trailing terminator. It is idempotent.
func Normalize(sql string) string {
	sql = strings.TrimSpace(whitespaceRun.ReplaceAllString(sql, " "))
	sql = strings.TrimRight(sql, "; ")

	if !limitClause.MatchString(sql) && !isBareAggregate(sql) {
		sql += " LIMIT 100"
	}
	return sql + ";"
}

func isBareAggregate(sql string) bool {
	if !bareAggregate.MatchString(sql) {
		return false
	}
	return !groupByClause.MatchString(sql)
}
