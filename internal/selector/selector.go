// Package selector picks the minimal set of tables relevant to a
// question. One model round trip at most; every failure path falls back
// to a textual heuristic so selection itself never errors.
package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlsage/sqlsage/internal/llm"
	"github.com/sqlsage/sqlsage/internal/schema"
)

// Selection threshold: at or below this many candidates the whole set
// is returned without a model call.
const smallCandidateSet = 3

const maxProjectedColumns = 5

const systemPrompt = `You select database tables. Given a list of tables and a user question, reply with a JSON array containing only the names of the tables needed to answer the question. Reply with the JSON array and nothing else.`

type Selector struct {
	model  llm.Model
	logger *slog.Logger
}

func New(model llm.Model, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{model: model, logger: logger}
}

// Select returns the tables relevant to question among those visible in
// the target partition. It never fails: on any model or parsing
// problem it degrades to substring matching against the question, and
// as a last resort returns the first candidate.
func (s *Selector) Select(ctx context.Context, question string, catalog *schema.Catalog, partition string) ([]schema.TableDescriptor, int) {
	candidates := catalog.TablesIn(partition)
	if len(candidates) <= smallCandidateSet {
		return candidates, 0
	}

	reply, err := s.model.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildPrompt(question, candidates)},
	})
	if err != nil {
		s.logger.Warn("table selection model call failed, using fallback", "error", err)
		return fallbackSelection(question, candidates), 0
	}

	selected := matchCandidates(parseNames(reply.Text), candidates)
	if len(selected) == 0 {
		s.logger.Warn("table selection returned no usable names, using fallback")
		return fallbackSelection(question, candidates), reply.TokensUsed
	}
	return selected, reply.TokensUsed
}

// Expand adds, for every selected table, its related tables not
// already present, resolved by name in the catalog. Callers apply it
// only to selections larger than two tables; expanding tiny selections
// just adds join complexity.
func (s *Selector) Expand(selection []schema.TableDescriptor, catalog *schema.Catalog, partition string) []schema.TableDescriptor {
	present := make(map[string]bool, len(selection))
	for _, table := range selection {
		present[strings.ToLower(table.Name)] = true
	}
	expanded := selection
	for _, table := range selection {
		for _, related := range table.RelatedTables {
			if present[strings.ToLower(related)] {
				continue
			}
			resolved, err := catalog.ByName(related, partition)
			if err != nil {
				continue
			}
			present[strings.ToLower(related)] = true
			expanded = append(expanded, resolved)
		}
	}
	return expanded
}

func buildPrompt(question string, candidates []schema.TableDescriptor) string {
	var b strings.Builder
	b.WriteString("TABLES:\n")
	for _, table := range candidates {
		columns := table.Columns
		if len(columns) > maxProjectedColumns {
			columns = columns[:maxProjectedColumns]
		}
		names := make([]string, 0, len(columns))
		for _, column := range columns {
			names = append(names, column.Name)
		}
		fmt.Fprintf(&b, "- %s (schema %s): %s\n", table.Name, table.SchemaName, strings.Join(names, ", "))
	}
	b.WriteString("\nQUESTION: ")
	b.WriteString(question)
	b.WriteString("\n\nJSON array of table names:")
	return b.String()
}

// parseNames reads the model reply as a JSON string array; replies that
// are not valid JSON are split on commas and newlines instead.
func parseNames(raw string) []string {
	text := strings.TrimSpace(raw)
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start != -1 && end > start {
		var names []string
		if err := json.Unmarshal([]byte(text[start:end+1]), &names); err == nil {
			return names
		}
	}
	var names []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' }) {
		cleaned := strings.Trim(strings.TrimSpace(part), `"'-* `)
		if cleaned != "" {
			names = append(names, cleaned)
		}
	}
	return names
}

// matchCandidates keeps the candidate order and silently drops names
// that are not in the candidate set.
func matchCandidates(names []string, candidates []schema.TableDescriptor) []schema.TableDescriptor {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[strings.ToLower(name)] = true
	}
	var selected []schema.TableDescriptor
	for _, table := range candidates {
		if wanted[strings.ToLower(table.Name)] {
			selected = append(selected, table)
		}
	}
	return selected
}

// fallbackSelection scans the question for direct mentions of a
// table's singular or plural name; if nothing matches it settles for
// the first candidate.
func fallbackSelection(question string, candidates []schema.TableDescriptor) []schema.TableDescriptor {
	lowered := strings.ToLower(question)
	var matched []schema.TableDescriptor
	for _, table := range candidates {
		name := strings.ToLower(table.Name)
		singular := strings.TrimSuffix(name, "s")
		if strings.Contains(lowered, name) || (singular != "" && strings.Contains(lowered, singular)) || strings.Contains(lowered, name+"s") {
			matched = append(matched, table)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	if len(candidates) > 0 {
		return candidates[:1]
	}
	return nil
}
