// Package question cleans up the user's phrasing before it reaches
// table selection and SQL generation. Both steps are best-effort model
// calls: on any error or implausible reply, the original text is used
// unmodified.
package question

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sqlsage/sqlsage/internal/llm"
)

const enhancePrompt = `You are an expert at interpreting user questions about databases.

YOUR TASK: improve the user's question so it is clear and precise.

RULES:
1. Do NOT change the meaning or intent
2. Fix spelling and grammar mistakes
3. Add a question mark if it is a question
4. Turn telegraphic phrases into complete sentences
5. Keep technical terms and proper names unchanged
6. If the question is already clear, return it as-is

Return ONLY the improved question, no explanations or extra formatting.`

const rewritePrompt = `You are an expert at reformulating questions for database queries.

RULES:
1. If the question asks for two incompatible things (count AND list), pick the more specific one
2. Simplify while keeping the original intent
3. Fix spelling mistakes if present
4. Keep the user's original language
5. If the question is already clear, return it as-is

Reply ONLY with the reformulated question, no explanations.`

// Enhancer reformulates terse or misspelled questions into clear ones.
type Enhancer struct {
	model  llm.Model
	logger *slog.Logger
}

func NewEnhancer(model llm.Model, logger *slog.Logger) *Enhancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enhancer{model: model, logger: logger}
}

// Enhance returns a cleaned-up version of query, or query itself when
// it is too short to bother, the model errors, or the reply looks like
// a hallucination (far longer than the input).
func (e *Enhancer) Enhance(ctx context.Context, query string) string {
	if len(strings.TrimSpace(query)) < 3 {
		return query
	}

	reply, err := e.model.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: enhancePrompt},
		{Role: llm.RoleUser, Content: "User question: " + query},
	})
	if err != nil {
		e.logger.Warn("question enhancement failed, keeping original", "error", err)
		return query
	}

	enhanced := strings.TrimSpace(reply.Text)
	if enhanced == "" || len(enhanced) <= 5 {
		return query
	}
	if len(enhanced) > len(query)*3 {
		e.logger.Warn("enhanced question implausibly long, keeping original")
		return query
	}
	return enhanced
}

// Rewriter simplifies questions that ask for too much at once.
type Rewriter struct {
	model  llm.Model
	logger *slog.Logger
}

func NewRewriter(model llm.Model, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{model: model, logger: logger}
}

// Rewrite reformulates query for SQL generation. Short queries are
// returned untouched; so is the original on any model error.
func (r *Rewriter) Rewrite(ctx context.Context, query string) string {
	if len(strings.Fields(query)) <= 4 {
		return query
	}

	reply, err := r.model.Invoke(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: rewritePrompt},
		{Role: llm.RoleUser, Content: "Reformulate if needed: " + query},
	})
	if err != nil {
		r.logger.Warn("question rewrite failed, keeping original", "error", err)
		return query
	}

	rewritten := strings.Trim(strings.TrimSpace(reply.Text), `"'`)
	if rewritten == "" || len(rewritten) <= 3 {
		return query
	}
	if !strings.EqualFold(rewritten, query) {
		r.logger.Info("question rewritten", "from", query, "to", rewritten)
	}
	return rewritten
}
