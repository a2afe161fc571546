package sqlgen

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// QualifyTables rewrites every unqualified table reference in sql to a
// fully qualified "partition"."table" form. known maps lowercased table
// names to their partition; anything not found defaults to
// fallbackPartition, logged as a best-effort guess. Already-qualified
// references are left untouched. The returned map records the partition
// each referenced table was bound to.
//
// The statement is rewritten through a real SQL parser; when the text
// does not parse (the model sometimes emits almost-SQL), a regex pass
// over FROM/JOIN clauses covers the common shapes.
func QualifyTables(sql string, known map[string]string, fallbackPartition string, logger *slog.Logger) (string, map[string]string) {
	if logger == nil {
		logger = slog.Default()
	}
	rewritten, bindings, err := qualifyWithParser(sql, known, fallbackPartition, logger)
	if err != nil {
		logger.Debug("statement did not parse, using textual prefix rewrite", "error", err)
		return qualifyWithRegex(sql, known, fallbackPartition, logger)
	}
	return rewritten, bindings
}

type rewriteState struct {
	known    map[string]string
	fallback string
	bindings map[string]string
	cteNames map[string]bool
	logger   *slog.Logger
}

func qualifyWithParser(sql string, known map[string]string, fallback string, logger *slog.Logger) (string, map[string]string, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return "", nil, fmt.Errorf("parse statement: %w", err)
	}

	state := &rewriteState{
		known:    known,
		fallback: fallback,
		bindings: make(map[string]string),
		cteNames: make(map[string]bool),
		logger:   logger,
	}
	for _, stmt := range result.Stmts {
		rewriteNode(stmt.Stmt, state)
	}

	out, err := pg_query.Deparse(result)
	if err != nil {
		return "", nil, fmt.Errorf("deparse statement: %w", err)
	}
	return quoteQualified(out, state.bindings), state.bindings, nil
}

func rewriteNode(node *pg_query.Node, state *rewriteState) {
	if node == nil {
		return
	}
	if n, ok := node.Node.(*pg_query.Node_SelectStmt); ok {
		rewriteSelectStmt(n.SelectStmt, state)
	}
}

func rewriteSelectStmt(sel *pg_query.SelectStmt, state *rewriteState) {
	if sel == nil {
		return
	}

	// CTE names shadow real tables; collect them before touching the
	// FROM clauses so they never get a schema prefix.
	if sel.WithClause != nil {
		for _, cte := range sel.WithClause.Ctes {
			if c, ok := cte.Node.(*pg_query.Node_CommonTableExpr); ok {
				state.cteNames[strings.ToLower(c.CommonTableExpr.Ctename)] = true
				rewriteNode(c.CommonTableExpr.Ctequery, state)
			}
		}
	}

	if sel.Larg != nil {
		rewriteSelectStmt(sel.Larg, state)
	}
	if sel.Rarg != nil {
		rewriteSelectStmt(sel.Rarg, state)
	}

	for _, from := range sel.FromClause {
		rewriteFromNode(from, state)
	}

	rewriteExpr(sel.WhereClause, state)
	rewriteExpr(sel.HavingClause, state)
	for _, target := range sel.TargetList {
		rewriteExpr(target, state)
	}
}

func rewriteFromNode(node *pg_query.Node, state *rewriteState) {
	if node == nil {
		return
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_RangeVar:
		rewriteRangeVar(n.RangeVar, state)
	case *pg_query.Node_JoinExpr:
		rewriteFromNode(n.JoinExpr.Larg, state)
		rewriteFromNode(n.JoinExpr.Rarg, state)
	case *pg_query.Node_RangeSubselect:
		rewriteNode(n.RangeSubselect.Subquery, state)
	}
}

func rewriteExpr(node *pg_query.Node, state *rewriteState) {
	if node == nil {
		return
	}
	switch n := node.Node.(type) {
	case *pg_query.Node_SubLink:
		rewriteNode(n.SubLink.Subselect, state)
	case *pg_query.Node_BoolExpr:
		for _, arg := range n.BoolExpr.Args {
			rewriteExpr(arg, state)
		}
	case *pg_query.Node_AExpr:
		rewriteExpr(n.AExpr.Lexpr, state)
		rewriteExpr(n.AExpr.Rexpr, state)
	case *pg_query.Node_ResTarget:
		rewriteExpr(n.ResTarget.Val, state)
	}
}

func rewriteRangeVar(rv *pg_query.RangeVar, state *rewriteState) {
	if rv == nil || rv.Relname == "" {
		return
	}
	if rv.Schemaname != "" {
		state.bindings[rv.Relname] = rv.Schemaname
		return
	}
	if state.cteNames[strings.ToLower(rv.Relname)] {
		return
	}
	rv.Schemaname = state.resolvePartition(rv.Relname)
	state.bindings[rv.Relname] = rv.Schemaname
}

func (s *rewriteState) resolvePartition(table string) string {
	if partition, ok := s.known[strings.ToLower(table)]; ok {
		return partition
	}
	s.logger.Warn("table not among selected tables, defaulting to target partition",
		"table", table, "partition", s.fallback)
	return s.fallback
}

// quoteQualified rewrites the deparsed partition.table pairs into the
// quoted "partition"."table" form the executor expects. Deparse quotes
// either side on its own when the identifier needs it (mixed case,
// reserved words), so both spellings of each side are matched.
func quoteQualified(sql string, bindings map[string]string) string {
	for table, partition := range bindings {
		pattern := eitherSpelling(partition) + `\.` + eitherSpelling(table)
		re := regexp.MustCompile(pattern)
		sql = re.ReplaceAllString(sql, fmt.Sprintf("%q.%q", partition, table))
	}
	return sql
}

func eitherSpelling(ident string) string {
	quoted := regexp.QuoteMeta(ident)
	return `(?:"` + quoted + `"|\b` + quoted + `\b)`
}

var fromJoinRef = regexp.MustCompile(`(?i)\b(FROM|JOIN)\s+((?:"[^"]+"|[A-Za-z_]\w*)\.)?("?)([A-Za-z_]\w*)("?)`)

func qualifyWithRegex(sql string, known map[string]string, fallback string, logger *slog.Logger) (string, map[string]string) {
	bindings := make(map[string]string)
	out := fromJoinRef.ReplaceAllStringFunc(sql, func(match string) string {
		parts := fromJoinRef.FindStringSubmatch(match)
		keyword, qualifier, table := parts[1], parts[2], parts[4]
		if qualifier != "" {
			bindings[table] = strings.Trim(strings.TrimSuffix(qualifier, "."), `"`)
			return match
		}
		if strings.EqualFold(table, "select") {
			return match
		}
		partition, ok := known[strings.ToLower(table)]
		if !ok {
			partition = fallback
			logger.Warn("table not among selected tables, defaulting to target partition",
				"table", table, "partition", fallback)
		}
		bindings[table] = partition
		return fmt.Sprintf("%s %q.%q", keyword, partition, table)
	})
	return out, bindings
}
