// Package sqlcheck is the static safety gate in front of the executor.
// Validation is pure text analysis over regular expressions: no network
// calls, no database round trips, so a rejection costs microseconds.
package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/sqlsage/sqlsage/internal/schema"
)

var blockedKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "UPDATE", "INSERT", "ALTER",
	"CREATE", "GRANT", "REVOKE", "EXEC", "EXECUTE", "CALL",
	"MERGE", "REPLACE", "LOAD", "COPY", "VACUUM",
}

var blockedPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bINTO\s+OUTFILE\b`),
	regexp.MustCompile(`(?i)\bINTO\s+DUMPFILE\b`),
}

var dangerousFunctions = []*regexp.Regexp{
	regexp.MustCompile(`(?i)pg_read_file`),
	regexp.MustCompile(`(?i)pg_write_file`),
	regexp.MustCompile(`(?i)pg_ls_dir`),
	regexp.MustCompile(`(?i)pg_stat_file`),
	regexp.MustCompile(`(?i)lo_import`),
	regexp.MustCompile(`(?i)lo_export`),
	regexp.MustCompile(`(?i)dblink`),
	regexp.MustCompile(`(?i)copy\s+\(`),
	regexp.MustCompile(`(?i)pg_sleep`),
	regexp.MustCompile(`(?i)pg_terminate_backend`),
	regexp.MustCompile(`(?i)pg_cancel_backend`),
	regexp.MustCompile(`(?i)set_config`),
	regexp.MustCompile(`(?i)current_setting`),
}

var systemCatalogs = []*regexp.Regexp{
	regexp.MustCompile(`(?i)pg_catalog\.`),
	regexp.MustCompile(`(?i)information_schema\.`),
	regexp.MustCompile(`(?i)pg_shadow`),
	regexp.MustCompile(`(?i)pg_authid`),
	regexp.MustCompile(`(?i)pg_roles`),
	regexp.MustCompile(`(?i)pg_user\b`),
	regexp.MustCompile(`(?i)pg_password`),
	regexp.MustCompile(`(?i)pg_hba\.conf`),
}

var injectionShapes = []*regexp.Regexp{
	regexp.MustCompile(`--\s*$`),
	regexp.MustCompile(`(?s)/\*.*?\*/`),
	regexp.MustCompile(`(?i)'\s*OR\s+'?\d*'?\s*=\s*'?\d*`),
	regexp.MustCompile(`(?i)'\s*OR\s+1\s*=\s*1`),
	regexp.MustCompile(`(?i)UNION\s+(ALL\s+)?SELECT`),
	regexp.MustCompile(`(?i);\s*(DROP|DELETE|UPDATE|INSERT)`),
}

var (
	singleQuoted = regexp.MustCompile(`'[^']*'`)
	doubleQuoted = regexp.MustCompile(`"[^"]*"`)
)

const maxSelectOccurrences = 5

// Options tunes the sensitive-data guard; zero value uses the built-in
// pattern sets with an empty allow-list.
type Options struct {
	AllowedTables         []string
	ExtraSensitiveColumns []string
	ExtraSensitiveTables  []string
}

type Validator struct {
	keywordPatterns []*regexp.Regexp
	guard           *sensitiveGuard
}

func New(opts Options) *Validator {
	patterns := make([]*regexp.Regexp, 0, len(blockedKeywords))
	for _, keyword := range blockedKeywords {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+keyword+`\b`))
	}
	return &Validator{
		keywordPatterns: patterns,
		guard:           newSensitiveGuard(opts),
	}
}

// FromCatalog builds a validator whose sensitive patterns include the
// column and table markings a discovery scan produced.
func FromCatalog(catalog *schema.Catalog, opts Options) *Validator {
	v := New(opts)
	v.guard.addCatalog(catalog)
	return v
}

// Validate reports whether sql is safe to execute. Checks run in a
// fixed order and short-circuit on the first violation; the reason is
// specific enough to log and to feed back into a retry prompt.
func (v *Validator) Validate(sql string) (bool, string) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return false, "empty statement"
	}

	upper := strings.ToUpper(trimmed)
	stripped := stripLiterals(sql)

	if hasMultipleStatements(stripped) {
		return false, "multiple statements are not allowed"
	}

	if !strings.HasPrefix(upper, "SELECT") {
		return false, "only SELECT statements are allowed"
	}

	for i, pattern := range v.keywordPatterns {
		if pattern.MatchString(stripped) {
			return false, fmt.Sprintf("statement keyword not allowed: %s", blockedKeywords[i])
		}
	}
	for _, pattern := range blockedPhrases {
		if pattern.MatchString(stripped) {
			return false, "statement keyword not allowed: INTO OUTFILE"
		}
	}

	for _, pattern := range dangerousFunctions {
		if pattern.MatchString(stripped) {
			return false, "system function not allowed"
		}
	}

	for _, pattern := range systemCatalogs {
		if pattern.MatchString(sql) {
			return false, "system catalog access not allowed"
		}
	}

	for _, pattern := range injectionShapes {
		if pattern.MatchString(sql) {
			return false, "injection pattern detected"
		}
	}

	if strings.Count(upper, "SELECT") > maxSelectOccurrences {
		return false, "too many subqueries"
	}

	return v.guard.check(sql)
}

// stripLiterals blanks out quoted content so literal text cannot
// trip the keyword checks.
func stripLiterals(sql string) string {
	out := singleQuoted.ReplaceAllString(sql, "''")
	return doubleQuoted.ReplaceAllString(out, `""`)
}

func hasMultipleStatements(stripped string) bool {
	segments := 0
	for _, part := range strings.Split(stripped, ";") {
		if strings.TrimSpace(part) != "" {
			segments++
		}
	}
	return segments > 1
}

// Swappable holds the live validator so a schema re-scan can publish a
// rebuilt pattern set without restarting in-flight pipelines.
type Swappable struct {
	current atomic.Pointer[Validator]
}

func NewSwappable(initial *Validator) *Swappable {
	s := &Swappable{}
	if initial != nil {
		s.current.Store(initial)
	}
	return s
}

func (s *Swappable) Validate(sql string) (bool, string) {
	return s.current.Load().Validate(sql)
}

func (s *Swappable) Swap(next *Validator) {
	if next != nil {
		s.current.Store(next)
	}
}
