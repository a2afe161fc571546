package sqlcheck

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sqlsage/sqlsage/internal/schema"
)

var defaultSensitiveColumns = []string{
	"password", "passwd", "pwd", "pass_hash", "password_hash",
	"api_key", "apikey", "api_secret", "secret_key", "private_key",
	"access_token", "refresh_token", "auth_token", "bearer_token",
	"jwt", "session_token", "csrf_token",
	"credit_card", "card_number", "cvv", "card_cvv",
	"account_number", "routing_number", "bank_account",
	"ssn", "social_security", "tax_id", "national_id",
	"hash", "salt", "secret", "encryption_key", "private",
}

var defaultSensitiveTables = []string{
	"users?", "usuarios?", "accounts?", "cuentas?",
	"auth", "authentication", "credentials", "login",
	"sessions?", "tokens?", "api_keys?", "oauth",
	"admins?", "roles?", "permissions?", "privileges?",
	"audit_logs?", "security_logs?",
	"payments?", "billing", "subscriptions?", "invoices?",
}

var systemSchemaPatterns = compileWordPatterns([]string{
	"pg_catalog", "information_schema", "pg_toast",
})

// sensitiveGuard blocks statements touching credential-like columns or
// account-like tables, unless the table was explicitly allow-listed.
type sensitiveGuard struct {
	columnPatterns []*regexp.Regexp
	tablePatterns  []*regexp.Regexp
	allowedTables  map[string]bool
}

func newSensitiveGuard(opts Options) *sensitiveGuard {
	guard := &sensitiveGuard{
		columnPatterns: compileWordPatterns(append(defaultSensitiveColumns, quoteAll(opts.ExtraSensitiveColumns)...)),
		tablePatterns:  compileWordPatterns(append(defaultSensitiveTables, quoteAll(opts.ExtraSensitiveTables)...)),
		allowedTables:  make(map[string]bool, len(opts.AllowedTables)),
	}
	for _, table := range opts.AllowedTables {
		guard.allowedTables[strings.ToLower(table)] = true
	}
	return guard
}

// addCatalog extends the pattern sets with the sensitivity markings a
// discovery scan derived from real column and table names.
func (g *sensitiveGuard) addCatalog(catalog *schema.Catalog) {
	if catalog == nil {
		return
	}
	seenColumns := make(map[string]bool)
	seenTables := make(map[string]bool)
	for _, table := range catalog.Tables() {
		for _, column := range table.SensitiveColumns {
			seenColumns[strings.ToLower(column)] = true
		}
		if table.IsSensitive {
			seenTables[strings.ToLower(table.Name)] = true
		}
	}
	for column := range seenColumns {
		g.columnPatterns = append(g.columnPatterns, compileWordPattern(regexp.QuoteMeta(column)))
	}
	for table := range seenTables {
		g.tablePatterns = append(g.tablePatterns, compileWordPattern(regexp.QuoteMeta(table)))
	}
}

func (g *sensitiveGuard) check(sql string) (bool, string) {
	for _, pattern := range g.columnPatterns {
		if pattern.MatchString(sql) {
			name := strings.ReplaceAll(pattern.String(), `\b`, "")
			name = strings.TrimPrefix(name, "(?i)")
			return false, fmt.Sprintf("sensitive column access not allowed: %s", name)
		}
	}
	for _, pattern := range g.tablePatterns {
		match := pattern.FindString(sql)
		if match == "" {
			continue
		}
		if !g.allowedTables[strings.ToLower(match)] {
			return false, fmt.Sprintf("sensitive table access not allowed: %s", strings.ToLower(match))
		}
	}
	for _, pattern := range systemSchemaPatterns {
		if pattern.MatchString(sql) {
			return false, "system schema access not allowed"
		}
	}
	return true, ""
}

func compileWordPatterns(words []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(words))
	for _, word := range words {
		patterns = append(patterns, compileWordPattern(word))
	}
	return patterns
}

func compileWordPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + word + `\b`)
}

func quoteAll(words []string) []string {
	quoted := make([]string, 0, len(words))
	for _, word := range words {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(word)))
	}
	return quoted
}
