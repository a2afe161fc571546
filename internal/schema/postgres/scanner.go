// Package postgres discovers the table catalog straight from a live
// database: user schemas, base tables, column types, enum labels and
// foreign-key relations, plus a name-based sensitivity marking that the
// validator consumes later.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sqlsage/sqlsage/internal/schema"
)

const (
	userSchemasQuery = `SELECT schema_name FROM information_schema.schemata
WHERE schema_name NOT IN ('information_schema', 'pg_catalog', 'pg_toast')
AND schema_name NOT LIKE 'pg_%'
ORDER BY schema_name`

	baseTablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE'
ORDER BY table_name`

	columnsQuery = `SELECT c.column_name, c.data_type, c.udt_name
FROM information_schema.columns c
WHERE c.table_schema = $1 AND c.table_name = $2
ORDER BY c.ordinal_position`

	enumValuesQuery = `SELECT e.enumlabel
FROM pg_enum e
JOIN pg_type t ON e.enumtypid = t.oid
WHERE t.typname = $1
ORDER BY e.enumsortorder`

	foreignKeysQuery = `SELECT DISTINCT ccu.table_name AS foreign_table
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
JOIN information_schema.constraint_column_usage ccu
    ON ccu.constraint_name = tc.constraint_name
WHERE tc.constraint_type = 'FOREIGN KEY'
AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY foreign_table`
)

var sensitiveColumnFragments = []string{
	"pass", "pwd", "password", "passwd", "secret", "private", "key",
	"token", "hash", "salt", "crypt", "api_key", "apikey",
	"access_token", "refresh_token", "credit", "card", "cvv", "ssn",
	"social", "auth", "credential", "bearer",
}

var sensitiveTableFragments = []string{
	"user", "usuario", "account", "cuenta", "auth", "login",
	"credential", "session", "token", "api_key", "secret", "password",
	"admin", "role", "permission", "privilege", "payment", "billing",
	"invoice", "subscription",
}

// Scanner walks information_schema and produces a catalog snapshot.
type Scanner struct {
	db         *sql.DB
	logger     *slog.Logger
	publicName string
}

func NewScanner(db *sql.DB, publicName string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{db: db, logger: logger, publicName: publicName}
}

// Scan discovers every user schema, or just targetSchema when it is
// non-empty. An unknown targetSchema is an error rather than an empty
// catalog so a typo cannot silently wipe the document.
func (s *Scanner) Scan(ctx context.Context, targetSchema string) (*schema.Catalog, error) {
	schemas, err := s.userSchemas(ctx)
	if err != nil {
		return nil, err
	}
	if len(schemas) == 0 {
		return nil, fmt.Errorf("no user schemas found")
	}

	if targetSchema != "" {
		found := false
		for _, name := range schemas {
			if name == targetSchema {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("schema %q does not exist", targetSchema)
		}
		schemas = []string{targetSchema}
	}

	var tables []schema.TableDescriptor
	for _, schemaName := range schemas {
		discovered, err := s.scanSchema(ctx, schemaName)
		if err != nil {
			return nil, err
		}
		s.logger.Info("scanned schema", "schema", schemaName, "tables", len(discovered))
		tables = append(tables, discovered...)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("discovery found no tables")
	}

	return schema.NewCatalog(tables, s.publicName), nil
}

func (s *Scanner) userSchemas(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, userSchemasQuery)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema name: %w", err)
		}
		schemas = append(schemas, name)
	}
	return schemas, rows.Err()
}

func (s *Scanner) scanSchema(ctx context.Context, schemaName string) ([]schema.TableDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, baseTablesQuery, schemaName)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", schemaName, err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	var tables []schema.TableDescriptor
	for _, name := range names {
		table, err := s.scanTable(ctx, schemaName, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (s *Scanner) scanTable(ctx context.Context, schemaName, tableName string) (schema.TableDescriptor, error) {
	table := schema.TableDescriptor{
		Name:        tableName,
		SchemaName:  schemaName,
		IsSensitive: matchesAny(tableName, sensitiveTableFragments),
	}

	rows, err := s.db.QueryContext(ctx, columnsQuery, schemaName, tableName)
	if err != nil {
		return table, fmt.Errorf("list columns of %s.%s: %w", schemaName, tableName, err)
	}
	type rawColumn struct {
		name, dataType, udtName string
	}
	var raw []rawColumn
	for rows.Next() {
		var col rawColumn
		if err := rows.Scan(&col.name, &col.dataType, &col.udtName); err != nil {
			_ = rows.Close()
			return table, fmt.Errorf("scan column: %w", err)
		}
		raw = append(raw, col)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return table, err
	}
	_ = rows.Close()

	for _, col := range raw {
		column := schema.Column{Name: col.name, DeclaredType: strings.ToUpper(col.dataType)}
		if col.dataType == "USER-DEFINED" {
			values, err := s.enumValues(ctx, col.udtName)
			if err != nil {
				return table, err
			}
			column.DeclaredType = "ENUM"
			column.EnumValues = values
		}
		if matchesAny(col.name, sensitiveColumnFragments) {
			table.SensitiveColumns = append(table.SensitiveColumns, col.name)
		}
		table.Columns = append(table.Columns, column)
	}

	related, err := s.relatedTables(ctx, schemaName, tableName)
	if err != nil {
		return table, err
	}
	table.RelatedTables = related
	return table, nil
}

func (s *Scanner) enumValues(ctx context.Context, typeName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, enumValuesQuery, typeName)
	if err != nil {
		return nil, fmt.Errorf("list enum values of %s: %w", typeName, err)
	}
	defer func() { _ = rows.Close() }()

	var values []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan enum label: %w", err)
		}
		values = append(values, label)
	}
	return values, rows.Err()
}

func (s *Scanner) relatedTables(ctx context.Context, schemaName, tableName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, foreignKeysQuery, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("list foreign keys of %s.%s: %w", schemaName, tableName, err)
	}
	defer func() { _ = rows.Close() }()

	var related []string
	for rows.Next() {
		var foreign string
		if err := rows.Scan(&foreign); err != nil {
			return nil, fmt.Errorf("scan foreign table: %w", err)
		}
		related = append(related, foreign)
	}
	return related, rows.Err()
}

func matchesAny(name string, fragments []string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range fragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
