// Package schema holds the discovered-table catalog the query pipeline
// reads from. The descriptor set is immutable once loaded and replaced
// wholesale on re-scan; a pipeline run captures one catalog reference up
// front so a concurrent swap cannot hand it inconsistent data.
package schema

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
)

var ErrNotFound = errors.New("schema: table not found")

type Column struct {
	Name         string   `json:"name"`
	DeclaredType string   `json:"type"`
	EnumValues   []string `json:"enum_values,omitempty"`
}

type TableDescriptor struct {
	Name             string   `json:"name"`
	SchemaName       string   `json:"schema"`
	Columns          []Column `json:"columns"`
	RelatedTables    []string `json:"related_tables,omitempty"`
	SensitiveColumns []string `json:"sensitive_columns,omitempty"`
	IsSensitive      bool     `json:"is_sensitive,omitempty"`
}

// Catalog is an immutable snapshot of every discovered table.
type Catalog struct {
	tables     []TableDescriptor
	byName     map[string][]int
	partitions []string
	publicName string
}

func NewCatalog(tables []TableDescriptor, publicName string) *Catalog {
	if publicName == "" {
		publicName = "public"
	}
	c := &Catalog{
		tables:     append([]TableDescriptor(nil), tables...),
		byName:     make(map[string][]int),
		publicName: publicName,
	}
	seen := make(map[string]bool)
	for i, table := range c.tables {
		c.byName[table.Name] = append(c.byName[table.Name], i)
		if !seen[table.SchemaName] {
			seen[table.SchemaName] = true
			c.partitions = append(c.partitions, table.SchemaName)
		}
	}
	sort.Strings(c.partitions)
	return c
}

func (c *Catalog) Tables() []TableDescriptor {
	return c.tables
}

func (c *Catalog) Len() int {
	return len(c.tables)
}

// Partitions lists every schema name seen in the descriptor set, sorted.
func (c *Catalog) Partitions() []string {
	return c.partitions
}

func (c *Catalog) PublicName() string {
	return c.publicName
}

// TablesIn returns the tables visible from the given partition: the
// partition's own tables plus everything in the shared public partition.
// An empty partition returns all tables.
func (c *Catalog) TablesIn(partition string) []TableDescriptor {
	if partition == "" {
		return c.tables
	}
	var out []TableDescriptor
	for _, table := range c.tables {
		if table.SchemaName == partition || table.SchemaName == c.publicName {
			out = append(out, table)
		}
	}
	return out
}

// ByName resolves a table by bare name. When the same table name exists
// in several partitions the preferred partition wins, then public, then
// the first occurrence.
func (c *Catalog) ByName(name, preferredPartition string) (TableDescriptor, error) {
	indexes, ok := c.byName[name]
	if !ok || len(indexes) == 0 {
		return TableDescriptor{}, ErrNotFound
	}
	for _, i := range indexes {
		if c.tables[i].SchemaName == preferredPartition {
			return c.tables[i], nil
		}
	}
	for _, i := range indexes {
		if c.tables[i].SchemaName == c.publicName {
			return c.tables[i], nil
		}
	}
	return c.tables[indexes[0]], nil
}

// Store is the process-wide catalog holder. Reads are lock-free; a
// re-scan publishes a whole new catalog with a single pointer swap.
type Store struct {
	current atomic.Pointer[Catalog]
}

func NewStore(initial *Catalog) *Store {
	s := &Store{}
	if initial != nil {
		s.current.Store(initial)
	}
	return s
}

func (s *Store) Current() *Catalog {
	return s.current.Load()
}

func (s *Store) Swap(next *Catalog) {
	if next != nil {
		s.current.Store(next)
	}
}

// Loader produces a catalog from a prior discovery scan.
type Loader interface {
	Load(ctx context.Context) (*Catalog, error)
}
