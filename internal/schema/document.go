package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Document is the on-disk form of a discovery scan.
type Document struct {
	Version    string            `json:"version"`
	Partitions []string          `json:"partitions"`
	Tables     []TableDescriptor `json:"tables"`
}

const DocumentVersion = "auto-discovered"

func ParseDocument(raw []byte, publicName string) (*Catalog, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema document: %w", err)
	}
	if len(doc.Tables) == 0 {
		return nil, fmt.Errorf("schema document contains no tables")
	}
	return NewCatalog(doc.Tables, publicName), nil
}

func EncodeDocument(catalog *Catalog) ([]byte, error) {
	doc := Document{
		Version:    DocumentVersion,
		Partitions: catalog.Partitions(),
		Tables:     catalog.Tables(),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema document: %w", err)
	}
	return raw, nil
}

// FileLoader reads the discovered-schema document from local disk.
type FileLoader struct {
	Path       string
	PublicName string
}

func (l FileLoader) Load(_ context.Context) (*Catalog, error) {
	raw, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read schema document %s: %w", l.Path, err)
	}
	return ParseDocument(raw, l.PublicName)
}

// WriteFile persists a catalog as a schema document, creating parent
// directories as needed.
func WriteFile(path string, catalog *Catalog) error {
	raw, err := EncodeDocument(catalog)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create schema document dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write schema document %s: %w", path, err)
	}
	return nil
}
