package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

type snapshotRow struct {
	ID         string    `parquet:"id"`
	Partition  string    `parquet:"partition"`
	Query      string    `parquet:"query"`
	Vector     []float32 `parquet:"vector,list"`
	SQL        string    `parquet:"sql"`
	Response   string    `parquet:"response"`
	TablesUsed []string  `parquet:"tables_used,list"`
	TokenCost  int32     `parquet:"token_cost"`
}

// WriteSnapshot persists the semantic entries as a Parquet file so a
// restart does not start from a cold cache.
func (s *Semantic) WriteSnapshot(path string) error {
	s.mu.RLock()
	rows := make([]snapshotRow, 0, len(s.entries))
	for _, entry := range s.entries {
		rows = append(rows, snapshotRow{
			ID:         entry.ID,
			Partition:  entry.Partition,
			Query:      entry.Query,
			Vector:     entry.Vector,
			SQL:        entry.Result.SQL,
			Response:   entry.Result.Response,
			TablesUsed: entry.Result.TablesUsed,
			TokenCost:  int32(entry.Result.TokenCost),
		})
	}
	s.mu.RUnlock()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	writer := parquet.NewGenericWriter[snapshotRow](file)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			_ = file.Close()
			return fmt.Errorf("write snapshot rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("close snapshot writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close snapshot file: %w", err)
	}
	return nil
}

// RestoreSnapshot loads a previously written snapshot, replacing the
// current entry set. A missing file is not an error.
func (s *Semantic) RestoreSnapshot(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot file: %w", err)
	}
	rows, err := parquet.Read[snapshotRow](file, info.Size())
	if err != nil {
		return fmt.Errorf("read snapshot rows: %w", err)
	}

	entries := make([]semanticEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, semanticEntry{
			ID:        row.ID,
			Partition: row.Partition,
			Query:     row.Query,
			Vector:    row.Vector,
			Result: CachedResult{
				SQL:        row.SQL,
				Response:   row.Response,
				TablesUsed: row.TablesUsed,
				TokenCost:  int(row.TokenCost),
			},
		})
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return nil
}
