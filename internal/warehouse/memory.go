package warehouse

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// MemorySource serves tables held in memory. It backs tests and local runs
// without warehouse credentials.
type MemorySource struct {
	mu     sync.RWMutex
	tables map[string]*Table
	calls  atomic.Int64
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{tables: make(map[string]*Table)}
}

// Put stores or replaces a table.
func (m *MemorySource) Put(t *Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.Name] = t
}

// Fetch returns a copy of the stored table. Unknown tables are load
// failures.
func (m *MemorySource) Fetch(ctx context.Context, table string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, loadFailure(table, fmt.Errorf("table not found"))
	}
	cp := &Table{Name: t.Name, Columns: append([]string(nil), t.Columns...), Rows: make([][]any, len(t.Rows))}
	for i, r := range t.Rows {
		cp.Rows[i] = append([]any(nil), r...)
	}
	return cp, nil
}

// Calls returns the number of Fetch calls served.
func (m *MemorySource) Calls() int64 { return m.calls.Load() }

// Close is a no-op.
func (m *MemorySource) Close() error { return nil }

// seedFile is the YAML layout read by LoadMemorySource:
//
//	tables:
//	  - name: Final_Ad_Data
//	    columns: [date, campaign_name, cost]
//	    rows:
//	      - ["2024-03-01", "Spring", 1200]
type seedFile struct {
	Tables []struct {
		Name    string   `yaml:"name"`
		Columns []string `yaml:"columns"`
		Rows    [][]any  `yaml:"rows"`
	} `yaml:"tables"`
}

// LoadMemorySource reads a YAML table fixture into a MemorySource.
func LoadMemorySource(path string) (*MemorySource, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	m := NewMemorySource()
	for _, t := range f.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("seed file %s: table without name", path)
		}
		for i, r := range t.Rows {
			if len(r) != len(t.Columns) {
				return nil, fmt.Errorf("seed table %s row %d: %d values for %d columns", t.Name, i, len(r), len(t.Columns))
			}
		}
		m.Put(&Table{Name: t.Name, Columns: t.Columns, Rows: t.Rows})
	}
	return m, nil
}
