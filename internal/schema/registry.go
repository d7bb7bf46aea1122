// Package schema tracks the evolving column set of the part master table.
package schema

import (
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/partmaster/internal/record"
)

// ColumnType is the storage type of a column.
type ColumnType string

// Column types used by the part master table. Dynamic columns are always text.
const (
	TypeSerial    ColumnType = "serial"
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp"
)

// maxIdentifierLen matches Postgres NAMEDATALEN-1.
const maxIdentifierLen = 63

// Column is one column of the part master table.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Dynamic reports whether the column holds record data rather than a
// store-managed value.
func (c Column) Dynamic() bool {
	return !record.Reserved(c.Name)
}

// FixedColumns returns the columns every part master table starts with.
func FixedColumns() []Column {
	return []Column{
		{Name: record.ID, Type: TypeSerial},
		{Name: record.PartNumber, Type: TypeText},
		{Name: record.UpdatedAt, Type: TypeTimestamp},
	}
}

// Registry is an in-memory view of the table's columns. It is safe for
// concurrent use. The registry only grows; Replace resyncs it with the
// catalog after another process may have added columns.
type Registry struct {
	mu    sync.RWMutex
	order []Column
	index map[string]int
}

// NewRegistry returns a registry seeded with the fixed columns.
func NewRegistry() *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, c := range FixedColumns() {
		r.add(c)
	}
	return r
}

// Has reports whether name is a known column.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[name]
	return ok
}

// Columns returns the fixed columns followed by dynamic columns in the order
// they were registered.
func (r *Registry) Columns() []Column {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Column, len(r.order))
	copy(out, r.order)
	return out
}

// DataColumns returns the names of dynamic columns in registration order.
func (r *Registry) DataColumns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, c := range r.order {
		if c.Dynamic() {
			out = append(out, c.Name)
		}
	}
	return out
}

// Add registers name as a text column. It returns false when the column was
// already known.
func (r *Registry) Add(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[name]; ok {
		return false
	}
	r.add(Column{Name: name, Type: TypeText})
	return true
}

// Missing returns the sorted, deduplicated field names that are not yet
// columns. Reserved names are never reported.
func (r *Registry) Missing(fields []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if record.Reserved(f) || seen[f] {
			continue
		}
		seen[f] = true
		if _, ok := r.index[f]; !ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Replace resets the registry to the fixed columns plus cols, keeping the
// order of cols for dynamic columns. Unknown types default to text.
func (r *Registry) Replace(cols []Column) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.index = make(map[string]int)
	for _, c := range FixedColumns() {
		r.add(c)
	}
	for _, c := range cols {
		if _, ok := r.index[c.Name]; ok {
			continue
		}
		if c.Type == "" {
			c.Type = TypeText
		}
		r.add(c)
	}
}

func (r *Registry) add(c Column) {
	r.index[c.Name] = len(r.order)
	r.order = append(r.order, c)
}

// ValidIdentifier returns an error when name cannot be used as a column name.
// Quoting is left to the backend; this only rejects names no quoting can save.
func ValidIdentifier(name string) error {
	switch {
	case name == "":
		return eris.New("schema: empty column name")
	case len(name) > maxIdentifierLen:
		return eris.Errorf("schema: column name %q exceeds %d bytes", name, maxIdentifierLen)
	case strings.ContainsRune(name, 0):
		return eris.Errorf("schema: column name %q contains NUL", name)
	}
	return nil
}
