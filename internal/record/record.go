package record

import (
	"sort"
)

// Well-known field names.
const (
	PartNumber   = "part_number"
	SourceSystem = "source_system"
	SourceFile   = "source_file"
	Sources      = "sources"
	ID           = "id"
	UpdatedAt    = "updated_at"
)

// Reserved reports whether name is a store-managed column that is never
// treated as a dynamic data column.
func Reserved(name string) bool {
	switch name {
	case ID, PartNumber, UpdatedAt:
		return true
	}
	return false
}

// Raw is a record as produced by a source loader: loosely typed values plus
// provenance. Raw records are not modified after loading.
type Raw struct {
	Fields       map[string]any `json:"fields"`
	SourceSystem string         `json:"source_system"`
	SourceFile   string         `json:"source_file"`
}

// Record is a cleaned or merged record: field name to sanitized value.
type Record map[string]Value

// Get returns the value for field, or null when it is absent.
func (r Record) Get(field string) Value {
	return r[field]
}

// Set stores v under field.
func (r Record) Set(field string, v Value) {
	r[field] = v
}

// Has reports whether field is present with a non-null value.
func (r Record) Has(field string) bool {
	return r[field].Valid()
}

// PartNumber returns the record's merge key value.
func (r Record) PartNumber() Value {
	return r[PartNumber]
}

// Fields returns the record's field names in sorted order.
func (r Record) Fields() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a shallow copy; Values are immutable so this is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Strings returns the record as a plain map, omitting null values.
func (r Record) Strings() map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		if v.Valid() {
			out[k] = v.String()
		}
	}
	return out
}

// FieldUnion returns the sorted union of field names across recs.
func FieldUnion(recs []Record) []string {
	seen := make(map[string]bool)
	for _, r := range recs {
		for k := range r {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
