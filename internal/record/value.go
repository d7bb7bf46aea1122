// Package record defines the loosely-typed part records that flow through the
// ingestion pipeline and the sanitizer that canonicalizes their values.
package record

import (
	"encoding/json"
)

// Value is a tagged optional string. The zero value is null.
type Value struct {
	s     string
	valid bool
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String returns a present Value holding s verbatim. Use SanitizeString when
// s comes from an upstream file.
func String(s string) Value { return Value{s: s, valid: true} }

// Valid reports whether the value is present.
func (v Value) Valid() bool { return v.valid }

// String returns the held string, or "" for null.
func (v Value) String() string { return v.s }

// Ptr returns a pointer to the held string, or nil for null. Handy for
// database drivers that map nil to NULL.
func (v Value) Ptr() *string {
	if !v.valid {
		return nil
	}
	s := v.s
	return &s
}

// SQL returns the value as a driver argument: the string, or nil for null.
func (v Value) SQL() any {
	if !v.valid {
		return nil
	}
	return v.s
}

// Equal reports whether two values are both null or hold the same string.
func (v Value) Equal(o Value) bool {
	return v.valid == o.valid && v.s == o.s
}

// MarshalJSON encodes null values as JSON null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.s)
}

// UnmarshalJSON decodes JSON null or any scalar through Sanitize.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Sanitize(raw)
	return nil
}
