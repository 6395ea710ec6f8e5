// Package model defines the data structures used throughout the application.
//
// Most data in this system is schema-less: collection entries, discussion
// documents and request payloads are arbitrary JSON objects. They travel as a
// Document, and callers read fields through the typed accessors below rather
// than type-asserting map values inline. Accounts and collection definitions
// have a known shape and get their own structs (account.go, collection.go).
package model

import (
	"math"
	"strconv"
)

// Bookkeeping keys stamped by the store and the controllers.
const (
	KeyID       = "_id"
	KeyCreated  = "_created"
	KeyModified = "_modified"
	KeyRev      = "_rev"
	KeyBy       = "_by"
	// KeyAccount ties a photographer entry to the account that owns it.
	KeyAccount = "_account"
)

// Document is a schema-less JSON object.
type Document map[string]any

// ID returns the document's _id, or "" when it has none.
func (d Document) ID() string {
	return d.String(KeyID)
}

// Has reports whether key is present (even with a nil value).
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// String returns the value at key when it is a string.
// Numbers are formatted so ids that arrive as JSON numbers still compare.
func (d Document) String(key string) string {
	switch v := d[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// Bool interprets the value at key the way form-encoded clients send flags:
// true, "true", "1", "on" and non-zero numbers are true.
func (d Document) Bool(key string) bool {
	return Truthy(d[key])
}

// Int64 returns the numeric value at key. JSON numbers decode as float64,
// query parameters as strings; both are accepted.
func (d Document) Int64(key string) (int64, bool) {
	switch v := d[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Map returns the nested object at key, or nil.
func (d Document) Map(key string) Document {
	switch v := d[key].(type) {
	case Document:
		return v
	case map[string]any:
		return Document(v)
	}
	return nil
}

// Slice returns the array at key, or nil.
func (d Document) Slice(key string) []any {
	if v, ok := d[key].([]any); ok {
		return v
	}
	return nil
}

// Maps returns the array at key keeping only its object elements.
func (d Document) Maps(key string) []Document {
	items := d.Slice(key)
	out := make([]Document, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case Document:
			out = append(out, v)
		case map[string]any:
			out = append(out, Document(v))
		}
	}
	return out
}

// Clone returns a deep copy, so callers can mutate nested maps and slices
// without touching the original.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Without returns a shallow copy with the given keys removed.
func (d Document) Without(keys ...string) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Document:
		return t.Clone()
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	}
	return v
}

// Truthy applies the loose boolean rules used for flags in request params.
func Truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch t {
		case "1", "true", "on", "yes":
			return true
		}
		return false
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return false
}
