// Package document defines the payload values carried by queued mutations
// and exchanged with the remote store.
//
// A Document is a decoded JSON object. The only field the sync engine
// interprets is UpdatedAtKey, which drives last-write-wins resolution.
// Everything else is opaque and compared through canonical JSON.
package document

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// UpdatedAtKey is the field holding a document's last modification time.
const UpdatedAtKey = "updatedAt"

// Document is a JSON object payload.
type Document map[string]any

// UpdatedAt returns the document's modification time.
//
// Accepted encodings:
//   - RFC 3339 string (with or without fractional seconds)
//   - unix milliseconds as a JSON number (float64, int, int64, json.Number)
//   - time.Time
//
// Returns false when the field is absent, null, or unparseable.
func (d Document) UpdatedAt() (time.Time, bool) {
	if d == nil {
		return time.Time{}, false
	}
	raw, ok := d[UpdatedAtKey]
	if !ok || raw == nil {
		return time.Time{}, false
	}
	return ParseTimestamp(raw)
}

// ParseTimestamp converts one of the accepted updatedAt encodings to a time.
func ParseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		if v == "" {
			return time.Time{}, false
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(v)), true
	case int64:
		return time.UnixMilli(v), true
	case int:
		return time.UnixMilli(int64(v)), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return time.Time{}, false
			}
			n = int64(f)
		}
		return time.UnixMilli(n), true
	default:
		return time.Time{}, false
	}
}

// Clone returns a deep copy of the document.
// Nested maps and slices are copied; scalar values are shared.
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

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(Document(val).Clone())
	case Document:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return val
	}
}

// Without returns a copy of the document with the given keys removed.
func (d Document) Without(keys ...string) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Equal reports whether two documents have identical canonical JSON.
// Documents that cannot be canonicalised are never equal.
func Equal(a, b Document) bool {
	ab, err := MarshalCanonical(map[string]any(a))
	if err != nil {
		return false
	}
	bb, err := MarshalCanonical(map[string]any(b))
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

// Parse decodes a JSON object into a Document.
// Numbers decode as float64, matching encoding/json defaults.
func Parse(data []byte) (Document, error) {
	if len(data) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}
