package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MetaKey is the reserved key holding the document descriptor in Record.Map.
const MetaKey = "properties"

// Fields maps extracted field names to values.
type Fields map[string]any

// Record is one parsed unit: a document, a collection row or a message.
type Record struct {
	ID     string
	Fields Fields
	Meta   Document
}

// NewRecord builds a record for doc. The fields map is copied.
func NewRecord(doc Document, fields Fields) Record {
	copied := make(Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Record{ID: uuid.NewString(), Fields: copied, Meta: doc}
}

// ErrorRecord builds a record without fields for a failed document.
func ErrorRecord(doc Document, err error) Record {
	return NewRecord(doc.WithError(err), nil)
}

// Text returns the "text" field, if any.
func (r Record) Text() (string, bool) {
	v, ok := r.Fields["text"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Map flattens the record. Fields colliding with "id" or MetaKey get a "_" prefix.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		if k == MetaKey || k == "id" {
			k = "_" + k
		}
		out[k] = v
	}
	out["id"] = r.ID
	out[MetaKey] = r.Meta
	return out
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

func (r Record) MarshalYAML() (any, error) {
	return r.Map(), nil
}
