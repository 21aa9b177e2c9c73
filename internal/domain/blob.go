package domain

import (
	"bytes"
	"encoding/json"
)

// MaxBlobSize bounds a single opaque snapshot.
const MaxBlobSize = 64 * 1024

// Blob is an opaque snapshot owned by the producer that wrote it.
// Schema and Version let producers and consumers agree on the shape of
// Data; the ledger stores and returns Data untouched and never parses it.
type Blob struct {
	Schema  string          `json:"schema,omitempty"`
	Version int             `json:"version,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// NewBlob marshals v into a blob tagged with schema and version.
func NewBlob(schema string, version int, v any) (*Blob, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return &Blob{Schema: schema, Version: version, Data: data}, nil
}

// Size is the stored payload size in bytes.
func (b *Blob) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Equal compares two blobs byte for byte.
func (b *Blob) Equal(o *Blob) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.Schema == o.Schema && b.Version == o.Version && bytes.Equal(b.Data, o.Data)
}

// Clone returns a copy that shares no memory with b.
func (b *Blob) Clone() *Blob {
	if b == nil {
		return nil
	}

	c := *b
	if b.Data != nil {
		c.Data = append(json.RawMessage(nil), b.Data...)
	}

	return &c
}
