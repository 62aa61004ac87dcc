// Package docstore defines the hierarchical document store the aggregation
// pipeline persists to, plus an in-process implementation.
//
// Paths are slash separated ("aggregates/camps/Fire/Pass 7"). Values are
// encoded as JSON objects.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidPath is returned for empty paths or paths with empty segments.
var ErrInvalidPath = errors.New("docstore: invalid document path")

// Document is a stored value and its location.
type Document struct {
	Path      string
	Data      []byte
	UpdatedAt time.Time
}

// ID returns the last path segment.
func (d Document) ID() string {
	if i := strings.LastIndex(d.Path, "/"); i >= 0 {
		return d.Path[i+1:]
	}
	return d.Path
}

// Decode unmarshals the document into dst.
func (d Document) Decode(dst any) error {
	return Unmarshal(d.Data, dst)
}

// WriteKind selects what a batched write does.
type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteMerge
	WriteDelete
)

// Write is one operation of an atomic batch.
type Write struct {
	Kind  WriteKind
	Path  string
	Value any
}

// SetWrite replaces the document at path.
func SetWrite(path string, value any) Write {
	return Write{Kind: WriteSet, Path: path, Value: value}
}

// MergeWrite merges top-level fields into the document at path.
func MergeWrite(path string, value any) Write {
	return Write{Kind: WriteMerge, Path: path, Value: value}
}

// DeleteWrite removes the document at path.
func DeleteWrite(path string) Write {
	return Write{Kind: WriteDelete, Path: path}
}

// Reader reads documents. Inside an UpdateFunc it is bound to the update's
// transaction, so reads there never need a second connection.
type Reader interface {
	Get(ctx context.Context, path string, dst any) (bool, error)
}

// UpdateFunc receives a reader bound to the update and the current encoded
// document (nil when absent), and returns the value to store. Returning an
// error aborts the update.
type UpdateFunc func(tx Reader, current []byte, exists bool) (any, error)

// Store is the storage capability set the pipeline relies on.
type Store interface {
	// Get decodes the document at path into dst and reports whether it exists.
	Get(ctx context.Context, path string, dst any) (bool, error)
	// Set writes value at path; merge keeps top-level fields not present in value.
	Set(ctx context.Context, path string, value any, merge bool) error
	// Batch applies all writes atomically.
	Batch(ctx context.Context, writes []Write) error
	// Update runs a read-modify-write on one document as a critical section.
	Update(ctx context.Context, path string, fn UpdateFunc) error
	// List returns every document whose path starts with prefix, ordered by path.
	List(ctx context.Context, prefix string) ([]Document, error)
	// DeleteCollection removes every document under prefix and returns the count.
	DeleteCollection(ctx context.Context, prefix string) (int, error)
}

// Marshal encodes a document value.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a document value.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// MergeJSON shallow-merges the top-level fields of patch into base.
func MergeJSON(base, patch []byte) ([]byte, error) {
	fields := map[string]jsoniter.RawMessage{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &fields); err != nil {
			return nil, err
		}
	}

	var patchFields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(patch, &patchFields); err != nil {
		return nil, err
	}
	for k, v := range patchFields {
		fields[k] = v
	}

	return json.Marshal(fields)
}

// ValidatePath checks that path has no empty segments.
func ValidatePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return ErrInvalidPath
		}
	}
	return nil
}

// Collection joins segments into a prefix that ends with a slash.
func Collection(segments ...string) string {
	return strings.Join(segments, "/") + "/"
}

// Path joins segments into a document path.
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}
