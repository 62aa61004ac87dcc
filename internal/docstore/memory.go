package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryDoc struct {
	data      []byte
	updatedAt time.Time
}

// Memory is an in-process Store. Reads and writes run under one lock, which
// makes Batch atomic. Update additionally holds a per-path lock while fn runs,
// so fn may read other documents from the same store.
type Memory struct {
	mu    sync.Mutex
	docs  map[string]memoryDoc
	locks map[string]*sync.Mutex
	now   func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]memoryDoc),
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// Get decodes the document at path into dst. It reports false when absent.
func (m *Memory) Get(ctx context.Context, path string, dst any) (bool, error) {
	if err := ValidatePath(path); err != nil {
		return false, err
	}

	m.mu.Lock()
	doc, ok := m.docs[path]
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := Unmarshal(doc.data, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// Set writes one document, replacing or shallow-merging it.
func (m *Memory) Set(ctx context.Context, path string, value any, merge bool) error {
	kind := WriteSet
	if merge {
		kind = WriteMerge
	}
	return m.Batch(ctx, []Write{{Kind: kind, Path: path, Value: value}})
}

// Batch applies writes atomically.
func (m *Memory) Batch(ctx context.Context, writes []Write) error {
	type staged struct {
		path   string
		data   []byte
		delete bool
		merge  bool
	}

	// Encode everything first so a bad value leaves the store untouched.
	plan := make([]staged, 0, len(writes))
	for _, w := range writes {
		if err := ValidatePath(w.Path); err != nil {
			return err
		}
		if w.Kind == WriteDelete {
			plan = append(plan, staged{path: w.Path, delete: true})
			continue
		}
		data, err := Marshal(w.Value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", w.Path, err)
		}
		plan = append(plan, staged{path: w.Path, data: data, merge: w.Kind == WriteMerge})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*memoryDoc, len(plan))
	lookup := func(path string) (memoryDoc, bool) {
		if d, ok := next[path]; ok {
			if d == nil {
				return memoryDoc{}, false
			}
			return *d, true
		}
		d, ok := m.docs[path]
		return d, ok
	}

	now := m.now()
	for _, s := range plan {
		if s.delete {
			next[s.path] = nil
			continue
		}
		data := s.data
		if s.merge {
			if cur, ok := lookup(s.path); ok {
				merged, err := MergeJSON(cur.data, s.data)
				if err != nil {
					return fmt.Errorf("merge %s: %w", s.path, err)
				}
				data = merged
			}
		}
		next[s.path] = &memoryDoc{data: data, updatedAt: now}
	}

	for path, d := range next {
		if d == nil {
			delete(m.docs, path)
			continue
		}
		m.docs[path] = *d
	}
	return nil
}

// Update runs fn with the path locked and stores what it returns.
func (m *Memory) Update(ctx context.Context, path string, fn UpdateFunc) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	lock := m.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	var current []byte
	doc, exists := m.docs[path]
	if exists {
		current = append([]byte(nil), doc.data...)
	}
	m.mu.Unlock()

	value, err := fn(m, current, exists)
	if err != nil {
		return err
	}

	data, err := Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	m.mu.Lock()
	m.docs[path] = memoryDoc{data: data, updatedAt: m.now()}
	m.mu.Unlock()
	return nil
}

func (m *Memory) pathLock(path string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[path] = lock
	}
	return lock
}

// List returns the documents under prefix ordered by path.
func (m *Memory) List(ctx context.Context, prefix string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Document
	for path, doc := range m.docs {
		if strings.HasPrefix(path, prefix) {
			out = append(out, Document{
				Path:      path,
				Data:      append([]byte(nil), doc.data...),
				UpdatedAt: doc.updatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// DeleteCollection removes every document under prefix and returns the count.
func (m *Memory) DeleteCollection(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrInvalidPath
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for path := range m.docs {
		if strings.HasPrefix(path, prefix) {
			delete(m.docs, path)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
