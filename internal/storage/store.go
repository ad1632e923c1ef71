package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no artifact is stored for a context.
var ErrNotFound = errors.New("artifact not found")

// Artifact describes one stored WAR file.
type Artifact struct {
	Context  string    `json:"context"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	SHA256   string    `json:"sha256"`
	StoredAt time.Time `json:"stored_at"`
}

// Store holds the artifacts deployed on a node, keyed by context.
// All implementations must be safe for concurrent use.
type Store interface {
	// Put reads r to the end and stores it under context, replacing any
	// previous artifact for that context.
	Put(context, filename string, r io.Reader) (Artifact, error)

	// Get returns the artifact bytes and metadata.
	// Returns ErrNotFound if nothing is stored for context.
	Get(context string) ([]byte, Artifact, error)

	// Delete removes the artifact. No error if it does not exist.
	Delete(context string) error

	// List returns metadata of every artifact, sorted by context.
	List() []Artifact

	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Artifacts int   `json:"artifacts"`
	Bytes     int64 `json:"bytes"`
}

type entry struct {
	meta Artifact
	data []byte
}

// MemoryStore implements Store in memory.
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]entry
	maxSize int64
	now     func() time.Time
}

// NewMemoryStore creates an empty store. maxSize bounds a single artifact;
// zero means unbounded.
func NewMemoryStore(maxSize int64) *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]entry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Put reads r fully, hashing it on the way, and stores the bytes under
// context. An artifact larger than the store's maxSize is rejected and
// nothing is stored.
//
// Parameters:
//   - context: Key, typically vhost plus webapp context
//   - filename: Original file name, kept as metadata
//   - r: Artifact contents
//
// Returns:
//   - Metadata of the stored artifact (size, SHA-256, time)
//   - An error for an empty context, an oversize artifact or a read failure
//
// Example:
//
//	store := storage.NewMemoryStore(0)
//	meta, err := store.Put("localhost/shop##42", "shop##42.war", req.Body)
func (m *MemoryStore) Put(context, filename string, r io.Reader) (Artifact, error) {
	if context == "" {
		return Artifact{}, errors.New("artifact context is empty")
	}
	src := r
	if m.maxSize > 0 {
		src = io.LimitReader(r, m.maxSize+1)
	}

	var buf bytes.Buffer
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(&buf, h), src)
	if err != nil {
		return Artifact{}, fmt.Errorf("reading artifact %s: %w", filename, err)
	}
	if m.maxSize > 0 && n > m.maxSize {
		return Artifact{}, fmt.Errorf("artifact %s exceeds %d bytes", filename, m.maxSize)
	}

	meta := Artifact{
		Context:  context,
		Filename: filename,
		Size:     n,
		SHA256:   hex.EncodeToString(h.Sum(nil)),
		StoredAt: m.now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[context] = entry{meta: meta, data: buf.Bytes()}
	return meta, nil
}

// Get returns a copy of the stored bytes.
func (m *MemoryStore) Get(context string) ([]byte, Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[context]
	if !ok {
		return nil, Artifact{}, ErrNotFound
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, e.meta, nil
}

// Delete removes the artifact stored under context, if any.
func (m *MemoryStore) Delete(context string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, context)
	return nil
}

// List returns the metadata of every artifact, sorted by context.
func (m *MemoryStore) List() []Artifact {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Artifact, 0, len(m.data))
	for _, e := range m.data {
		out = append(out, e.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Context < out[j].Context })
	return out
}

// Stats counts stored artifacts and their total size.
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.data {
		total += e.meta.Size
	}
	return StoreStats{Artifacts: len(m.data), Bytes: total}
}
