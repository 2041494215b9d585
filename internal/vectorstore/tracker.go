// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loam Contributors

package vectorstore

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio"
	loamerr "github.com/loam-dev/loam/pkg/errors"
)

// Tracker is the durable, backend-independent registry of indexed document
// ids. The persisted file is a JSON array rewritten in full on every
// mutation via atomic rename; the mutex serializes the read-modify-write
// cycle since rename alone does not protect readers racing writers.
// A corrupt or missing file reads as empty, never as an error.
type Tracker struct {
	mu   sync.Mutex
	path string
}

// NewTracker creates a tracker persisting to path, creating the parent
// directory if needed.
func NewTracker(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, loamerr.Errorf(loamerr.CodeTrackerPersistFailure, "creating tracker directory: %w", err)
	}
	return &Tracker{path: path}, nil
}

// Add registers a document id. Idempotent; an empty id is a no-op.
func (t *Tracker) Add(documentID string) error {
	if documentID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.read()
	if _, ok := ids[documentID]; ok {
		return nil
	}
	ids[documentID] = struct{}{}
	return t.write(ids)
}

// Remove unregisters a document id. Idempotent; an empty or absent id is a
// no-op.
func (t *Tracker) Remove(documentID string) error {
	if documentID == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.read()
	if _, ok := ids[documentID]; !ok {
		return nil
	}
	delete(ids, documentID)
	return t.write(ids)
}

// List returns the tracked document ids in lexicographic order.
func (t *Tracker) List() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.read()
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return sorted
}

func (t *Tracker) read() map[string]struct{} {
	ids := make(map[string]struct{})

	data, err := os.ReadFile(t.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("reading tracker file, treating as empty", "path", t.path, "error", err)
		}
		return ids
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		slog.Warn("tracker file corrupt, treating as empty", "path", t.path, "error", err)
		return ids
	}

	for _, id := range list {
		ids[id] = struct{}{}
	}
	return ids
}

func (t *Tracker) write(ids map[string]struct{}) error {
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return loamerr.Errorf(loamerr.CodeTrackerPersistFailure, "encoding tracker state: %w", err)
	}

	if err := renameio.WriteFile(t.path, data, 0o644); err != nil {
		return loamerr.Errorf(loamerr.CodeTrackerPersistFailure, "writing tracker file: %w", err)
	}
	return nil
}
