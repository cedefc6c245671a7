package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/workernode/types"
)

// FileStore is the default Store: a single JSON document written via a
// temp-file-plus-rename so a crash mid-write never corrupts the persisted
// queue.
type FileStore struct {
	Path string
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

// Save writes doc to Path atomically.
func (f *FileStore) Save(doc types.PersistedQueueDocument) error {
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler filestore: marshal: %w", err)
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".scheduler-*.tmp")
	if err != nil {
		return fmt.Errorf("scheduler filestore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("scheduler filestore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("scheduler filestore: close: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("scheduler filestore: rename: %w", err)
	}
	return nil
}

// Load reads the persisted document from Path. A missing file is treated
// as an empty, freshly-initialized queue rather than an error.
func (f *FileStore) Load() (types.PersistedQueueDocument, error) {
	body, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return types.PersistedQueueDocument{Version: 1}, nil
	}
	if err != nil {
		return types.PersistedQueueDocument{}, fmt.Errorf("scheduler filestore: read: %w", err)
	}

	var doc types.PersistedQueueDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return types.PersistedQueueDocument{}, fmt.Errorf("scheduler filestore: unmarshal: %w", err)
	}
	return doc, nil
}

var _ Store = (*FileStore)(nil)
