package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"dcwatch/internal/logging"
)

// DocumentVersion tags the on-disk format. Files without a version are the
// original untagged layout and are upgraded on the next write.
const DocumentVersion = 1

// Document is the persisted form of the queue.
type Document struct {
	Version int      `json:"version"`
	Queue   []Task   `json:"queue"`
	Seen    []string `json:"seen"`
}

// Store persists a Document.
type Store interface {
	Load() (Document, error)
	Save(doc Document) error
}

// FileStore keeps the queue in one JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the queue file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the queue file. A missing file yields an empty Document; an
// unreadable one is moved aside to <path>.corrupt-<unix> and the queue starts
// empty.
func (s *FileStore) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{Version: DocumentVersion}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read queue file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			return Document{}, fmt.Errorf("queue file corrupt (%v) and could not be moved aside: %w", err, renameErr)
		}
		logging.QueueWarn("queue file %s is corrupt (%v); moved to %s, starting fresh", s.path, err, aside)
		return Document{Version: DocumentVersion}, nil
	}
	return doc, nil
}

// Save writes doc atomically (temp file + rename).
func (s *FileStore) Save(doc Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}

	doc.Version = DocumentVersion
	if doc.Queue == nil {
		doc.Queue = []Task{}
	}
	if doc.Seen == nil {
		doc.Seen = []string{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp queue file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
