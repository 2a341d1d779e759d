package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore writes validated flow documents to a flows directory so they can
// be handed to the bot engine.
type FileStore struct {
	BasePath string
	mutex    sync.Mutex
}

// NewFileStore creates a new file-based flow store
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create flows directory: %w", err)
	}

	return &FileStore{BasePath: basePath}, nil
}

// SaveFlow writes a flow document as an indented JSON file and returns the
// path. An empty name yields a timestamped filename.
func (s *FileStore) SaveFlow(doc map[string]any, name string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if name == "" {
		name = fmt.Sprintf("flow_%s.json", time.Now().Format("20060102_150405"))
	}
	if filepath.Ext(name) != ".json" {
		name += ".json"
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal flow: %w", err)
	}

	// Sanitize the name to be a valid filename
	path := filepath.Join(s.BasePath, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write flow file: %w", err)
	}

	return path, nil
}

// List returns the filenames of all saved flows
func (s *FileStore) List() ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read flows directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		names = append(names, entry.Name())
	}

	return names, nil
}
