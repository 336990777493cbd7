// Package docstore is a development document store that speaks the remote
// document API. It serves the regular files of a directory, or an in-memory
// set, as documents.
package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fruitsalade/lifionfs/pkg/models"
)

// DocumentID derives the identifier of a document from its name.
func DocumentID(name string) string {
	h := sha256.Sum256([]byte(name))
	return hex.EncodeToString(h[:8])
}

// Store holds documents either on disk or in memory.
type Store struct {
	rootDir string

	mu  sync.RWMutex
	mem map[string]string
}

// NewLocal serves the regular, non-hidden files of rootDir.
func NewLocal(rootDir string) (*Store, error) {
	absPath, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("root directory error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absPath)
	}
	return &Store{rootDir: absPath}, nil
}

// NewMemory serves the given name → script pairs.
func NewMemory(docs map[string]string) *Store {
	mem := make(map[string]string, len(docs))
	for k, v := range docs {
		mem[k] = v
	}
	return &Store{mem: mem}
}

// Put adds or replaces an in-memory document. On a local store it writes the
// file.
func (s *Store) Put(name, script string) error {
	if s.rootDir != "" {
		return os.WriteFile(filepath.Join(s.rootDir, filepath.Base(name)), []byte(script), 0644)
	}
	s.mu.Lock()
	s.mem[name] = script
	s.mu.Unlock()
	return nil
}

// Remove deletes a document by name.
func (s *Store) Remove(name string) error {
	if s.rootDir != "" {
		return os.Remove(filepath.Join(s.rootDir, filepath.Base(name)))
	}
	s.mu.Lock()
	delete(s.mem, name)
	s.mu.Unlock()
	return nil
}

// List returns every document sorted by name, without scripts.
func (s *Store) List(ctx context.Context) ([]models.Document, error) {
	var docs []models.Document
	if s.rootDir == "" {
		s.mu.RLock()
		for name, script := range s.mem {
			docs = append(docs, models.Document{ID: DocumentID(name), Name: name, Size: int64(len(script))})
		}
		s.mu.RUnlock()
	} else {
		entries, err := os.ReadDir(s.rootDir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if strings.HasPrefix(entry.Name(), ".") || !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			docs = append(docs, models.Document{ID: DocumentID(entry.Name()), Name: entry.Name(), Size: info.Size()})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs, nil
}

// Get returns the document with the given identifier. ok is false when no
// document has that identifier.
func (s *Store) Get(ctx context.Context, id string) (doc models.Document, ok bool, err error) {
	docs, err := s.List(ctx)
	if err != nil {
		return models.Document{}, false, err
	}
	for _, d := range docs {
		if d.ID != id {
			continue
		}
		script, err := s.read(d.Name)
		if err != nil {
			return models.Document{}, false, err
		}
		d.Script = script
		d.Size = int64(len(script))
		return d, true, nil
	}
	return models.Document{}, false, nil
}

func (s *Store) read(name string) (string, error) {
	if s.rootDir == "" {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.mem[name], nil
	}
	b, err := os.ReadFile(filepath.Join(s.rootDir, name))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%s: not valid UTF-8 text", name)
	}
	return string(b), nil
}
