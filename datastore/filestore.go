// Package datastore provides a file-backed DataStore for offline bootstrap:
// the latest ruleset is mirrored to disk on every network update and adopted
// on startup when the network is unavailable. An optional watcher surfaces
// out-of-band writes (another process refreshing the cache).
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore keeps one file per key under a root directory.
type FileStore struct {
	dir string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	handlers map[string]func(data []byte)
	watching bool
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data store dir: %w", err)
	}
	return &FileStore{dir: dir, handlers: make(map[string]func([]byte))}, nil
}

func (s *FileStore) path(key string) string {
	safe := strings.NewReplacer("/", "_", ":", "_").Replace(key)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Set writes atomically via a temp file so a concurrent Get never observes a
// torn payload.
func (s *FileStore) Set(ctx context.Context, key string, value []byte, lcut int64) error {
	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("write data store file: %w", err)
	}
	return os.Rename(tmp, target)
}

// Watch invokes fn with the new contents whenever the key's file is written
// by another process. The first Watch starts the fsnotify loop.
func (s *FileStore) Watch(key string, fn func(data []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := w.Add(s.dir); err != nil {
			_ = w.Close()
			return fmt.Errorf("watch %s: %w", s.dir, err)
		}
		s.watcher = w
	}
	s.handlers[s.path(key)] = fn

	if !s.watching {
		s.watching = true
		go s.watchLoop()
	}
	return nil
}

func (s *FileStore) watchLoop() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.mu.Lock()
			fn := s.handlers[ev.Name]
			s.mu.Unlock()
			if fn == nil {
				continue
			}
			data, err := os.ReadFile(ev.Name)
			if err != nil || len(data) == 0 {
				continue
			}
			fn(data)
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}
