package idlists

import (
	"bufio"
	"bytes"
	"strings"
	"sync"

	"gatehouse/internal/telemetry/logging"
)

// Metadata describes one membership list as advertised by the manifest.
type Metadata struct {
	URL          string  `json:"url"`
	Size         int64   `json:"size"`
	CreationTime int64   `json:"creationTime"`
	FileID       *string `json:"fileID,omitempty"`
}

// Update is one list's incremental changeset plus its new metadata.
type Update struct {
	RawChangeset []byte
	NewMetadata  Metadata
}

// Store holds every known list as a set of 8-character sha256 prefixes. The
// evaluator reads through Contains on the hot path; updates arrive from the
// adapter's background sync.
type Store struct {
	log *logging.Logger

	mu    sync.RWMutex
	lists map[string]*list
}

type list struct {
	meta Metadata
	ids  map[string]struct{}
}

func NewStore(log *logging.Logger) *Store {
	return &Store{log: log.Tagged("IdListStore"), lists: make(map[string]*list)}
}

// Contains reports membership of an 8-char hash prefix in the named list.
func (s *Store) Contains(listName, hashPrefix string) bool {
	s.mu.RLock()
	l := s.lists[listName]
	var ok bool
	if l != nil {
		_, ok = l.ids[hashPrefix]
	}
	s.mu.RUnlock()
	return ok
}

// Metadata snapshots the current per-list metadata, which the adapter diffs
// against a fresh manifest to decide full vs range downloads.
func (s *Store) Metadata() map[string]Metadata {
	s.mu.RLock()
	out := make(map[string]Metadata, len(s.lists))
	for name, l := range s.lists {
		out[name] = l.meta
	}
	s.mu.RUnlock()
	return out
}

// CurrentMetadata and DidReceiveIDListUpdates make the store the adapter's
// default listener.
func (s *Store) CurrentMetadata() map[string]Metadata { return s.Metadata() }

func (s *Store) DidReceiveIDListUpdates(updates map[string]Update) { s.Apply(updates) }

// Apply installs a batch of changesets. Lists absent from the batch are
// deleted: the manifest is authoritative for existence.
func (s *Store) Apply(updates map[string]Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.lists {
		if _, ok := updates[name]; !ok {
			delete(s.lists, name)
			s.log.Debug("list removed", "list", name)
		}
	}

	for name, u := range updates {
		l := s.lists[name]
		fresh := l == nil || changedIdentity(l.meta, u.NewMetadata)
		if fresh {
			l = &list{ids: make(map[string]struct{})}
			s.lists[name] = l
		}
		applyChangeset(l.ids, u.RawChangeset)
		l.meta = u.NewMetadata
	}
}

// changedIdentity reports whether the list was re-created upstream, which
// forces a local rebuild instead of an append.
func changedIdentity(old, next Metadata) bool {
	if old.CreationTime != next.CreationTime {
		return true
	}
	oldID, nextID := "", ""
	if old.FileID != nil {
		oldID = *old.FileID
	}
	if next.FileID != nil {
		nextID = *next.FileID
	}
	return oldID != nextID
}

// applyChangeset walks newline-delimited "+hash" / "-hash" entries.
func applyChangeset(ids map[string]struct{}, raw []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < 2 {
			continue
		}
		op, hash := line[0], line[1:]
		switch op {
		case '+':
			ids[hash] = struct{}{}
		case '-':
			delete(ids, hash)
		}
	}
}
