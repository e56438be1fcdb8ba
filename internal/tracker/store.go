package tracker

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FileStore keeps one JSON document per viewing user under dir.
type FileStore struct {
	path string
}

func NewFileStore(dir, userID string) *FileStore {
	return &FileStore{path: filepath.Join(dir, "seen-"+userID+".json")}
}

func (s *FileStore) Load() (map[string]time.Time, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]time.Time{}, nil
		}
		return nil, errors.Wrapf(err, "read %s", s.path)
	}

	seen := map[string]time.Time{}
	if err := json.Unmarshal(data, &seen); err != nil {
		return nil, errors.Wrapf(err, "decode %s", s.path)
	}
	return seen, nil
}

// Save replaces the document atomically.
func (s *FileStore) Save(seen map[string]time.Time) error {
	data, err := json.MarshalIndent(seen, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode seen records")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errors.Wrap(err, "create state dir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".seen-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), s.path), "replace seen records")
}

type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: map[string]time.Time{}}
}

func (s *MemoryStore) Load() (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.seen))
	for k, v := range s.seen {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Save(seen map[string]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = seen
	return nil
}
