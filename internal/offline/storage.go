package offline

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Storage persists the snapshot blob under a single fixed key. Read returns
// fs.ErrNotExist when no blob has been written.
type Storage interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Delete() error
}

const snapshotFileName = "gameday_snapshot.json"

// FileStorage keeps the blob in one JSON file under a directory.
type FileStorage struct {
	path string
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStorage{path: filepath.Join(dir, snapshotFileName)}, nil
}

func (s *FileStorage) Read() ([]byte, error) {
	return os.ReadFile(s.path)
}

func (s *FileStorage) Write(data []byte) error {
	// write-then-rename so a crash mid-write never leaves a torn blob
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStorage) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryStorage is a goroutine-safe in-memory backend, used in tests.
type MemoryStorage struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Read() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return nil, fs.ErrNotExist
	}
	return append([]byte{}, s.data...), nil
}

func (s *MemoryStorage) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = append([]byte{}, data...)
	return nil
}

func (s *MemoryStorage) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	return nil
}
