package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps every key in one JSON object on disk, rewritten whole on each mutation.
//
// The mutex serializes callers inside one process only. Two processes sharing the file can still
// lose a decrement between read and rewrite.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, key string) (Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return Key{}, err
	}

	info, ok := keys[key]
	if !ok {
		return Key{}, ErrKeyNotFound
	}

	return info, nil
}

func (s *FileStore) Decrement(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return 0, err
	}

	info, ok := keys[key]
	if !ok {
		return 0, ErrKeyNotFound
	}
	if info.Unlimited() {
		return Unlimited, nil
	}
	if info.Remaining <= 0 {
		return 0, nil
	}

	info.Remaining--
	keys[key] = info
	if err := s.save(keys); err != nil {
		return 0, err
	}

	return info.Remaining, nil
}

func (s *FileStore) Generate(_ context.Context, count int, quota int) ([]string, error) {
	if err := validateGenerate(count, quota); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.load()
	if err != nil {
		return nil, err
	}

	createdAt := unixNow(s.now())
	generated := make([]string, 0, count)
	for len(generated) < count {
		key, err := NewKey()
		if err != nil {
			return nil, err
		}
		if _, exists := keys[key]; exists {
			continue
		}
		keys[key] = Key{Key: key, Remaining: quota, CreatedAt: createdAt}
		generated = append(generated, key)
	}

	if err := s.save(keys); err != nil {
		return nil, err
	}

	storeLogger().Info("keys generated", "count", count, "quota", quota, "path", s.path)
	return generated, nil
}

func (s *FileStore) GenerateUnlimited(ctx context.Context) (string, error) {
	keys, err := s.Generate(ctx, 1, Unlimited)
	if err != nil {
		return "", err
	}

	return keys[0], nil
}

// load returns an empty set when the file does not exist yet.
func (s *FileStore) load() (map[string]Key, error) {
	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Key{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keys file: %w", err)
	}

	keys := map[string]Key{}
	if len(content) == 0 {
		return keys, nil
	}
	if err := json.Unmarshal(content, &keys); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}

	return keys, nil
}

// save replaces the file through a temp file and rename so readers never see a partial write.
func (s *FileStore) save(keys map[string]Key) error {
	content, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("encode keys: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".keys-*.json")
	if err != nil {
		return fmt.Errorf("create temp keys file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp keys file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp keys file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp keys file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace keys file: %w", err)
	}

	return nil
}

func storeLogger() *slog.Logger {
	return slog.Default().With("component", "quota.store")
}
