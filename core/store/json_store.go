package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/wricardo/mcp-training/userdirectory/core/service"
)

// JSONFileStore implements service.UserStore on a single JSON file
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONFileStore creates a store backed by path. The file and its directory
// are created when missing.
func NewJSONFileStore(path string) (*JSONFileStore, error) {
	if path == "" {
		return nil, errors.New("json store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	s := &JSONFileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write([]service.User{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the file the store reads and writes
func (s *JSONFileStore) Path() string {
	return s.path
}

// List returns every user in file order
func (s *JSONFileStore) List(ctx context.Context) ([]service.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Append assigns the next id to u and persists it
func (s *JSONFileStore) Append(ctx context.Context, u service.NewUser) (service.User, error) {
	if err := ctx.Err(); err != nil {
		return service.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.read()
	if err != nil {
		return service.User{}, err
	}
	user := u.WithID(nextID(users))
	users = append(users, user)
	if err := s.write(users); err != nil {
		return service.User{}, err
	}
	return user, nil
}

// Close is a no-op; the file is opened per operation
func (s *JSONFileStore) Close() error {
	return nil
}

func (s *JSONFileStore) read() ([]service.User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []service.User{}, nil
		}
		return nil, errors.Wrap(err, "read users file")
	}
	var users []service.User
	if len(data) == 0 {
		return []service.User{}, nil
	}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, errors.Wrap(err, "parse users file")
	}
	return users, nil
}

func (s *JSONFileStore) write(users []service.User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal users")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".users-*.json")
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
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "replace users file")
	}
	return nil
}
