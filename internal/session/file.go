package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kuitang/storefront-e2e/internal/obs"
)

// FileStore keeps the state in one local file.
type FileStore struct {
	path  string
	codec *Codec
}

// NewFileStore returns a store at path. A nil codec stores plaintext envelopes.
func NewFileStore(path string, codec *Codec) *FileStore {
	if codec == nil {
		codec = &Codec{}
	}
	return &FileStore{path: path, codec: codec}
}

func (s *FileStore) Location() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (*State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrCorrupt, s.path)
	}
	return s.codec.Decode(data)
}

// Save writes atomically: a temp file in the same directory is renamed over the target,
// so a concurrent reader sees either the old record or the new one.
func (s *FileStore) Save(ctx context.Context, st *State) error {
	data, err := s.codec.Encode(st)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("session: save %s: %w", s.path, err)
	}
	obs.From(ctx).With("pkg", "session").Info("state_saved",
		"location", s.path,
		"origin", st.Origin,
		"sealed", s.codec.Sealed(),
		"bytes", len(data),
	)
	return nil
}

func (s *FileStore) Delete(ctx context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: delete %s: %w", s.path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
