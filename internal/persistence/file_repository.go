package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"perp-grid-bot-go/internal/models"
)

// fileRepository keeps the snapshot as a single JSON file. Writes go to a temp
// file in the same directory and are renamed over the target.
type fileRepository struct {
	path string
}

func NewFileRepository(path string) (SnapshotRepository, error) {
	if path == "" {
		return nil, errors.New("snapshot path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	return &fileRepository{path: path}, nil
}

func (r *fileRepository) SaveSnapshot(s *models.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), "."+filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (r *fileRepository) LoadSnapshot() (*models.Snapshot, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (r *fileRepository) Close() error { return nil }
