package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage keeps snapshots as files in one directory. Writes go through a
// temporary file so a crash never leaves a truncated snapshot behind.
type FileStorage struct {
	basePath string
}

func NewFileStorage(basePath string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStorage{basePath: basePath}, nil
}

func (fs *FileStorage) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	return filepath.Join(fs.basePath, name), nil
}

func (fs *FileStorage) Save(_ context.Context, name string, data io.Reader) error {
	target, err := fs.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(fs.basePath, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	return os.Rename(tmp.Name(), target)
}

func (fs *FileStorage) Load(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := fs.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	return f, nil
}

// List skips directories and in-progress temporary files.
func (fs *FileStorage) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

func (fs *FileStorage) Delete(_ context.Context, name string) error {
	p, err := fs.path(name)
	if err != nil {
		return err
	}
	return os.Remove(p)
}
