package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sishengcao/paddleocr-api/pkg/logger"
)

// LocalStorage keeps artifacts on the local filesystem under baseDir.
// Keys map to relative paths; nothing outside baseDir is ever touched.
type LocalStorage struct {
	baseDir string
	logger  logger.Logger
}

func NewLocalStorage(baseDir string, log logger.Logger) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir, logger: log}, nil
}

func (l *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == ".." || filepath.IsAbs(clean) || len(clean) >= 3 && clean[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	return filepath.Join(l.baseDir, clean), nil
}

// Store implements Storage.Store
func (l *LocalStorage) Store(ctx context.Context, reader io.Reader, filename string) (string, error) {
	target, err := l.path(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return filename, nil
}

// Get implements Storage.Get
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	target, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete implements Storage.Delete
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	target, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// CleanupBefore implements Storage.CleanupBefore
func (l *LocalStorage) CleanupBefore(ctx context.Context, threshold time.Time) error {
	return filepath.Walk(l.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if info.ModTime().Before(threshold) {
			if err := os.Remove(path); err != nil {
				l.logger.Error("Failed to delete expired file",
					logger.String("path", path),
					logger.Error(err),
				)
				return nil
			}
			l.logger.Info("Deleted expired file",
				logger.String("path", path),
				logger.Time("modTime", info.ModTime()),
			)
		}
		return nil
	})
}

// BasePath returns the absolute location of a stored key.
func (l *LocalStorage) BasePath(key string) string {
	return filepath.Join(l.baseDir, key)
}
