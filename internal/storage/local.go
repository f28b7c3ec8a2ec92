package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalProvider writes files into a directory the kiosk serves itself.
// Useful on LAN setups where the print backend can reach the kiosk.
type LocalProvider struct {
	basePath string
	baseURL  string
}

// NewLocalProvider creates a local filesystem provider
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

// Initialize sets up the storage directory. Config keys: basePath
// (default ./storage), baseUrl (public prefix for stored files).
func (l *LocalProvider) Initialize(config map[string]string) error {
	l.basePath = config["basePath"]
	if l.basePath == "" {
		l.basePath = "./storage"
	}
	l.baseURL = strings.TrimSuffix(config["baseUrl"], "/")

	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

// Upload copies the file into the storage directory
func (l *LocalProvider) Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress ProgressFunc) (*UploadResult, error) {
	key := uuid.NewString() + "-" + strings.ReplaceAll(name, " ", "_")
	path := filepath.Join(l.basePath, key)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, newCountingReader(content, size, progress)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}

	publicURL := l.baseURL + "/" + key
	if l.baseURL == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path: %w", err)
		}
		publicURL = "file://" + filepath.ToSlash(abs)
	}
	return &UploadResult{PublicURL: publicURL, Key: key}, nil
}

// BasePath returns the storage directory
func (l *LocalProvider) BasePath() string {
	return l.basePath
}
