// Package storage uploads staged files to a destination that serves
// them over a public URL, so the print backend can fetch them by
// reference.
package storage

import (
	"context"
	"io"
)

// ProgressFunc receives transfer progress. total is -1 when unknown.
type ProgressFunc func(transferred, total int64)

// UploadResult identifies an uploaded file
type UploadResult struct {
	// PublicURL is where the backend can fetch the file
	PublicURL string
	// Key is the provider-side object identifier
	Key string
}

// Provider is implemented by each upload destination
type Provider interface {
	// Initialize sets up the provider with configuration
	Initialize(config map[string]string) error

	// Upload stores the file and returns its public location.
	// progress may be nil.
	Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress ProgressFunc) (*UploadResult, error)
}

// countingReader reports bytes read through it
type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func newCountingReader(r io.Reader, total int64, progress ProgressFunc) io.Reader {
	if progress == nil {
		return r
	}
	return &countingReader{r: r, total: total, progress: progress}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		c.progress(c.read, c.total)
	}
	return n, err
}
