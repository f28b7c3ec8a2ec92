package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GCSProvider uploads to a Google Cloud Storage bucket
type GCSProvider struct {
	client        *gcs.Client
	bucket        string
	prefix        string
	publicBaseURL string
}

// NewGCSProvider creates a Google Cloud Storage provider
func NewGCSProvider() *GCSProvider {
	return &GCSProvider{}
}

// Initialize sets up the GCS client. Config keys: bucket (required);
// credentialFile, prefix, publicBaseUrl (optional).
func (g *GCSProvider) Initialize(config map[string]string) error {
	g.bucket = config["bucket"]
	if g.bucket == "" {
		return fmt.Errorf("bucket is required for Google Cloud Storage")
	}
	g.prefix = config["prefix"]
	g.publicBaseURL = strings.TrimSuffix(config["publicBaseUrl"], "/")

	var opts []option.ClientOption
	if credFile := config["credentialFile"]; credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}

	client, err := gcs.NewClient(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create Google Cloud Storage client: %w", err)
	}
	g.client = client
	return nil
}

// Upload writes the file to the bucket. Objects are expected to be
// publicly readable through bucket policy.
func (g *GCSProvider) Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress ProgressFunc) (*UploadResult, error) {
	key := fmt.Sprintf("%s%d-%s-%s", g.prefix, time.Now().Unix(), uuid.NewString()[:8], strings.ReplaceAll(name, " ", "_"))

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, newCountingReader(content, size, progress)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write file content to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize GCS upload: %w", err)
	}

	publicURL := g.publicBaseURL + "/" + key
	if g.publicBaseURL == "" {
		publicURL = fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key)
	}
	return &UploadResult{PublicURL: publicURL, Key: key}, nil
}
