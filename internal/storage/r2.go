package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"
)

// R2Provider uploads to Cloudflare R2 through its S3-compatible API
type R2Provider struct {
	bucket        string
	prefix        string
	publicBaseURL string
	uploader      *s3manager.Uploader
}

// NewR2Provider creates an R2 storage provider
func NewR2Provider() *R2Provider {
	return &R2Provider{}
}

// Initialize sets up the R2 client. Config keys: endpoint, bucket,
// accessKey, secretKey, publicBaseUrl (required); prefix (optional).
func (r *R2Provider) Initialize(config map[string]string) error {
	endpoint := config["endpoint"]
	if endpoint == "" {
		if account := config["accountId"]; account != "" {
			endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", account)
		} else {
			return fmt.Errorf("endpoint or accountId is required for R2 storage")
		}
	}

	r.bucket = config["bucket"]
	if r.bucket == "" {
		return fmt.Errorf("bucket is required for R2 storage")
	}
	r.publicBaseURL = strings.TrimSuffix(config["publicBaseUrl"], "/")
	if r.publicBaseURL == "" {
		return fmt.Errorf("publicBaseUrl is required for R2 storage")
	}
	r.prefix = config["prefix"]

	accessKey, secretKey := config["accessKey"], config["secretKey"]
	if accessKey == "" || secretKey == "" {
		return fmt.Errorf("accessKey and secretKey are required for R2 storage")
	}

	// R2 ignores the region but the SDK requires one
	sess, err := session.NewSession(&aws.Config{
		Region:           aws.String("auto"),
		Endpoint:         aws.String(endpoint),
		S3ForcePathStyle: aws.Bool(true),
		Credentials:      credentials.NewStaticCredentials(accessKey, secretKey, ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create R2 session: %w", err)
	}
	r.uploader = s3manager.NewUploader(sess)
	return nil
}

// Upload stores the file in the bucket and derives its public URL
// from the configured base.
func (r *R2Provider) Upload(ctx context.Context, name, contentType string, content io.Reader, size int64, progress ProgressFunc) (*UploadResult, error) {
	key := fmt.Sprintf("%s%d-%s-%s", r.prefix, time.Now().Unix(), uuid.NewString()[:8], strings.ReplaceAll(name, " ", "_"))

	_, err := r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        newCountingReader(content, size, progress),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file to R2: %w", err)
	}

	return &UploadResult{PublicURL: r.publicBaseURL + "/" + key, Key: key}, nil
}
