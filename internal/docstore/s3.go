package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cortexuvula/pagesync/internal/config"
)

// S3 stores documents as objects in one bucket, keyed by their generated name.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 loads the default AWS credential chain and returns a bucket-backed store.
// A custom endpoint with path-style addressing supports MinIO and similar servers.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// Save uploads r as a new object.
func (s *S3) Save(ctx context.Context, originalName, contentType string, r io.Reader) (string, error) {
	name := NewName(originalName)

	// The body is buffered so the SDK can sign a seekable payload; uploads
	// are already capped by upload.max_file_size.
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, readerWithContext(ctx, r)); err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
		Body:   bytes.NewReader(buf.Bytes()),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("uploading document %s: %w", name, err)
	}

	slog.Debug("document stored", "filename", name, "original_name", originalName, "backend", "s3", "bucket", s.bucket)
	return name, nil
}

// Open streams the object for name.
func (s *S3) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, ErrInvalidName
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching document %s: %w", name, err)
	}
	return resp.Body, nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, err)
	}
	return nil
}
