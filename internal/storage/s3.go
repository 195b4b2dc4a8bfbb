package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configures an S3-backed blob store.
type S3Options struct {
	Bucket    string
	KeyPrefix string
	// PublicBaseURL, when set, is the base URL blobs are reachable under
	// (e.g. a CDN or website endpoint). Without it stored URLs use the
	// s3://bucket/key form.
	PublicBaseURL string
}

// S3Store keeps uploaded blobs in Amazon S3 (or compatible APIs).
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	opts     S3Options
}

func NewS3Store(client *s3.Client, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	opts.KeyPrefix = strings.Trim(opts.KeyPrefix, "/")
	opts.PublicBaseURL = strings.TrimRight(opts.PublicBaseURL, "/")
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
	}, nil
}

func (s *S3Store) Save(ctx context.Context, originalName string, r io.Reader) (StoredBlob, error) {
	name := generateName(originalName)
	key := s.key(name)

	counted := &countingReader{r: r}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
		Body:   counted,
		ACL:    types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return StoredBlob{}, fmt.Errorf("upload blob %s: %w", name, err)
	}

	return StoredBlob{
		Name:         name,
		OriginalName: originalName,
		URL:          s.url(key),
		Size:         counted.n,
	}, nil
}

func (s *S3Store) Delete(ctx context.Context, storedName string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(storedName)),
	})
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", storedName, err)
	}
	return nil
}

func (s *S3Store) key(name string) string {
	if s.opts.KeyPrefix == "" {
		return name
	}
	return s.opts.KeyPrefix + "/" + name
}

func (s *S3Store) url(key string) string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", s.opts.Bucket, key)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ Store = (*S3Store)(nil)
