package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const metaExpiresAt = "expires-at"

// S3Store stores snapshots as objects under a key prefix.
//
// Example usage:
//
//	client := store.NewS3Client("us-east-1", "")
//	st := store.NewS3Store(client, "my-bucket", "snapshots/")
type S3Store struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
	closed atomic.Bool
}

// NewS3Store creates a new S3 snapshot store.
//
// Parameters:
//   - client: S3 client, usually *s3.Client
//   - bucket: S3 bucket name
//   - prefix: key prefix for snapshots (e.g., "snapshots/")
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// NewS3Client builds an S3 client for region. Credentials come from
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, and AWS_SESSION_TOKEN. A
// non-empty endpoint selects an S3-compatible service with path-style
// addressing.
func NewS3Client(region, endpoint string) *s3.Client {
	cfg := aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

func envCredentials(context.Context) (aws.Credentials, error) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New("store: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}

func (s *S3Store) key(id string) string { return s.prefix + id }

// Save uploads data with an expiration time kept in object metadata.
func (s *S3Store) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed{}
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(data)),
		Metadata: map[string]string{
			metaExpiresAt: strconv.FormatInt(unixNanos(expiresAt), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", id, err)
	}
	return nil
}

// Load downloads data if the object exists and hasn't expired.
func (s *S3Store) Load(ctx context.Context, id string) ([]byte, error) {
	data, expiresAt, err := s.get(ctx, id)
	if err != nil || data == nil {
		return nil, err
	}
	if expired(expiresAt, s.now()) {
		return nil, nil
	}
	return data, nil
}

func (s *S3Store) get(ctx context.Context, id string) ([]byte, time.Time, error) {
	if s.closed.Load() {
		return nil, time.Time{}, ErrStoreClosed{}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("s3 get %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("s3 read %s: %w", id, err)
	}
	return data, parseExpiry(out.Metadata), nil
}

func parseExpiry(meta map[string]string) time.Time {
	n, err := strconv.ParseInt(meta[metaExpiresAt], 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Delete removes the object.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed{}
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", id, err)
	}
	return nil
}

// Touch rewrites the object with a new expiration time. S3 metadata cannot
// be changed in place.
func (s *S3Store) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	data, _, err := s.get(ctx, id)
	if err != nil || data == nil {
		return err
	}
	return s.Save(ctx, id, data, expiresAt)
}

// SaveAll uploads snapshots one at a time; S3 has no multi-object put.
func (s *S3Store) SaveAll(ctx context.Context, records map[string]Record) error {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := records[id]
		if err := s.Save(ctx, id, r.Data, r.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// List returns the ids under the prefix. Expiry is not checked because
// listing does not return metadata.
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed{}
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	ids := []string{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			ids = append(ids, strings.TrimPrefix(aws.ToString(obj.Key), s.prefix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close marks the store closed. The client is not owned by the store.
func (s *S3Store) Close() error {
	s.closed.Store(true)
	return nil
}

func contentType(data []byte) string {
	if len(data) > 0 && data[0] == '{' {
		return "application/json"
	}
	return "application/cbor"
}
