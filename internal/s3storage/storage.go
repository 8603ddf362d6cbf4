// Package s3storage keeps blobs and export archives in S3-compatible object
// storage through minio-go. One Storage serves as both a blobstore.Backend
// and an export.Sink, each with its own bucket.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/config"
	"github.com/dharsanguruparan/HashDrop/internal/export"
	"github.com/dharsanguruparan/HashDrop/internal/model"
)

const zipContentType = "application/zip"

// Storage wraps MinIO/S3 interactions for blobs and exports.
type Storage struct {
	client       *minio.Client
	blobBucket   string
	exportBucket string
	region       string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:       client,
		blobBucket:   cfg.BlobBucket,
		exportBucket: cfg.ExportBucket,
		region:       cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the blob/export buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.blobBucket, s.exportBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Exists implements blobstore.Backend.
func (s *Storage) Exists(ctx context.Context, id blobstore.ID) (bool, error) {
	_, err := s.client.StatObject(ctx, s.blobBucket, blobKey(id), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

// Write implements blobstore.Backend. PutObject only returns once the
// object is durable on the server side.
func (s *Storage) Write(ctx context.Context, id blobstore.ID, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if _, err := s.client.PutObject(ctx, s.blobBucket, blobKey(id), bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

// Open implements blobstore.Backend.
func (s *Storage) Open(ctx context.Context, id blobstore.ID) (io.ReadCloser, error) {
	return s.open(ctx, s.blobBucket, blobKey(id))
}

// Put implements export.Sink.
func (s *Storage) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	if !export.ValidName(name) {
		return fmt.Errorf("invalid archive name %q", name)
	}
	opts := minio.PutObjectOptions{ContentType: zipContentType}
	if _, err := s.client.PutObject(ctx, s.exportBucket, exportKey(name), r, size, opts); err != nil {
		return fmt.Errorf("put archive: %w", err)
	}
	return nil
}

// OpenArchive returns an export archive. It backs export.Sink's Open via
// the sink adapter so the method name does not clash with the blob Open.
func (s *Storage) OpenArchive(ctx context.Context, name string) (io.ReadCloser, error) {
	if !export.ValidName(name) {
		return nil, fmt.Errorf("archive %q: %w", name, model.ErrNotFound)
	}
	return s.open(ctx, s.exportBucket, exportKey(name))
}

// URL implements export.Sink with a presigned GET.
func (s *Storage) URL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if !export.ValidName(name) {
		return "", fmt.Errorf("archive %q: %w", name, model.ErrNotFound)
	}
	if _, err := s.client.StatObject(ctx, s.exportBucket, exportKey(name), minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("archive %s: %w", name, model.ErrNotFound)
		}
		return "", fmt.Errorf("stat archive: %w", err)
	}
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", name))
	u, err := s.client.PresignedGetObject(ctx, s.exportBucket, exportKey(name), ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign archive: %w", err)
	}
	return u.String(), nil
}

// Exports adapts the Storage to export.Sink.
func (s *Storage) Exports() export.Sink {
	return exportSink{s}
}

type exportSink struct{ *Storage }

func (e exportSink) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return e.OpenArchive(ctx, name)
}

// open fetches an object. GetObject is lazy, so the Stat call surfaces a
// missing key before the caller starts streaming.
func (s *Storage) open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s: %w", key, model.ErrNotFound)
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}
	return obj, nil
}

func blobKey(id blobstore.ID) string {
	s := id.String()
	return "blobs/" + s[:2] + "/" + s
}

func exportKey(name string) string {
	return "exports/" + name
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
