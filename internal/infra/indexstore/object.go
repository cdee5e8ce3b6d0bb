package indexstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
)

// Blobs is the minimal object storage surface the index needs.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// ObjectStore mirrors the snapshot into an S3-compatible bucket.
type ObjectStore struct {
	blobs  Blobs
	prefix string
	logger *slog.Logger
}

// NewObjectStore constructs a bucket backed store rooted at prefix.
func NewObjectStore(blobs Blobs, prefix string, logger *slog.Logger) *ObjectStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectStore{
		blobs:  blobs,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With("component", "indexstore.object"),
	}
}

func (s *ObjectStore) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Load fetches the manifest, then the data object it names.
func (s *ObjectStore) Load(ctx context.Context) (fewshot.Snapshot, bool, error) {
	rawManifest, found, err := s.blobs.Get(ctx, s.key(manifestFile))
	if err != nil {
		return fewshot.Snapshot{}, false, fmt.Errorf("get manifest: %w", err)
	}
	if !found {
		return fewshot.Snapshot{}, false, nil
	}
	m, err := decodeManifest(rawManifest)
	if err != nil {
		return fewshot.Snapshot{}, false, err
	}
	data, found, err := s.blobs.Get(ctx, s.key(m.DataFile))
	if err != nil {
		return fewshot.Snapshot{}, false, fmt.Errorf("get index data: %w", err)
	}
	if !found {
		s.logger.Warn("manifest references missing data object", "key", s.key(m.DataFile))
		return fewshot.Snapshot{}, false, nil
	}
	snapshot, err := decodeSnapshot(m, data)
	if err != nil {
		return fewshot.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Save uploads the data object first and the manifest last, so a manifest always points at complete data.
func (s *ObjectStore) Save(ctx context.Context, snapshot fewshot.Snapshot) error {
	manifestBytes, data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, s.key(dataFile), data, "application/vnd.apache.parquet"); err != nil {
		return fmt.Errorf("put index data: %w", err)
	}
	if err := s.blobs.Put(ctx, s.key(manifestFile), manifestBytes, "application/yaml"); err != nil {
		return fmt.Errorf("put manifest: %w", err)
	}
	s.logger.Info("index snapshot uploaded", "prefix", s.prefix, "entries", len(snapshot.Entries))
	return nil
}

var _ fewshot.SnapshotStore = (*ObjectStore)(nil)

// MinioBlobs stores objects in R2/S3/MinIO via the S3-compatible API.
type MinioBlobs struct {
	client *minio.Client
	bucket string

	bucketOnce sync.Once
	bucketErr  error
}

// NewMinioBlobs constructs the storage adapter.
func NewMinioBlobs(endpoint, accessKey, secretKey, bucket, region string) (*MinioBlobs, error) {
	useSSL := !strings.HasPrefix(strings.ToLower(endpoint), "http://")
	client, err := minio.New(sanitizeEndpoint(endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       useSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage client: %w", err)
	}
	return &MinioBlobs{client: client, bucket: bucket}, nil
}

func (b *MinioBlobs) ensureBucket(ctx context.Context) error {
	b.bucketOnce.Do(func() {
		exists, err := b.client.BucketExists(ctx, b.bucket)
		if err == nil && exists {
			return
		}
		err = b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{})
		if err != nil && minio.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
			b.bucketErr = err
		}
	})
	return b.bucketErr
}

// Get downloads an object; a missing key or bucket is reported as not found.
func (b *MinioBlobs) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Put uploads data as a single part object.
func (b *MinioBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := b.ensureBucket(ctx); err != nil {
		return err
	}
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:      contentType,
		DisableMultipart: true,
	})
	return err
}

var _ Blobs = (*MinioBlobs)(nil)

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if idx := strings.Index(raw, "/"); idx >= 0 {
		raw = raw[:idx]
	}
	return raw
}

// MemoryBlobs keeps objects in memory. Useful for tests and local dev.
type MemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobs constructs in-memory blob storage.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte)}
}

// Get returns a copy of the stored object.
func (m *MemoryBlobs) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Put stores a copy of data.
func (m *MemoryBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

var _ Blobs = (*MemoryBlobs)(nil)
