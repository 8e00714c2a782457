package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/bryanwahyu/vscanbot/internal/domain/analysis"
)

// ObjectStore stages artifacts as objects in a MinIO/S3 bucket. Objects are
// removed when the artifact is released.
type ObjectStore struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

type ObjectStoreOptions struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Prefix is prepended to every object key, default "staging".
	Prefix string
}

// NewObjectStore buat koneksi MinIO dan pastikan bucket ada
func NewObjectStore(ctx context.Context, opts ObjectStoreOptions) (*ObjectStore, error) {
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("minio make bucket %s: %w", opts.Bucket, err)
		}
	}
	if opts.Prefix == "" {
		opts.Prefix = "staging"
	}
	return &ObjectStore{client: cli, bucketName: opts.Bucket, prefix: opts.Prefix}, nil
}

// Stage uploads content under the staging prefix.
func (s *ObjectStore) Stage(ctx context.Context, name string, content io.Reader) (domain.StagedArtifact, error) {
	key := path.Join(s.prefix, name)
	// size unknown: minio streams it as a multipart upload
	info, err := s.client.PutObject(ctx, s.bucketName, key, content, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", key, err)
	}
	return &objectArtifact{store: s, name: name, key: key, size: info.Size}, nil
}

// Ping checks the bucket is reachable, used by the readiness probe.
func (s *ObjectStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

type objectArtifact struct {
	store *ObjectStore
	name  string
	key   string
	size  int64
}

func (a *objectArtifact) Name() string { return a.name }
func (a *objectArtifact) Size() int64  { return a.size }

func (a *objectArtifact) Location() string {
	return fmt.Sprintf("s3://%s/%s", a.store.bucketName, a.key)
}

func (a *objectArtifact) Open() (io.ReadCloser, error) {
	obj, err := a.store.client.GetObject(context.Background(), a.store.bucketName, a.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.Location(), err)
	}
	return obj, nil
}

// Release removes the object. Removing a missing key succeeds.
func (a *objectArtifact) Release() error {
	err := a.store.client.RemoveObject(context.Background(), a.store.bucketName, a.key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("release %s: %w", a.Location(), err)
	}
	return nil
}
