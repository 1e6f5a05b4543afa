package objectstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/bryanwahyu/filescope/internal/domain/content"
)

type objectAPI interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// Store uses an S3 bucket as a content-addressed store: objects are keyed
// by the CID computed locally from their bytes.
type Store struct {
	client     objectAPI
	bucketName string
	prefix     string
	spoolDir   string
	log        *zap.Logger
}

type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
	SpoolDir  string
}

// New buat koneksi MinIO dan pastikan bucket ada
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio: %w", content.ErrMissingCredential)
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return newStore(cli, cfg, log), nil
}

func newStore(api objectAPI, cfg Config, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "ipfs"
	}
	return &Store{
		client:     api,
		bucketName: cfg.Bucket,
		prefix:     prefix,
		spoolDir:   cfg.SpoolDir,
		log:        log.Named("contentstore.minio"),
	}
}

// Ping reports whether the bucket is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s is gone", s.bucketName)
	}
	return nil
}

func (s *Store) key(id content.ID) string { return path.Join(s.prefix, id.String()) }

// Put spools r to a temp file while hashing, then uploads it under its CID.
// Content already in the bucket is not uploaded again.
func (s *Store) Put(ctx context.Context, name, contentType string, r io.Reader) (content.ID, error) {
	tmp, err := os.CreateTemp(s.spoolDir, "cas-*")
	if err != nil {
		return "", fmt.Errorf("spool %s: %w", name, err)
	}
	// hapus file lokal setelah upload
	defer func() {
		tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			s.log.Warn("failed to remove spool file", zap.String("path", tmp.Name()), zap.Error(rmErr))
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), r); err != nil {
		return "", fmt.Errorf("spool %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("spool %s: %w", name, err)
	}
	id, err := content.FromSHA256(h.Sum(nil))
	if err != nil {
		return "", err
	}

	key := s.key(id)
	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err == nil {
		s.log.Debug("content already stored", zap.String("cid", id.String()))
		return id, nil
	} else if !isNotFound(err) {
		return "", fmt.Errorf("stat %s: %w", key, err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.FPutObject(ctx, s.bucketName, key, tmp.Name(), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"filename": name},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	s.log.Debug("content uploaded", zap.String("name", name), zap.String("cid", id.String()))
	return id, nil
}

func (s *Store) Get(ctx context.Context, id content.ID) (io.ReadCloser, error) {
	key := s.key(id)
	if _, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("fetch %s: %w", id, content.ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}
	return obj, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
