package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioOptions struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Secure    bool   `json:"secure"`
	Region    string `json:"region"`
}

// MinioBackend is a Backend over any S3 compatible server.
type MinioBackend struct {
	client *minio.Client
}

func NewMinioBackend(opts MinioOptions) (MinioBackend, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return MinioBackend{}, fmt.Errorf("minio client: %w", err)
	}
	return MinioBackend{client: client}, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}

func normalizeMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		out[k] = v
	}
	return out
}

func (m MinioBackend) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	err = m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
	if err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	return nil
}

func (m MinioBackend) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (ObjectInfo, error) {
	info, err := m.client.PutObject(
		ctx,
		bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: metadata,
		},
	)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return ObjectInfo{
		Key:          key,
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  contentType,
		Metadata:     metadata,
	}, nil
}

func (m MinioBackend) GetObject(ctx context.Context, bucket, key string) ([]byte, ObjectInfo, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ObjectInfo{}, fmt.Errorf("get %s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, ObjectInfo{}, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	// GetObject is lazy, the first read or stat is what reaches the server.
	stat, err := obj.Stat()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ObjectInfo{}, fmt.Errorf("get %s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}

	return data, ObjectInfo{
		Key:          key,
		Size:         stat.Size,
		LastModified: stat.LastModified,
		ContentType:  stat.ContentType,
		Metadata:     normalizeMetadata(stat.UserMetadata),
	}, nil
}

func (m MinioBackend) ListObjects(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		// cancelling stops the listing goroutine when the caller breaks early
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		objects := m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		})
		for obj := range objects {
			if obj.Err != nil {
				yield(ObjectInfo{}, fmt.Errorf("list %s: %w", bucket, obj.Err))
				return
			}
			info := ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
				ContentType:  obj.ContentType,
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}
