package objectstore

import (
	"context"
	"iter"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	Metadata     map[string]string
}

// Backend is the raw bucket/key storage the Gateway writes through.
// GetObject must wrap ErrNotFound when the key does not exist.
//
// note: fault injection point
type Backend interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, ObjectInfo, error)
	// ListObjects enumerates every key under prefix in key order.
	ListObjects(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error]
}
