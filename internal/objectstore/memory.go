package objectstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

var errInjected = errors.New("injected failure")

type memoryObject struct {
	data []byte
	info ObjectInfo
}

// MemoryBackend keeps buckets in memory, it backs tests and dry runs.
type MemoryBackend struct {
	mutex   sync.Mutex
	buckets map[string]map[string]memoryObject
	now     func() time.Time

	putFailures  int
	listFailures int
	down         bool
	puts         int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets: map[string]map[string]memoryObject{},
		now:     time.Now,
	}
}

// FailPuts makes the next n PutObject calls fail.
func (m *MemoryBackend) FailPuts(n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.putFailures = n
}

// FailLists makes the next n listings fail after yielding their first object.
func (m *MemoryBackend) FailLists(n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.listFailures = n
}

// SetDown makes every call fail until it is set back to false.
func (m *MemoryBackend) SetDown(down bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.down = down
}

// Puts is the number of PutObject calls that reached the backend, failed or not.
func (m *MemoryBackend) Puts() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.puts
}

func (m *MemoryBackend) EnsureBucket(_ context.Context, bucket string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.down {
		return fmt.Errorf("ensure bucket %s: %w", bucket, errInjected)
	}
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = map[string]memoryObject{}
	}
	return nil
}

func (m *MemoryBackend) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.puts++
	if m.down {
		return ObjectInfo{}, fmt.Errorf("put %s/%s: %w", bucket, key, errInjected)
	}
	if m.putFailures > 0 {
		m.putFailures--
		return ObjectInfo{}, fmt.Errorf("put %s/%s: %w", bucket, key, errInjected)
	}

	objects, ok := m.buckets[bucket]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("put %s/%s: bucket does not exist", bucket, key)
	}

	info := ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		LastModified: m.now().UTC(),
		ContentType:  contentType,
		Metadata:     maps.Clone(metadata),
	}
	objects[key] = memoryObject{data: slices.Clone(data), info: info}
	return info, nil
}

func (m *MemoryBackend) GetObject(ctx context.Context, bucket, key string) ([]byte, ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ObjectInfo{}, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.down {
		return nil, ObjectInfo{}, fmt.Errorf("get %s/%s: %w", bucket, key, errInjected)
	}
	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("get %s/%s: %w", bucket, key, ErrNotFound)
	}
	info := obj.info
	info.Metadata = maps.Clone(info.Metadata)
	return slices.Clone(obj.data), info, nil
}

func (m *MemoryBackend) ListObjects(ctx context.Context, bucket, prefix string) iter.Seq2[ObjectInfo, error] {
	return func(yield func(ObjectInfo, error) bool) {
		m.mutex.Lock()
		if m.down {
			m.mutex.Unlock()
			yield(ObjectInfo{}, fmt.Errorf("list %s: %w", bucket, errInjected))
			return
		}
		failAfterFirst := m.listFailures > 0
		if failAfterFirst {
			m.listFailures--
		}
		var infos []ObjectInfo
		for key, obj := range m.buckets[bucket] {
			if strings.HasPrefix(key, prefix) {
				infos = append(infos, obj.info)
			}
		}
		m.mutex.Unlock()

		slices.SortFunc(infos, func(a, b ObjectInfo) int {
			return strings.Compare(a.Key, b.Key)
		})

		for i, info := range infos {
			if err := ctx.Err(); err != nil {
				yield(ObjectInfo{}, err)
				return
			}
			if failAfterFirst && i == 1 {
				yield(ObjectInfo{}, fmt.Errorf("list %s: %w", bucket, errInjected))
				return
			}
			if !yield(info, nil) {
				return
			}
		}
		if failAfterFirst && len(infos) <= 1 {
			yield(ObjectInfo{}, fmt.Errorf("list %s: %w", bucket, errInjected))
		}
	}
}
