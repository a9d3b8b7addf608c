package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"reclameaqui-pipeline/internal/components/assert"
	"reclameaqui-pipeline/internal/components/chrono"
	"reclameaqui-pipeline/internal/components/retry"
	"reclameaqui-pipeline/internal/components/telemetry"
	"reclameaqui-pipeline/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("objectstore")

const (
	report_gateway_put           = "gateway.put"
	report_gateway_get           = "gateway.get"
	report_gateway_list          = "gateway.list"
	report_gateway_stat          = "gateway.stat"
	report_gateway_ensure_layers = "gateway.ensure-layers"
)

const (
	MetaSourceEndpoint = "source-endpoint"
	MetaCollectedAt    = "collected-at"
	MetaRecordCount    = "record-count"
	MetaLayer          = "layer"
	MetaCategory       = "category"
)

const contentTypeJSON = "application/json"

type Buckets struct {
	Landing string `json:"landing"`
	Raw     string `json:"raw"`
	Trusted string `json:"trusted"`
}

func DefaultBuckets() Buckets {
	return Buckets{
		Landing: "reclameaqui-landing",
		Raw:     "reclameaqui-raw",
		Trusted: "reclameaqui-trusted",
	}
}

func (b Buckets) bucket(layer models.Layer) (string, error) {
	switch layer {
	case models.LayerLanding:
		return b.Landing, nil
	case models.LayerRaw:
		return b.Raw, nil
	case models.LayerTrusted:
		return b.Trusted, nil
	}
	return "", fmt.Errorf("%w: unknown layer %q", ErrInvalidKey, layer)
}

// DefaultRetry is 3 attempts with exponential backoff starting at 1s.
func DefaultRetry() retry.Policy {
	return retry.Policy{
		Attempts:        3,
		InitialInterval: time.Second,
		Multiplier:      2,
	}
}

type Options struct {
	Buckets   Buckets
	Retry     retry.Policy
	CacheSize int
}

// Gateway is the only way the rest of the system touches the object store.
type Gateway struct {
	backend Backend
	buckets Buckets
	policy  retry.Policy
	cache   *listCache
	clock   chrono.API
	tel     telemetry.API
}

func NewGateway(backend Backend, clock chrono.API, tel telemetry.API, opts Options) (*Gateway, error) {
	assert.NotNil(backend)
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.Buckets == (Buckets{}) {
		opts.Buckets = DefaultBuckets()
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetry()
	}
	cache, err := newListCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		backend: backend,
		buckets: opts.Buckets,
		policy:  opts.Retry,
		cache:   cache,
		clock:   clock,
		tel:     telemetry.NewScopedAPI("objectstore", tel),
	}, nil
}

func (g *Gateway) Bucket(layer models.Layer) (string, error) {
	return g.buckets.bucket(layer)
}

// EnsureLayers checks that every layer's bucket is reachable, creating the
// missing ones.
func (g *Gateway) EnsureLayers(ctx context.Context) error {
	for _, layer := range models.Layers {
		bucket, err := g.buckets.bucket(layer)
		if err != nil {
			return err
		}
		err = retry.Do(ctx, g.clock, g.policy, func(int) error {
			return g.backend.EnsureBucket(ctx, bucket)
		})
		if err != nil {
			g.tel.ReportBroken(report_gateway_ensure_layers, err, bucket)
			return fmt.Errorf("%w: ensure bucket %s: %w", ErrStoreUnavailable, bucket, err)
		}
	}
	return nil
}

type PutRequest struct {
	Layer    models.Layer
	Category string
	// Payload is serialized as JSON, []byte and json.RawMessage must already
	// be JSON and are stored verbatim.
	Payload any
	// PartitionDate defaults to the current UTC date.
	PartitionDate  time.Time
	Filename       string
	SourceEndpoint string
	RecordCount    int
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: raw payload is not valid json", ErrInvalidPayload)
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("%w: raw payload is not valid json", ErrInvalidPayload)
		}
		return p, nil
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	err := encoder.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Put serializes and writes a payload, retrying transient failures. The
// listings of the written category are invalidated on success.
func (g *Gateway) Put(ctx context.Context, req PutRequest) (models.StoredObjectRef, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Put", trace.WithAttributes(
		attribute.String("layer", string(req.Layer)),
		attribute.String("category", req.Category),
	))
	defer span.End()

	bucket, err := g.buckets.bucket(req.Layer)
	if err != nil {
		return models.StoredObjectRef{}, err
	}
	now := g.clock.Now().UTC()
	partition := req.PartitionDate
	if partition.IsZero() {
		partition = now
	}
	path, err := BuildPath(req.Category, partition, req.Filename)
	if err != nil {
		return models.StoredObjectRef{}, err
	}
	data, err := encodePayload(req.Payload)
	if err != nil {
		g.tel.ReportWarning(report_gateway_put, err, path)
		return models.StoredObjectRef{}, err
	}

	metadata := map[string]string{
		MetaCollectedAt:    now.Format(time.RFC3339),
		MetaLayer:          string(req.Layer),
		MetaCategory:       req.Category,
		MetaRecordCount:    strconv.Itoa(req.RecordCount),
		MetaSourceEndpoint: req.SourceEndpoint,
	}

	var info ObjectInfo
	err = retry.Do(ctx, g.clock, g.policy, func(attempt int) error {
		var putErr error
		info, putErr = g.backend.PutObject(ctx, bucket, path, data, contentTypeJSON, metadata)
		if putErr != nil {
			g.tel.ReportDebug("put attempt failed", path, attempt, putErr)
		}
		return putErr
	})
	if err != nil {
		span.SetStatus(codes.Error, "put failed")
		span.RecordError(err)
		g.tel.ReportBroken(report_gateway_put, err, bucket, path)
		return models.StoredObjectRef{}, fmt.Errorf("%w: put %s/%s: %w", ErrStoreUnavailable, bucket, path, err)
	}

	g.cache.invalidate(req.Layer, req.Category)

	return models.StoredObjectRef{
		Layer:         req.Layer,
		Bucket:        bucket,
		Path:          path,
		Category:      req.Category,
		PartitionDate: truncateDay(partition),
		Filename:      req.Filename,
		Size:          int64(len(data)),
		LastModified:  info.LastModified,
	}, nil
}

func (g *Gateway) Get(ctx context.Context, layer models.Layer, path string) (models.StoredObject, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Get", trace.WithAttributes(
		attribute.String("layer", string(layer)),
		attribute.String("path", path),
	))
	defer span.End()

	bucket, err := g.buckets.bucket(layer)
	if err != nil {
		return models.StoredObject{}, err
	}
	category, partition, filename, ok := ParsePath(path)
	if !ok {
		return models.StoredObject{}, fmt.Errorf("%w: %q is not a partition path", ErrInvalidKey, path)
	}

	var data []byte
	var info ObjectInfo
	err = retry.Do(ctx, g.clock, g.policy, func(int) error {
		var getErr error
		data, info, getErr = g.backend.GetObject(ctx, bucket, path)
		if errors.Is(getErr, ErrNotFound) {
			return retry.Permanent(getErr)
		}
		return getErr
	})
	if errors.Is(err, ErrNotFound) {
		return models.StoredObject{}, err
	}
	if err != nil {
		span.SetStatus(codes.Error, "get failed")
		g.tel.ReportBroken(report_gateway_get, err, bucket, path)
		return models.StoredObject{}, fmt.Errorf("%w: get %s/%s: %w", ErrStoreUnavailable, bucket, path, err)
	}

	return models.StoredObject{
		Layer:         layer,
		Category:      category,
		PartitionDate: partition,
		Filename:      filename,
		Payload:       data,
		ContentType:   info.ContentType,
		Metadata:      info.Metadata,
	}, nil
}

type ListOptions struct {
	// CategoryPrefix filters objects whose key starts with it, "" lists the whole layer.
	CategoryPrefix string
	// From and To bound partition dates inclusively, zero values are unbounded.
	From time.Time
	To   time.Time
}

func (o ListOptions) match(ref models.StoredObjectRef) bool {
	if !o.From.IsZero() && ref.PartitionDate.Before(truncateDay(o.From)) {
		return false
	}
	if !o.To.IsZero() && ref.PartitionDate.After(truncateDay(o.To)) {
		return false
	}
	return true
}

// List enumerates the objects of a layer in key order. The sequence is lazy
// and can be ranged over more than once, each pass re-enumerates the layer or
// serves a complete earlier listing from the cache.
func (g *Gateway) List(ctx context.Context, layer models.Layer, opts ListOptions) iter.Seq2[models.StoredObjectRef, error] {
	return func(yield func(models.StoredObjectRef, error) bool) {
		bucket, err := g.buckets.bucket(layer)
		if err != nil {
			yield(models.StoredObjectRef{}, err)
			return
		}

		key := cacheKey{layer: layer, prefix: opts.CategoryPrefix}
		cached, ok := g.cache.get(key)
		if ok {
			for _, ref := range cached {
				if !opts.match(ref) {
					continue
				}
				if !yield(ref, nil) {
					return
				}
			}
			return
		}

		generation := g.cache.currentGeneration()
		var collected []models.StoredObjectRef
		for info, err := range g.backend.ListObjects(ctx, bucket, opts.CategoryPrefix) {
			if err != nil {
				g.tel.ReportWarning(report_gateway_list, err, bucket)
				yield(models.StoredObjectRef{}, fmt.Errorf("%w: list %s: %w", ErrStoreUnavailable, bucket, err))
				return
			}
			category, partition, filename, ok := ParsePath(info.Key)
			if !ok {
				g.tel.ReportWarning(report_gateway_list, "skipping key outside partition layout", bucket, info.Key)
				continue
			}
			ref := models.StoredObjectRef{
				Layer:         layer,
				Bucket:        bucket,
				Path:          info.Key,
				Category:      category,
				PartitionDate: partition,
				Filename:      filename,
				Size:          info.Size,
				LastModified:  info.LastModified,
			}
			collected = append(collected, ref)
			if !opts.match(ref) {
				continue
			}
			if !yield(ref, nil) {
				return
			}
		}
		g.cache.store(key, collected, generation)
	}
}

// Latest returns the newest object of exactly category, by key order.
func (g *Gateway) Latest(ctx context.Context, layer models.Layer, category string) (models.StoredObjectRef, error) {
	var latest models.StoredObjectRef
	found := false
	for ref, err := range g.List(ctx, layer, ListOptions{CategoryPrefix: category + "/"}) {
		if err != nil {
			return models.StoredObjectRef{}, err
		}
		if ref.Category != category {
			continue
		}
		if !found || ref.Path > latest.Path {
			latest = ref
			found = true
		}
	}
	if !found {
		return models.StoredObjectRef{}, fmt.Errorf("%w: no objects in %s/%s", ErrNotFound, layer, category)
	}
	return latest, nil
}

type LayerStats struct {
	Layer       models.Layer   `json:"layer"`
	Bucket      string         `json:"bucket"`
	ObjectCount int            `json:"object_count"`
	TotalBytes  int64          `json:"total_bytes"`
	Categories  map[string]int `json:"categories"`
	// Partial is set when the enumeration failed midway, the counts then only
	// cover what was seen before Err.
	Partial bool  `json:"partial"`
	Err     error `json:"-"`
}

// Stat is best effort, enumeration failures are reported in the stats and
// never returned as an error.
func (g *Gateway) Stat(ctx context.Context, layer models.Layer) LayerStats {
	bucket, _ := g.buckets.bucket(layer)
	stats := LayerStats{
		Layer:      layer,
		Bucket:     bucket,
		Categories: map[string]int{},
	}
	for ref, err := range g.List(ctx, layer, ListOptions{}) {
		if err != nil {
			stats.Partial = true
			stats.Err = err
			g.tel.ReportWarning(report_gateway_stat, err, layer)
			break
		}
		stats.ObjectCount++
		stats.TotalBytes += ref.Size
		stats.Categories[ref.Category]++
	}
	return stats
}

// RawEnvelope is what the raw layer stores around a landing payload.
type RawEnvelope struct {
	Metadata map[string]any  `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

// PutRaw writes the annotated copy of a landing object into the raw layer,
// under the same category, date and filename.
func (g *Gateway) PutRaw(ctx context.Context, landing models.StoredObjectRef, payload []byte, extra map[string]any) (models.StoredObjectRef, error) {
	if !json.Valid(payload) {
		return models.StoredObjectRef{}, fmt.Errorf("%w: landing payload is not valid json", ErrInvalidPayload)
	}
	metadata := map[string]any{}
	for k, v := range extra {
		metadata[k] = v
	}
	metadata["processed_at"] = g.clock.Now().UTC().Format(time.RFC3339)
	metadata["source_path"] = "landing/" + landing.Path
	metadata["pipeline_stage"] = string(models.LayerRaw)

	source, _ := extra[MetaSourceEndpoint].(string)
	records, _ := extra["record_count"].(int)

	return g.Put(ctx, PutRequest{
		Layer:          models.LayerRaw,
		Category:       landing.Category,
		Payload:        RawEnvelope{Metadata: metadata, Data: payload},
		PartitionDate:  landing.PartitionDate,
		Filename:       landing.Filename,
		SourceEndpoint: source,
		RecordCount:    records,
	})
}

// Promote copies a landing object into the raw layer wrapped in a RawEnvelope.
func (g *Gateway) Promote(ctx context.Context, landingPath string, extra map[string]any) (models.StoredObjectRef, error) {
	landingPath = strings.TrimPrefix(landingPath, "/")
	obj, err := g.Get(ctx, models.LayerLanding, landingPath)
	if err != nil {
		return models.StoredObjectRef{}, err
	}
	if extra == nil {
		extra = map[string]any{}
	}
	if _, ok := extra[MetaSourceEndpoint]; !ok && obj.Metadata[MetaSourceEndpoint] != "" {
		extra[MetaSourceEndpoint] = obj.Metadata[MetaSourceEndpoint]
	}
	if _, ok := extra["record_count"]; !ok {
		if n, err := strconv.Atoi(obj.Metadata[MetaRecordCount]); err == nil {
			extra["record_count"] = n
		}
	}
	landing := models.StoredObjectRef{
		Layer:         models.LayerLanding,
		Path:          landingPath,
		Category:      obj.Category,
		PartitionDate: obj.PartitionDate,
		Filename:      obj.Filename,
	}
	return g.PutRaw(ctx, landing, obj.Payload, extra)
}
