package imagecache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

const (
	// DefaultMaxAge is how long an entry stays fresh.
	DefaultMaxAge = 60 * 24 * time.Hour
	// DefaultMaxSize is the size limit enforced by Purge.
	DefaultMaxSize int64 = 500 << 20
	// DefaultPrefix is prepended to every cache key.
	DefaultPrefix = "images/"
)

// Metadata keys stored alongside each blob.
const (
	metaSourceURL = "source_url"
	metaETag      = "etag"
	metaCachedAt  = "cached_at"
)

// ErrNotFound is returned when a URL has no fresh entry in the cache.
var ErrNotFound = errors.New("imagecache: not found")

// Meta describes an image being stored.
type Meta struct {
	ContentType string // Detected by the bucket driver when empty
	ETag        string
}

// Entry describes a cached image.
type Entry struct {
	URL         string
	Key         string
	Size        int64
	ContentType string
	ETag        string
	CachedAt    time.Time
	Expired     bool
}

// Options configures a Cache.
type Options struct {
	MaxAge  time.Duration
	MaxSize int64 // Zero disables size-based eviction
	Prefix  string
	Now     func() time.Time
}

// Option is a functional option for configuring a Cache.
type Option func(*Options)

// WithMaxAge sets how long entries stay fresh.
func WithMaxAge(d time.Duration) Option {
	return func(o *Options) {
		o.MaxAge = d
	}
}

// WithMaxSize sets the total size Purge shrinks the cache below.
func WithMaxSize(n int64) Option {
	return func(o *Options) {
		o.MaxSize = n
	}
}

// WithPrefix sets the key prefix. Use it to share a bucket with other data.
func WithPrefix(prefix string) Option {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

// Cache is an image cache on top of a blob bucket. It is safe for concurrent
// use.
type Cache struct {
	bucket *blob.Bucket
	opts   Options
	owned  bool
}

// Open opens the bucket at bucketURL and returns a Cache backed by it. The
// driver for the URL scheme must be registered by the caller, for example by
// importing gocloud.dev/blob/fileblob. Close releases the bucket.
func Open(ctx context.Context, bucketURL string, options ...Option) (*Cache, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("imagecache: open bucket: %w", err)
	}
	c := New(bucket, options...)
	c.owned = true
	return c, nil
}

// New returns a Cache backed by bucket. The caller keeps ownership of bucket.
func New(bucket *blob.Bucket, options ...Option) *Cache {
	opts := Options{
		MaxAge:  DefaultMaxAge,
		MaxSize: DefaultMaxSize,
		Prefix:  DefaultPrefix,
		Now:     time.Now,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{bucket: bucket, opts: opts}
}

// Close releases the bucket if the Cache opened it.
func (c *Cache) Close() error {
	if !c.owned {
		return nil
	}
	return c.bucket.Close()
}

// Options returns the effective configuration.
func (c *Cache) Options() Options {
	return c.opts
}

// Key returns the blob key used for url.
func (c *Cache) Key(url string) string {
	sum := md5.Sum([]byte(url))
	return c.opts.Prefix + hex.EncodeToString(sum[:])
}

// Put stores data as the cached image for url, replacing any existing entry.
func (c *Cache) Put(ctx context.Context, url string, data []byte, meta Meta) error {
	md := map[string]string{
		metaSourceURL: url,
		metaCachedAt:  c.opts.Now().UTC().Format(time.RFC3339),
	}
	if meta.ETag != "" {
		md[metaETag] = meta.ETag
	}
	opts := &blob.WriterOptions{
		ContentType: meta.ContentType,
		Metadata:    md,
	}
	if err := c.bucket.WriteAll(ctx, c.Key(url), data, opts); err != nil {
		return fmt.Errorf("imagecache: write %s: %w", url, err)
	}
	return nil
}

// Get returns the cached image for url. It returns ErrNotFound if there is no
// entry or the entry has expired.
func (c *Cache) Get(ctx context.Context, url string) ([]byte, Entry, error) {
	e, err := c.Stat(ctx, url)
	if err != nil {
		return nil, Entry{}, err
	}
	if e.Expired {
		return nil, e, ErrNotFound
	}
	data, err := c.bucket.ReadAll(ctx, e.Key)
	if err != nil {
		if isNotExist(err) {
			return nil, Entry{}, ErrNotFound
		}
		return nil, Entry{}, fmt.Errorf("imagecache: read %s: %w", url, err)
	}
	return data, e, nil
}

// Refresh restarts the freshness period of the entry for url, keeping its
// data, content type and ETag. Call it once the origin has confirmed that the
// image is unchanged. It returns ErrNotFound if there is no entry.
func (c *Cache) Refresh(ctx context.Context, url string) error {
	key := c.Key(url)
	attrs, err := c.bucket.Attributes(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("imagecache: stat %s: %w", key, err)
	}
	data, err := c.bucket.ReadAll(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("imagecache: read %s: %w", url, err)
	}
	// Blob metadata cannot be updated in place.
	return c.Put(ctx, url, data, Meta{
		ContentType: attrs.ContentType,
		ETag:        attrs.Metadata[metaETag],
	})
}

// Stat returns the entry for url without reading its data. Expired entries are
// returned with Expired set. It returns ErrNotFound if there is no entry.
func (c *Cache) Stat(ctx context.Context, url string) (Entry, error) {
	e, err := c.statKey(ctx, c.Key(url))
	if err != nil {
		return Entry{}, err
	}
	if e.URL == "" {
		e.URL = url
	}
	return e, nil
}

// Exists reports whether url has a fresh entry.
func (c *Cache) Exists(ctx context.Context, url string) (bool, error) {
	e, err := c.Stat(ctx, url)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !e.Expired, nil
}

// Delete removes the entry for url. Deleting a missing entry returns
// ErrNotFound.
func (c *Cache) Delete(ctx context.Context, url string) error {
	return c.deleteKey(ctx, c.Key(url))
}

func (c *Cache) deleteKey(ctx context.Context, key string) error {
	if err := c.bucket.Delete(ctx, key); err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("imagecache: delete %s: %w", key, err)
	}
	return nil
}

func (c *Cache) statKey(ctx context.Context, key string) (Entry, error) {
	attrs, err := c.bucket.Attributes(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("imagecache: stat %s: %w", key, err)
	}

	e := Entry{
		URL:         attrs.Metadata[metaSourceURL],
		Key:         key,
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		ETag:        attrs.Metadata[metaETag],
		CachedAt:    attrs.ModTime,
	}
	if s := attrs.Metadata[metaCachedAt]; s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			e.CachedAt = t
		}
	}
	e.Expired = c.expired(e.CachedAt)
	return e, nil
}

func (c *Cache) expired(cachedAt time.Time) bool {
	if c.opts.MaxAge <= 0 {
		return false
	}
	return c.opts.Now().Sub(cachedAt) > c.opts.MaxAge
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
