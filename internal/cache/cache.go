package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// Cache is a single time-boxed store on disk. The zero value is not usable;
// create caches with New. A Cache is immutable once created, so build one
// per logical key rather than rebinding its producer.
//
// Concurrent Gets on one Cache that all need a refresh share a single
// producer call, and with it the same payload value.
type Cache[T any] struct {
	path    string
	ttl     time.Duration
	produce Producer[T]
	valid   Validator[T]

	refreshes singleflight.Group

	kind             string
	version          int
	compressionLevel int

	logger *log.Logger
	now    func() time.Time
}

// New creates a cache stored at location. The location does not have to
// exist yet. A nil validator accepts everything.
//
// A store is stale once its age is strictly greater than ttl. With a ttl of
// 0 every Get refreshes, except when the store mtime equals the current
// time, as happens with a frozen WithClock or a filesystem with coarse
// timestamps.
func New[T any](location string, ttl time.Duration, producer Producer[T], validator Validator[T], opts ...Option) (*Cache[T], error) {
	if location == "" {
		return nil, ErrInvalidLocation
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNegativeTTL, ttl)
	}
	if producer == nil {
		return nil, ErrNilProducer
	}
	if validator == nil {
		validator = AlwaysValid[T]
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.kind == "" {
		o.kind = reflect.TypeOf((*T)(nil)).Elem().String()
	}

	return &Cache[T]{
		path:             filepath.Clean(location),
		ttl:              ttl,
		produce:          producer,
		valid:            validator,
		kind:             o.kind,
		version:          o.version,
		compressionLevel: o.compressionLevel,
		logger:           o.logger,
		now:              o.now,
	}, nil
}

// Location returns the path of the backing store.
func (c *Cache[T]) Location() string {
	return c.path
}

// TTL returns the duration after which stored data is stale.
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Exists reports whether the backing store is present.
func (c *Cache[T]) Exists() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// ModificationTime returns the last write time of the store, or the zero
// time if there is no store.
func (c *Cache[T]) ModificationTime() time.Time {
	info, err := os.Stat(c.path)
	if err != nil {
		c.logger.Warn("ModificationTime called on nonexistent cache", "path", c.path)
		return time.Time{}
	}
	return info.ModTime()
}

// Age returns the time since the store was last written. A missing store
// is infinitely old.
func (c *Cache[T]) Age() time.Duration {
	// Sub saturates, so the zero time yields the maximum Duration.
	return c.now().Sub(c.ModificationTime())
}

// AgeDescription describes the age of the store for display. Stale stores
// are reported as "Just now" since the next Get refreshes them.
func (c *Cache[T]) AgeDescription() string {
	if !c.Exists() {
		return "Never"
	}

	age := c.Age()
	if age < time.Minute || age > c.ttl {
		return "Just now"
	}
	return fmt.Sprintf("%d minutes ago", int64(age/time.Minute))
}

// Clear removes the store, forcing the next Get to refresh. Clearing a
// missing store is not an error.
func (c *Cache[T]) Clear() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file: %w", err)
	}
	return nil
}

// Get returns the stored payload if it is fresh and valid, and refreshes
// the store otherwise. Unreadable stores are refreshed; producer and write
// errors are returned.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	if !c.Exists() {
		c.logger.Info("creating new cache", "path", c.path)
		return c.refresh(ctx)
	}

	if age := c.Age(); age > c.ttl {
		c.logger.Debug("cache is stale", "path", c.path, "age", age, "ttl", c.ttl)
		return c.refresh(ctx)
	}

	data, err := c.read()
	if err != nil {
		c.logger.Error("error encountered while reading cache", "path", c.path, "error", err)
		return c.refresh(ctx)
	}

	if !c.valid(data) {
		c.logger.Info("cache is invalid, rebuilding it", "path", c.path)
		return c.refresh(ctx)
	}

	return data, nil
}

// RequestAndUpdate calls the producer and stores its result.
func (c *Cache[T]) RequestAndUpdate(ctx context.Context) (T, error) {
	data, err := c.produce(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return c.Update(data)
}

// Update replaces the store with data and returns data unchanged.
func (c *Cache[T]) Update(data T) (T, error) {
	var zero T

	var buf bytes.Buffer
	env := envelope[T]{Kind: c.kind, Version: c.version, Body: data}
	if err := encodeEnvelope(&buf, env, c.compressionLevel); err != nil {
		return zero, fmt.Errorf("failed to encode cache data: %w", err)
	}

	if err := writeFile(c.path, buf.Bytes()); err != nil {
		return zero, fmt.Errorf("failed to write cache file: %w", err)
	}

	return data, nil
}

// refresh runs the producer on a context detached from ctx, so one caller
// giving up does not fail the others waiting on the same refresh. Each
// caller still stops waiting when its own ctx is done.
func (c *Cache[T]) refresh(ctx context.Context) (T, error) {
	var zero T

	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		return c.RequestAndUpdate(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		data, _ := res.Val.(T)
		return data, nil
	}
}

func (c *Cache[T]) read() (T, error) {
	var zero T

	file, err := os.Open(c.path)
	if err != nil {
		return zero, err
	}
	defer file.Close() //nolint:errcheck

	env, err := decodeEnvelope[T](file)
	if err != nil {
		return zero, err
	}

	if env.Kind != c.kind || env.Version != c.version {
		return zero, fmt.Errorf("%w: stored %s v%d, want %s v%d",
			ErrCacheCorrupted, env.Kind, env.Version, c.kind, c.version)
	}

	return env.Body, nil
}
