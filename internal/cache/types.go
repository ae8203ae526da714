package cache

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

// Common errors for cache operations
var (
	// ErrCacheCorrupted is returned when a stored payload cannot be decoded
	// or was written for a different kind or version.
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrInvalidLocation is returned when a cache is created without a location.
	ErrInvalidLocation = errors.New("cache location must not be empty")

	// ErrNegativeTTL is returned when a cache is created with a negative TTL.
	ErrNegativeTTL = errors.New("cache ttl must not be negative")

	// ErrNilProducer is returned when a cache is created without a producer.
	ErrNilProducer = errors.New("cache producer must not be nil")
)

// Producer fetches fresh data for a cache. Errors are returned to the
// caller of Get unchanged.
type Producer[T any] func(ctx context.Context) (T, error)

// Validator reports whether a payload read back from disk is still
// acceptable. It is never called on freshly produced data.
type Validator[T any] func(data T) bool

// AlwaysValid is the default validator.
func AlwaysValid[T any](T) bool { return true }

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger           *log.Logger
	now              func() time.Time
	compressionLevel int
	kind             string
	version          int
}

func defaultOptions() options {
	return options{
		logger:  log.Default().WithPrefix("caching"),
		now:     time.Now,
		version: 1,
	}
}

// WithLogger sets the logger cache events are reported on.
func WithLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now when computing the age of a store.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCompression enables zstd compression of the store at the given level
// (1-22). A level of 0 or less writes uncompressed data.
func WithCompression(level int) Option {
	return func(o *options) {
		o.compressionLevel = max(level, 0)
	}
}

// WithKind sets the kind tag written with every payload. Stores tagged with
// another kind are treated as corrupted. Defaults to the Go type name.
func WithKind(kind string) Option {
	return func(o *options) {
		o.kind = kind
	}
}

// WithVersion sets the payload version written with every payload. Bump it
// whenever the payload shape changes.
func WithVersion(version int) Option {
	return func(o *options) {
		o.version = version
	}
}
