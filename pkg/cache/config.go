package cache

import (
	"errors"
	"fmt"

	"github.com/Voskan/hybridcache/pkg/eviction"
	"github.com/Voskan/hybridcache/pkg/eviction/fifo"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	errInvalidCapacity = errors.New("hybridcache: capacity must be > 0")
	errInvalidShards   = errors.New("hybridcache: shards must be a power of two")
	errNilWeightFn     = errors.New("hybridcache: WeightFn must not be nil")
)

// WeightFn computes the accounted charge of a value. The default charges
// every entry equally (weight 1), matching a pure entry-count cache;
// supply a custom WeightFn to charge by byte size or another unit.
type WeightFn[K comparable, V any] func(key K, value V) int64

// Listener observes entries leaving the cache for good (evicted,
// explicitly removed, or replaced) after every external reference has been
// released. It is invoked outside any shard lock.
type Listener[K comparable, V any] interface {
	OnRelease(key K, value V, charge int64)
}

// Option configures a Cache at construction time.
type Option[K comparable, V any] func(*config[K, V])

type config[K comparable, V any] struct {
	capacity          int64
	shards            int
	weightFn          WeightFn[K, V]
	policyFactory     eviction.Factory[K, V]
	objectPoolPerShard int
	listener          Listener[K, V]
	metrics           Metrics
	logger            *zap.Logger
	tracer            trace.Tracer
}

func defaultWeightFn[K comparable, V any](K, V) int64 { return 1 }

func defaultConfig[K comparable, V any]() *config[K, V] {
	return &config[K, V]{
		capacity:           1 << 20,
		shards:             16,
		weightFn:           defaultWeightFn[K, V],
		policyFactory:      fifo.NewFactory[K, V](),
		objectPoolPerShard: 256,
		metrics:            noopMetrics{},
		logger:             zap.NewNop(),
		tracer:             defaultTracer(),
	}
}

// WithCapacity sets the total accounted capacity split evenly across shards.
func WithCapacity[K comparable, V any](capacity int64) Option[K, V] {
	return func(c *config[K, V]) { c.capacity = capacity }
}

// WithShards sets the shard count; must be a power of two.
func WithShards[K comparable, V any](shards int) Option[K, V] {
	return func(c *config[K, V]) { c.shards = shards }
}

// WithWeightFn overrides the default equal-weight charge function.
func WithWeightFn[K comparable, V any](fn WeightFn[K, V]) Option[K, V] {
	return func(c *config[K, V]) { c.weightFn = fn }
}

// WithEvictionPolicy overrides the default FIFO policy factory, e.g. with
// lru.NewFactory[K, V]().
func WithEvictionPolicy[K comparable, V any](factory eviction.Factory[K, V]) Option[K, V] {
	return func(c *config[K, V]) { c.policyFactory = factory }
}

// WithObjectPoolCapacity sets how many empty handle slots are retained for
// reuse per shard; all shards share one pool holding n times the shard count.
func WithObjectPoolCapacity[K comparable, V any](n int) Option[K, V] {
	return func(c *config[K, V]) { c.objectPoolPerShard = n }
}

// WithListener registers a Listener invoked when entries leave for good.
func WithListener[K comparable, V any](l Listener[K, V]) Option[K, V] {
	return func(c *config[K, V]) { c.listener = l }
}

// WithMetrics installs a Metrics sink; defaults to a no-op sink.
func WithMetrics[K comparable, V any](m Metrics) Option[K, V] {
	return func(c *config[K, V]) { c.metrics = m }
}

// WithLogger installs a zap logger; defaults to zap.NewNop().
func WithLogger[K comparable, V any](log *zap.Logger) Option[K, V] {
	return func(c *config[K, V]) { c.logger = log }
}

// WithTracer installs an otel tracer for Fetch spans; defaults to the
// global TracerProvider's tracer, which is a no-op until the caller
// installs a real provider.
func WithTracer[K comparable, V any](t trace.Tracer) Option[K, V] {
	return func(c *config[K, V]) { c.tracer = t }
}

func applyOptions[K comparable, V any](opts []Option[K, V]) (*config[K, V], error) {
	c := defaultConfig[K, V]()
	for _, opt := range opts {
		opt(c)
	}

	if c.capacity <= 0 {
		return nil, errInvalidCapacity
	}
	if c.shards <= 0 || (c.shards&(c.shards-1)) != 0 {
		return nil, fmt.Errorf("%w: got %d", errInvalidShards, c.shards)
	}
	if c.weightFn == nil {
		return nil, errNilWeightFn
	}
	if c.objectPoolPerShard <= 0 {
		c.objectPoolPerShard = 1
	}
	return c, nil
}
