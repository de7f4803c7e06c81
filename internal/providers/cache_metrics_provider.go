package providers

import "charsync/internal/structures"

// InstrumentedCache counts hits and misses of the payload dedup cache.
type InstrumentedCache struct {
	inner   CacheProviderInterface
	metrics MetricsProviderInterface
}

func (c *InstrumentedCache) Get(key string) ([]byte, bool) {
	val, ok := c.inner.Get(key)
	if ok {
		c.metrics.IncCacheHits()
	} else {
		c.metrics.IncCacheMisses()
	}
	return val, ok
}

func (c *InstrumentedCache) Set(key string, value []byte) {
	c.inner.Set(key, value)
}

// NewInstrumentedCacheProvider skips the wrapper when the cache is disabled so
// that a noop cache does not report a miss for every inbound payload.
func NewInstrumentedCacheProvider(conf *structures.Config, logger Logger, metrics MetricsProviderInterface) CacheProviderInterface {
	inner := NewCacheProvider(conf, logger)
	if _, disabled := inner.(*noopCache); disabled {
		return inner
	}
	return &InstrumentedCache{
		inner:   inner,
		metrics: metrics,
	}
}
