package providers

import (
	"charsync/internal/structures"
	"testing"

	"github.com/stretchr/testify/assert"
)

type cacheMetricsTestInner struct {
	data map[string][]byte
}

func (c *cacheMetricsTestInner) Get(key string) ([]byte, bool) {
	v, ok := c.data[key]
	return v, ok
}
func (c *cacheMetricsTestInner) Set(key string, value []byte) {
	c.data[key] = value
}

func TestInstrumentedCache_Hit(t *testing.T) {
	inner := &cacheMetricsTestInner{data: map[string][]byte{"key1": []byte("val1")}}
	metrics := &mockMetrics{}
	cache := &InstrumentedCache{inner: inner, metrics: metrics}

	val, ok := cache.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, []byte("val1"), val)
	assert.Equal(t, 1, metrics.hits)
	assert.Equal(t, 0, metrics.misses)
}

func TestInstrumentedCache_Miss(t *testing.T) {
	inner := &cacheMetricsTestInner{data: map[string][]byte{}}
	metrics := &mockMetrics{}
	cache := &InstrumentedCache{inner: inner, metrics: metrics}

	val, ok := cache.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, val)
	assert.Equal(t, 0, metrics.hits)
	assert.Equal(t, 1, metrics.misses)
}

func TestInstrumentedCache_SetDelegates(t *testing.T) {
	inner := &cacheMetricsTestInner{data: map[string][]byte{}}
	metrics := &mockMetrics{}
	cache := &InstrumentedCache{inner: inner, metrics: metrics}

	cache.Set("key2", []byte("val2"))

	val, ok := inner.Get("key2")
	assert.True(t, ok)
	assert.Equal(t, []byte("val2"), val)
}

func TestInstrumentedCache_MultipleOperations(t *testing.T) {
	inner := &cacheMetricsTestInner{data: map[string][]byte{"a": []byte("1")}}
	metrics := &mockMetrics{}
	cache := &InstrumentedCache{inner: inner, metrics: metrics}

	cache.Get("a") // hit
	cache.Get("b") // miss
	cache.Get("a") // hit
	cache.Get("c") // miss

	assert.Equal(t, 2, metrics.hits)
	assert.Equal(t, 2, metrics.misses)
}

func TestNewInstrumentedCacheProvider_SkipsWrapperWhenDisabled(t *testing.T) {
	metrics := &mockMetrics{}
	c := NewInstrumentedCacheProvider(&structures.Config{}, &mockLogger{}, metrics)
	assert.IsType(t, &noopCache{}, c)

	c.Get("x")
	assert.Equal(t, 0, metrics.misses)
}

func TestNewInstrumentedCacheProvider_WrapsEnabledCache(t *testing.T) {
	metrics := &mockMetrics{}
	conf := &structures.Config{Cache: structures.CacheConfig{Enabled: true, Size: 1}}
	c := NewInstrumentedCacheProvider(conf, &mockLogger{}, metrics)
	assert.IsType(t, &InstrumentedCache{}, c)

	c.Set("rx:g:1", []byte{1})
	_, ok := c.Get("rx:g:1")
	assert.True(t, ok)
	c.Get("rx:g:2")
	assert.Equal(t, 1, metrics.hits)
	assert.Equal(t, 1, metrics.misses)
}
