package testutil

import (
	"charsync/internal/providers"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockLogger implements providers.Logger and records calls.
type MockLogger struct {
	mu   sync.Mutex
	Logs []LogEntry
}

type LogEntry struct {
	Level  string
	Type   providers.TypeEnum
	Format string
	Args   []interface{}
}

func (e LogEntry) Message() string {
	return fmt.Sprintf(e.Format, e.Args...)
}

func (m *MockLogger) record(level string, t providers.TypeEnum, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, LogEntry{Level: level, Type: t, Format: format, Args: args})
}

func (m *MockLogger) Errorf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("error", t, format, args...)
}
func (m *MockLogger) Warnf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("warn", t, format, args...)
}
func (m *MockLogger) Debugf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("debug", t, format, args...)
}
func (m *MockLogger) Infof(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("info", t, format, args...)
}
func (m *MockLogger) Fatalf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("fatal", t, format, args...)
}
func (m *MockLogger) Close() {}

// Contains reports whether any entry of the given level contains substr.
func (m *MockLogger) Contains(level, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Logs {
		if e.Level == level && strings.Contains(e.Message(), substr) {
			return true
		}
	}
	return false
}

// MockMetrics implements providers.MetricsProviderInterface and counts calls.
type MockMetrics struct {
	mu               sync.Mutex
	Requests         int
	CacheHits        int
	CacheMisses      int
	Sent             map[string]int
	SendFailures     map[string]int
	Received         map[string]int
	MergeFailures    map[string]int
	PayloadBytes     map[string]int
	PersistenceCalls int
	ActiveSessions   int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		Sent:          make(map[string]int),
		SendFailures:  make(map[string]int),
		Received:      make(map[string]int),
		MergeFailures: make(map[string]int),
		PayloadBytes:  make(map[string]int),
	}
}

func (m *MockMetrics) IncRequestsTotal(_ string, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests++
}
func (m *MockMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (m *MockMetrics) IncCacheHits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
}
func (m *MockMetrics) IncCacheMisses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheMisses++
}
func (m *MockMetrics) IncSnapshotsSent(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent[role]++
}
func (m *MockMetrics) IncSendFailures(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendFailures[reason]++
}
func (m *MockMetrics) IncSnapshotsReceived(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Received[role]++
}
func (m *MockMetrics) IncMergeFailures(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MergeFailures[reason]++
}
func (m *MockMetrics) ObservePayloadSize(direction string, bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PayloadBytes[direction] += bytes
}
func (m *MockMetrics) ObservePersistenceDuration(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PersistenceCalls++
}
func (m *MockMetrics) SetActiveSessions(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ActiveSessions = count
}

func (m *MockMetrics) SentCount(role string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Sent[role]
}

func (m *MockMetrics) SendFailureCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SendFailures[reason]
}

func (m *MockMetrics) ReceivedCount(role string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Received[role]
}

func (m *MockMetrics) MergeFailureCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MergeFailures[reason]
}

func (m *MockMetrics) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ActiveSessions
}

// MockCache implements providers.CacheProviderInterface over a map.
type MockCache struct {
	mu   sync.Mutex
	Data map[string][]byte
	Hits int
}

func NewMockCache() *MockCache {
	return &MockCache{Data: make(map[string][]byte)}
}

func (m *MockCache) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Data[key]
	if ok {
		m.Hits++
	}
	return v, ok
}

func (m *MockCache) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Data[key] = value
}

func (m *MockCache) HitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Hits
}

// MockReferences resolves names from fixed tables.
type MockReferences struct {
	Spells  map[string]int64
	Recipes map[string]int64
}

func (m *MockReferences) SpellIDByName(name string) (int64, bool) {
	id, ok := m.Spells[name]
	return id, ok
}

func (m *MockReferences) RecipeIDByName(name string) (int64, bool) {
	id, ok := m.Recipes[name]
	return id, ok
}

// MockCompressor passes data through unchanged.
type MockCompressor struct {
	Err error
}

func (m *MockCompressor) Compress(val []byte) ([]byte, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return val, nil
}

func (m *MockCompressor) Decompress(val []byte) ([]byte, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return val, nil
}
