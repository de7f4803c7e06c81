package storage

import (
	"charsync/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps aggregates in memory. FileManager persists it to disk.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[int64]*models.Aggregate
	byGUID   map[string]int64
	nextID   int64
	writes   *keyedMutex
	notifier *changeNotifier
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[int64]*models.Aggregate),
		byGUID:   make(map[string]int64),
		nextID:   1,
		writes:   newKeyedMutex(),
		notifier: newChangeNotifier(),
		now:      time.Now,
	}
}

func (m *MemoryStore) List(_ context.Context) ([]*models.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Aggregate, 0, len(m.byID))
	for _, agg := range m.byID {
		out = append(out, agg.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Character.ID < out[j].Character.ID })
	return out, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id int64) (*models.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("character %d: %w", id, models.ErrNotFound)
	}
	return agg.Clone(), nil
}

func (m *MemoryStore) GetByGUID(_ context.Context, guid string) (*models.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byGUID[guid]
	if !ok {
		return nil, fmt.Errorf("character %s: %w", guid, models.ErrNotFound)
	}
	return m.byID[id].Clone(), nil
}

// Create assigns a guid when missing and a fresh local id.
func (m *MemoryStore) Create(_ context.Context, agg *models.Aggregate) (*models.Aggregate, error) {
	next := agg.Clone()
	if next.Character.GUID == "" {
		next.Character.GUID = uuid.NewString()
	}
	if next.Character.LastModifiedDate == 0 {
		touch(&next.Character, m.now())
	}

	unlock := m.writes.lock(next.Character.GUID)
	defer unlock()

	m.mu.Lock()
	if _, exists := m.byGUID[next.Character.GUID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("character %s already exists", next.Character.GUID)
	}
	m.insertLocked(next)
	m.mu.Unlock()

	m.notifier.publish(next.Character.ID)
	return next.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, id int64, mutate func(agg *models.Aggregate) error) (*models.Aggregate, error) {
	m.mu.RLock()
	current, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("character %d: %w", id, models.ErrNotFound)
	}

	unlock := m.writes.lock(current.Character.GUID)
	defer unlock()

	m.mu.RLock()
	next := m.byID[id].Clone()
	m.mu.RUnlock()

	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Character.ID = id
	next.Character.GUID = current.Character.GUID
	touch(&next.Character, m.now())

	m.mu.Lock()
	m.byID[id] = next
	m.mu.Unlock()

	m.notifier.publish(id)
	return next.Clone(), nil
}

func (m *MemoryStore) Transact(_ context.Context, guid string, fn TransactFunc) (*models.Aggregate, error) {
	unlock := m.writes.lock(guid)
	defer unlock()

	m.mu.RLock()
	var local *models.Aggregate
	if id, ok := m.byGUID[guid]; ok {
		local = m.byID[id].Clone()
	}
	m.mu.RUnlock()

	next, changed, err := fn(local)
	if err != nil {
		return nil, err
	}
	if !changed {
		return local, nil
	}
	if next.Character.GUID != guid {
		return nil, fmt.Errorf("transaction for %s returned guid %s", guid, next.Character.GUID)
	}

	next = next.Clone()
	m.mu.Lock()
	if local == nil {
		m.insertLocked(next)
	} else {
		next.Character.ID = local.Character.ID
		m.byID[next.Character.ID] = next
	}
	m.mu.Unlock()

	m.notifier.publish(next.Character.ID)
	return next.Clone(), nil
}

func (m *MemoryStore) Subscribe(id int64) (<-chan struct{}, func()) {
	return m.notifier.subscribe(id)
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) insertLocked(agg *models.Aggregate) {
	agg.Character.ID = m.nextID
	m.nextID++
	m.byID[agg.Character.ID] = agg
	m.byGUID[agg.Character.GUID] = agg.Character.ID
}

// Dump returns every aggregate with its local id, for persistence.
func (m *MemoryStore) Dump() []*models.Aggregate {
	all, _ := m.List(context.Background())
	return all
}

// Load replaces the store content. Local ids are kept as persisted.
func (m *MemoryStore) Load(aggs []*models.Aggregate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID = make(map[int64]*models.Aggregate, len(aggs))
	m.byGUID = make(map[string]int64, len(aggs))
	m.nextID = 1
	for _, agg := range aggs {
		if agg == nil || agg.Character.GUID == "" || agg.Character.ID <= 0 {
			continue
		}
		m.byID[agg.Character.ID] = agg.Clone()
		m.byGUID[agg.Character.GUID] = agg.Character.ID
		if agg.Character.ID >= m.nextID {
			m.nextID = agg.Character.ID + 1
		}
	}
}
