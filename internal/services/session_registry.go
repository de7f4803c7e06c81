package services

import (
	"charsync/internal/codec"
	"charsync/internal/merge"
	"charsync/internal/models"
	"charsync/internal/providers"
	"charsync/internal/storage"
	"charsync/internal/structures"
	"charsync/internal/transport"
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type SessionRegistryInterface interface {
	GetOrCreate(characterID int64) *SyncSession
	StartHostSession(ctx context.Context, characterID int64, localDeviceName string) error
	StartClientSession(ctx context.Context, characterID int64, hostEndpointID, localDeviceName string) error
	RemoveSession(characterID int64)
	StopAll()
	Status(characterID int64) models.SyncStatus
	Statuses() map[int64]models.SyncStatus
	Sessions() map[int64]SessionInfo
	Subscribe() (<-chan map[int64]models.SyncStatus, func())
	ActiveCount() int
	DiscoverHosts(ctx context.Context) ([]transport.Endpoint, error)
}

// SessionRegistry owns one SyncSession per character and the merged status
// map. It is created once and injected.
type SessionRegistry struct {
	root    context.Context
	repo    storage.CharacterRepository
	codec   *codec.SnapshotCodec
	engine  *merge.Engine
	ports   transport.Factory
	cache   providers.CacheProviderInterface
	logger  providers.Logger
	metrics providers.MetricsProviderInterface
	conf    structures.SyncConfig
	now     func() time.Time

	mu       sync.Mutex
	sessions map[int64]*SyncSession
	statuses map[int64]models.SyncStatus
	subs     map[int]chan map[int64]models.SyncStatus
	nextSub  int
}

func NewSessionRegistry(conf *structures.Config, repo storage.CharacterRepository, snapshotCodec *codec.SnapshotCodec, engine *merge.Engine, ports transport.Factory, cache providers.CacheProviderInterface, logger providers.Logger, metrics providers.MetricsProviderInterface) SessionRegistryInterface {
	return newSessionRegistry(conf, repo, snapshotCodec, engine, ports, cache, logger, metrics)
}

func newSessionRegistry(conf *structures.Config, repo storage.CharacterRepository, snapshotCodec *codec.SnapshotCodec, engine *merge.Engine, ports transport.Factory, cache providers.CacheProviderInterface, logger providers.Logger, metrics providers.MetricsProviderInterface) *SessionRegistry {
	return &SessionRegistry{
		root:     context.Background(),
		repo:     repo,
		codec:    snapshotCodec,
		engine:   engine,
		ports:    ports,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
		conf:     conf.Sync.WithDefaults(),
		now:      time.Now,
		sessions: make(map[int64]*SyncSession),
		statuses: make(map[int64]models.SyncStatus),
		subs:     make(map[int]chan map[int64]models.SyncStatus),
	}
}

func (r *SessionRegistry) GetOrCreate(characterID int64) *SyncSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[characterID]; ok {
		return s
	}
	s := &SyncSession{
		characterID: characterID,
		root:        r.root,
		repo:        r.repo,
		codec:       r.codec,
		engine:      r.engine,
		ports:       r.ports,
		cache:       r.cache,
		logger:      r.logger,
		metrics:     r.metrics,
		conf:        r.conf,
		now:         r.now,
		onStatus:    r.onStatus,
		status:      models.Idle(),
	}
	r.sessions[characterID] = s
	r.statuses[characterID] = s.status
	r.publishLocked()
	return s
}

// StartHostSession fully stops any previous run for the character first.
func (r *SessionRegistry) StartHostSession(ctx context.Context, characterID int64, localDeviceName string) error {
	return r.startSession(characterID, func(s *SyncSession) error {
		return s.StartAsHost(ctx, localDeviceName)
	})
}

func (r *SessionRegistry) StartClientSession(ctx context.Context, characterID int64, hostEndpointID, localDeviceName string) error {
	return r.startSession(characterID, func(s *SyncSession) error {
		return s.StartAsClient(ctx, hostEndpointID, localDeviceName)
	})
}

// startSession retries on a fresh session when the one it looked up was
// removed in between, so only a registered session ever runs.
func (r *SessionRegistry) startSession(characterID int64, start func(s *SyncSession) error) error {
	for {
		err := start(r.GetOrCreate(characterID))
		if !errors.Is(err, ErrSessionRemoved) {
			return err
		}
	}
}

// RemoveSession discards the session and stops it.
func (r *SessionRegistry) RemoveSession(characterID int64) {
	r.mu.Lock()
	s, ok := r.sessions[characterID]
	if ok {
		r.detachLocked(characterID)
	}
	r.mu.Unlock()
	if ok {
		s.retire()
	}
}

// StopAll discards and stops every session.
func (r *SessionRegistry) StopAll() {
	r.mu.Lock()
	sessions := make([]*SyncSession, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
		delete(r.statuses, id)
	}
	if len(sessions) > 0 {
		r.metrics.SetActiveSessions(0)
		r.publishLocked()
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *SyncSession) {
			defer wg.Done()
			s.retire()
		}(s)
	}
	wg.Wait()
}

func (r *SessionRegistry) detachLocked(characterID int64) {
	delete(r.sessions, characterID)
	delete(r.statuses, characterID)
	r.metrics.SetActiveSessions(r.activeLocked())
	r.publishLocked()
}

func (r *SessionRegistry) Status(characterID int64) models.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.statuses[characterID]; ok {
		return st
	}
	return models.Idle()
}

func (r *SessionRegistry) Statuses() map[int64]models.SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

func (r *SessionRegistry) Sessions() map[int64]SessionInfo {
	r.mu.Lock()
	sessions := make(map[int64]*SyncSession, len(r.sessions))
	for id, s := range r.sessions {
		sessions[id] = s
	}
	r.mu.Unlock()

	out := make(map[int64]SessionInfo, len(sessions))
	for id, s := range sessions {
		out[id] = s.Info()
	}
	return out
}

// Subscribe streams the status map. The current map is delivered first; a
// slow consumer only ever sees the latest value.
func (r *SessionRegistry) Subscribe() (<-chan map[int64]models.SyncStatus, func()) {
	ch := make(chan map[int64]models.SyncStatus, 1)
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.copyLocked()
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

func (r *SessionRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// DiscoverHosts runs the transport's discovery for at most the configured
// window.
func (r *SessionRegistry) DiscoverHosts(ctx context.Context) ([]transport.Endpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.conf.DiscoveryWindow)
	defer cancel()

	port := r.ports()
	defer port.Disconnect()

	var (
		mu    sync.Mutex
		found = make(map[string]transport.Endpoint)
	)
	if _, err := port.Discover(ctx, func(ep transport.Endpoint) {
		mu.Lock()
		found[ep.ID] = ep
		mu.Unlock()
	}); err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]transport.Endpoint, 0, len(found))
	for _, ep := range found {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	r.logger.Debugf(providers.TypeTransport, "Discovery found %d hosts", len(out))
	return out, nil
}

// onStatus runs with the reporting session's lock held and must not call
// back into it.
func (r *SessionRegistry) onStatus(characterID int64, st models.SyncStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[characterID]; !ok {
		return
	}
	r.statuses[characterID] = st
	r.metrics.SetActiveSessions(r.activeLocked())
	r.publishLocked()
}

func (r *SessionRegistry) activeLocked() int {
	n := 0
	for _, st := range r.statuses {
		if st.Active() {
			n++
		}
	}
	return n
}

func (r *SessionRegistry) copyLocked() map[int64]models.SyncStatus {
	out := make(map[int64]models.SyncStatus, len(r.statuses))
	for id, st := range r.statuses {
		out[id] = st
	}
	return out
}

func (r *SessionRegistry) publishLocked() {
	if len(r.subs) == 0 {
		return
	}
	snapshot := r.copyLocked()
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
