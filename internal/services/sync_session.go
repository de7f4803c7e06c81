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
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"
)

// ErrSessionRemoved is returned when starting a session the registry has
// already discarded.
var ErrSessionRemoved = errors.New("session removed from registry")

type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	}
	return "none"
}

// SessionInfo is the ephemeral session record. It is never persisted.
type SessionInfo struct {
	CharacterGUID             string    `json:"characterGuid"`
	Role                      string    `json:"role"`
	EndpointID                string    `json:"endpointId,omitempty"`
	EndpointName              string    `json:"endpointName,omitempty"`
	LastSuccessfulSendTime    time.Time `json:"lastSuccessfulSendTime"`
	LastSuccessfulReceiveTime time.Time `json:"lastSuccessfulReceiveTime"`
}

type sessionState struct {
	guid         string
	role         Role
	localName    string
	endpointID   string
	endpointName string
}

// SyncSession runs the sync state machine for one character:
//
//	Idle -> Connecting -> Syncing <-> Warning -> Idle (Stop)
//
// with a side exit to Error on unrecoverable transport failure. Every
// goroutine it starts is a child of the session context and is gone once
// Stop returns.
type SyncSession struct {
	characterID int64
	root        context.Context
	repo        storage.CharacterRepository
	codec       *codec.SnapshotCodec
	engine      *merge.Engine
	ports       transport.Factory
	cache       providers.CacheProviderInterface
	logger      providers.Logger
	metrics     providers.MetricsProviderInterface
	conf        structures.SyncConfig
	now         func() time.Time
	onStatus    func(characterID int64, status models.SyncStatus)

	lastSend    atomic.Int64
	lastReceive atomic.Int64

	// opMu serializes Start and Stop and guards removed.
	opMu    sync.Mutex
	removed bool

	mu         sync.Mutex
	gen        uint64
	status     models.SyncStatus
	state      sessionState
	port       transport.Port
	cancel     context.CancelFunc
	connCancel context.CancelFunc
	wg         sync.WaitGroup
}

func (s *SyncSession) CharacterID() int64 {
	return s.characterID
}

func (s *SyncSession) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SyncSession) Info() SessionInfo {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	return SessionInfo{
		CharacterGUID:             st.guid,
		Role:                      st.role.String(),
		EndpointID:                st.endpointID,
		EndpointName:              st.endpointName,
		LastSuccessfulSendTime:    msToTime(s.lastSend.Load()),
		LastSuccessfulReceiveTime: msToTime(s.lastReceive.Load()),
	}
}

// StartAsHost advertises the character and waits for a peer. A dropped peer
// sends the session back to Connecting; advertising continues.
func (s *SyncSession) StartAsHost(ctx context.Context, localDeviceName string) error {
	return s.start(ctx, RoleHost, localDeviceName, "")
}

// StartAsClient connects to a host endpoint. Losing the connection ends the
// session in Error.
func (s *SyncSession) StartAsClient(ctx context.Context, hostEndpointID, localDeviceName string) error {
	return s.start(ctx, RoleClient, localDeviceName, hostEndpointID)
}

func (s *SyncSession) start(ctx context.Context, role Role, localName, hostEndpointID string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.removed {
		return fmt.Errorf("start session for character %d: %w", s.characterID, ErrSessionRemoved)
	}

	s.stopLocked()

	agg, err := s.repo.GetByID(ctx, s.characterID)
	if err != nil {
		s.mu.Lock()
		s.setStatusLocked(models.Failed(fmt.Sprintf("Character %d cannot be loaded: %s", s.characterID, err)))
		s.mu.Unlock()
		return err
	}

	sessCtx, cancel := context.WithCancel(s.root)
	port := s.ports()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = sessionState{guid: agg.Character.GUID, role: role, localName: localName}
	s.port = port
	s.cancel = cancel
	s.setStatusLocked(models.Connecting(localName))
	s.mu.Unlock()

	var states <-chan transport.ConnectionState
	if role == RoleHost {
		states, err = port.Advertise(sessCtx, localName)
	} else {
		states, err = port.Connect(sessCtx, hostEndpointID, localName)
	}
	if err != nil {
		s.teardown(gen, models.Failed(fmt.Sprintf("Cannot start %s session: %s", role, err)))
		return fmt.Errorf("start %s session for character %d: %w", role, s.characterID, err)
	}

	s.logger.Infof(providers.TypeSync, "Character %s: %s session started as %s", agg.Character.GUID, role, localName)
	s.wg.Add(1)
	go s.connectionEvents(sessCtx, gen, states)
	return nil
}

// Stop cancels every loop, closes the transport and returns to Idle. Safe to
// call in any state.
func (s *SyncSession) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked()
}

// retire stops the session for good. Later starts fail with
// ErrSessionRemoved.
func (s *SyncSession) retire() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.removed = true
	s.stopLocked()
}

func (s *SyncSession) stopLocked() {
	s.mu.Lock()
	s.gen++
	cancel, port := s.cancel, s.port
	s.cancel, s.connCancel, s.port = nil, nil, nil
	guid := s.state.guid
	s.state = sessionState{}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if port != nil {
		port.Disconnect()
	}
	s.wg.Wait()

	s.lastSend.Store(0)
	s.lastReceive.Store(0)

	s.mu.Lock()
	s.setStatusLocked(models.Idle())
	s.mu.Unlock()
	if cancel != nil {
		s.logger.Infof(providers.TypeSync, "Character %s: session stopped", guid)
	}
}

// teardown ends the current run from inside one of its own goroutines, so it
// must not wait for them.
func (s *SyncSession) teardown(gen uint64, final models.SyncStatus) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	cancel, port := s.cancel, s.port
	s.cancel, s.connCancel, s.port = nil, nil, nil
	guid := s.state.guid
	s.state = sessionState{}
	s.setStatusLocked(final)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if port != nil {
		port.Disconnect()
	}
	s.logger.Warnf(providers.TypeSync, "Character %s: session torn down: %s", guid, final.Message)
}

func (s *SyncSession) setStatusLocked(st models.SyncStatus) {
	if s.status == st {
		return
	}
	s.status = st
	if s.onStatus != nil {
		s.onStatus(s.characterID, st)
	}
}

// setStatus applies st only if gen is still the current run.
func (s *SyncSession) setStatus(gen uint64, st models.SyncStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.setStatusLocked(st)
	return true
}

func (s *SyncSession) connectionEvents(ctx context.Context, gen uint64, states <-chan transport.ConnectionState) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-states:
			if done := s.handleConnectionState(ctx, gen, st); done {
				return
			}
		}
	}
}

func (s *SyncSession) handleConnectionState(ctx context.Context, gen uint64, st transport.ConnectionState) bool {
	switch st.Kind {
	case transport.StateAdvertising:
		s.logger.Debugf(providers.TypeTransport, "Character %d: advertising", s.characterID)
		return false

	case transport.StateConnected:
		s.onConnected(ctx, gen, st.EndpointID, st.EndpointName)
		return false

	case transport.StateDisconnected:
		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return true
		}
		role, localName, peer := s.state.role, s.state.localName, s.state.endpointName
		connCancel := s.connCancel
		s.connCancel = nil
		s.state.endpointID, s.state.endpointName = "", ""
		s.mu.Unlock()
		if connCancel != nil {
			connCancel()
		}

		if role == RoleHost {
			s.logger.Infof(providers.TypeTransport, "Character %d: peer %s left (%s), waiting for reconnect", s.characterID, peer, st.Reason)
			s.setStatus(gen, models.Connecting(localName))
			return false
		}
		s.teardown(gen, models.Failed(fmt.Sprintf("Connection to %s lost: %s", peer, st.Reason)))
		return true

	case transport.StateError:
		s.teardown(gen, models.Failed(st.Message))
		return true
	}
	return false
}

func (s *SyncSession) onConnected(ctx context.Context, gen uint64, endpointID, endpointName string) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.connCancel != nil {
		s.connCancel()
	}
	connCtx, connCancel := context.WithCancel(ctx)
	s.connCancel = connCancel
	s.state.endpointID, s.state.endpointName = endpointID, endpointName
	guid := s.state.guid
	port := s.port
	s.mu.Unlock()

	now := s.now().UnixMilli()
	s.lastSend.Store(now)
	s.lastReceive.Store(now)
	s.setStatus(gen, models.Syncing(guid, endpointID, endpointName))
	s.logger.Infof(providers.TypeTransport, "Character %s: connected to %s (%s)", guid, endpointName, endpointID)

	changes, unsubscribe := s.repo.Subscribe(s.characterID)
	s.sendSnapshot(connCtx, gen)

	s.wg.Add(3)
	go s.observeLoop(connCtx, gen, changes, unsubscribe)
	go s.receiveLoop(connCtx, gen, port.Receive())
	go s.watchdogLoop(connCtx, gen)
}

// observeLoop coalesces local changes within the debounce window into one
// outgoing snapshot.
func (s *SyncSession) observeLoop(ctx context.Context, gen uint64, changes <-chan struct{}, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(s.conf.Debounce)
			} else {
				timer.Reset(s.conf.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			s.sendSnapshot(ctx, gen)
		}
	}
}

func (s *SyncSession) sendSnapshot(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	port, endpoint, peer, role := s.port, s.state.endpointID, s.state.endpointName, s.state.role
	s.mu.Unlock()
	if port == nil || endpoint == "" {
		return
	}

	agg, err := s.repo.GetByID(ctx, s.characterID)
	if err != nil {
		s.metrics.IncSendFailures("load")
		s.logger.Errorf(providers.TypeSync, "SendFailed: character %d cannot be loaded: %s", s.characterID, err)
		return
	}
	payload, err := s.codec.ExportPayload(agg)
	if err != nil {
		if errors.Is(err, models.ErrPayloadTooLarge) {
			s.metrics.IncSendFailures("payload_too_large")
			s.logger.Warnf(providers.TypeSync, "SendFailed: character %s: %s", agg.Character.GUID, err)
			s.setStatus(gen, models.Failed(err.Error()))
			return
		}
		s.metrics.IncSendFailures("encode")
		s.logger.Errorf(providers.TypeSync, "SendFailed: character %s cannot be encoded: %s", agg.Character.GUID, err)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.conf.SendTimeout)
	defer cancel()
	if err := port.Send(sendCtx, endpoint, payload); err != nil {
		s.metrics.IncSendFailures("transport")
		s.logger.Warnf(providers.TypeSync, "SendFailed: character %s to %s: %s", agg.Character.GUID, endpoint, err)
		s.setStatus(gen, models.Failed(fmt.Sprintf("SendFailed: could not send to %s: %s", peer, err)))
		return
	}

	s.lastSend.Store(s.now().UnixMilli())
	s.metrics.IncSnapshotsSent(role.String())
	s.metrics.ObservePayloadSize("out", len(payload))
	s.logger.Debugf(providers.TypeSync, "Character %s: sent %d bytes to %s", agg.Character.GUID, len(payload), endpoint)
	s.markHealthy(gen)
}

// receiveLoop handles inbound payloads strictly one at a time.
func (s *SyncSession) receiveLoop(ctx context.Context, gen uint64, inbox <-chan []byte) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-inbox:
			if !ok {
				return
			}
			s.handlePayload(ctx, gen, data)
		}
	}
}

func payloadKey(guid string, data []byte) string {
	return "rx:" + guid + ":" + strconv.FormatUint(xxhash.Sum64(data), 16)
}

func (s *SyncSession) handlePayload(ctx context.Context, gen uint64, data []byte) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	guid, role := s.state.guid, s.state.role
	s.mu.Unlock()

	s.metrics.ObservePayloadSize("in", len(data))
	snapshot, err := s.codec.Decode(data)
	if snapshot != nil && snapshot.Character.GUID != guid {
		s.logger.Debugf(providers.TypeSync, "Character %s: ignoring snapshot for %s", guid, snapshot.Character.GUID)
		return
	}
	if err != nil {
		reason := "decode"
		if errors.Is(err, models.ErrVersionIncompatible) {
			reason = "version"
		}
		s.metrics.IncMergeFailures(reason)
		s.logger.Warnf(providers.TypeSync, "Character %s: dropping inbound payload: %s", guid, err)
		s.setStatus(gen, models.Failed(fmt.Sprintf("Received data could not be applied: %s", err)))
		return
	}

	key := payloadKey(guid, data)
	if _, seen := s.cache.Get(key); seen {
		s.lastReceive.Store(s.now().UnixMilli())
		s.markHealthy(gen)
		return
	}

	var effects int
	_, err = s.repo.Transact(ctx, guid, func(local *models.Aggregate) (*models.Aggregate, bool, error) {
		res, err := s.engine.Apply(local, snapshot, false)
		if err != nil {
			return nil, false, err
		}
		effects = len(res.Effects)
		return res.Aggregate, res.Changed(), nil
	})
	if err != nil {
		if errors.Is(err, models.ErrUnknownCharacter) {
			s.logger.Debugf(providers.TypeSync, "Character %s: %s", guid, err)
			return
		}
		s.metrics.IncMergeFailures("merge")
		s.logger.Warnf(providers.TypeSync, "Character %s: merge failed: %s", guid, err)
		return
	}

	s.cache.Set(key, []byte{1})
	s.lastReceive.Store(s.now().UnixMilli())
	s.metrics.IncSnapshotsReceived(role.String())
	s.logger.Debugf(providers.TypeSync, "Character %s: merged snapshot, %d effects", guid, effects)
	s.markHealthy(gen)
}

// markHealthy clears an Error left by a failed transfer once a transfer
// succeeds on a live connection.
func (s *SyncSession) markHealthy(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.status.Kind != models.StatusError || s.state.endpointID == "" {
		return
	}
	s.setStatusLocked(models.Syncing(s.state.guid, s.state.endpointID, s.state.endpointName))
}

func (s *SyncSession) watchdogLoop(ctx context.Context, gen uint64) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.conf.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkStaleness(gen)
		}
	}
}

// checkStaleness is advisory: it flips Syncing and Warning, nothing else.
func (s *SyncSession) checkStaleness(gen uint64) {
	now := s.now()
	lastSend := msToTime(s.lastSend.Load())
	lastReceive := msToTime(s.lastReceive.Load())
	idle := min(now.Sub(lastSend), now.Sub(lastReceive))

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	st := s.state
	switch {
	case idle > s.conf.StaleThreshold && s.status.Kind == models.StatusSyncing:
		staleSince := lastSend
		if lastReceive.After(staleSince) {
			staleSince = lastReceive
		}
		msg := fmt.Sprintf("No data exchanged with %s for %d seconds", st.endpointName, int(idle.Seconds()))
		s.setStatusLocked(models.Warning(st.guid, msg, staleSince))
		s.logger.Warnf(providers.TypeSync, "Character %s: %s", st.guid, msg)
	case idle <= s.conf.StaleThreshold && s.status.Kind == models.StatusWarning:
		s.setStatusLocked(models.Syncing(st.guid, st.endpointID, st.endpointName))
		s.logger.Infof(providers.TypeSync, "Character %s: transfers resumed", st.guid)
	}
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
