package transport

import (
	"charsync/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
)

// LoopbackHub connects ports living in the same process. Each advertising
// port is discoverable under its endpoint id.
type LoopbackHub struct {
	mu          sync.Mutex
	nextID      int
	advertisers map[string]*LoopbackPort
}

func NewLoopbackHub() *LoopbackHub {
	return &LoopbackHub{advertisers: make(map[string]*LoopbackPort)}
}

// Factory returns a transport.Factory producing ports on this hub.
func (h *LoopbackHub) Factory() Factory {
	return func() Port { return h.NewPort() }
}

func (h *LoopbackHub) NewPort() *LoopbackPort {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &LoopbackPort{
		hub:    h,
		id:     fmt.Sprintf("loop-%d", h.nextID),
		states: make(chan ConnectionState, stateBuffer),
		inbox:  make(chan []byte, inboxBuffer),
	}
}

func (h *LoopbackHub) endpoints(exclude string) []Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Endpoint, 0, len(h.advertisers))
	for id, p := range h.advertisers {
		if id == exclude {
			continue
		}
		out = append(out, Endpoint{ID: id, Name: p.localName()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type LoopbackPort struct {
	hub    *LoopbackHub
	id     string
	states chan ConnectionState
	inbox  chan []byte

	mu     sync.Mutex
	name   string
	peer   *LoopbackPort
	closed bool
}

func (p *LoopbackPort) ID() string {
	return p.id
}

func (p *LoopbackPort) localName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *LoopbackPort) Advertise(ctx context.Context, localName string) (<-chan ConnectionState, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: port closed", models.ErrTransport)
	}
	p.name = localName
	p.mu.Unlock()

	p.hub.mu.Lock()
	p.hub.advertisers[p.id] = p
	p.hub.mu.Unlock()

	emit(p.states, Advertising())
	go func() {
		<-ctx.Done()
		p.stopAdvertising()
	}()
	return p.states, nil
}

func (p *LoopbackPort) stopAdvertising() {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if p.hub.advertisers[p.id] == p {
		delete(p.hub.advertisers, p.id)
	}
}

func (p *LoopbackPort) Discover(_ context.Context, found func(Endpoint)) (<-chan ConnectionState, error) {
	for _, ep := range p.hub.endpoints(p.id) {
		found(ep)
	}
	return p.states, nil
}

func (p *LoopbackPort) Connect(ctx context.Context, endpointID, localName string) (<-chan ConnectionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.hub.mu.Lock()
	host, ok := p.hub.advertisers[endpointID]
	p.hub.mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: port closed", models.ErrTransport)
	}
	p.name = localName
	p.mu.Unlock()

	if !ok {
		emit(p.states, Failure(fmt.Sprintf("endpoint %s not found", endpointID)))
		return p.states, nil
	}

	host.mu.Lock()
	if host.peer != nil || host.closed {
		host.mu.Unlock()
		emit(p.states, Failure(fmt.Sprintf("endpoint %s is busy", endpointID)))
		return p.states, nil
	}
	host.peer = p
	hostName := host.name
	host.mu.Unlock()

	p.mu.Lock()
	p.peer = host
	p.mu.Unlock()

	emit(host.states, Connected(p.id, localName))
	emit(p.states, Connected(host.id, hostName))
	return p.states, nil
}

func (p *LoopbackPort) Send(ctx context.Context, endpointID string, payload []byte) error {
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()

	if peer == nil || peer.id != endpointID {
		return fmt.Errorf("%w: not connected to %s", models.ErrTransport, endpointID)
	}
	data := append([]byte(nil), payload...)
	select {
	case peer.inbox <- data:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", models.ErrTransport, ctx.Err())
	}
}

func (p *LoopbackPort) Receive() <-chan []byte {
	return p.inbox
}

// Drop severs the current link as if the radio went away, without closing
// either port. Both sides see Disconnected.
func (p *LoopbackPort) Drop(reason string) {
	p.mu.Lock()
	peer := p.peer
	p.peer = nil
	p.mu.Unlock()
	if peer == nil {
		return
	}
	peer.mu.Lock()
	if peer.peer == p {
		peer.peer = nil
	}
	peer.mu.Unlock()

	emit(p.states, Disconnected(reason))
	emit(peer.states, Disconnected(reason))
}

func (p *LoopbackPort) Disconnect() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	peer := p.peer
	p.peer = nil
	p.mu.Unlock()

	p.stopAdvertising()
	if peer != nil {
		peer.mu.Lock()
		if peer.peer == p {
			peer.peer = nil
		}
		peer.mu.Unlock()
		emit(peer.states, Disconnected("peer closed the connection"))
	}
}
