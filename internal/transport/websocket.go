package transport

import (
	"charsync/internal/models"
	"charsync/internal/providers"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const deviceNameHeader = "X-Device-Name"

// WebSocketHub owns the listener shared by every advertising port of this
// process. Advertisements are reachable at /sync/{advert}; /info lists them.
type WebSocketHub struct {
	listenAddr string
	peers      []string
	maxPayload int64
	logger     providers.Logger
	dialer     *websocket.Dialer
	upgrader   websocket.Upgrader
	client     *http.Client

	mu      sync.Mutex
	server  *http.Server
	addr    string
	adverts map[string]*WebSocketPort
}

func NewWebSocketHub(listenAddr string, peers []string, maxPayload int, logger providers.Logger) *WebSocketHub {
	return &WebSocketHub{
		listenAddr: listenAddr,
		peers:      peers,
		maxPayload: int64(maxPayload) + 1024,
		logger:     logger,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, EnableCompression: false},
		client:     &http.Client{Timeout: 3 * time.Second},
		adverts:    make(map[string]*WebSocketPort),
	}
}

func (h *WebSocketHub) Factory() Factory {
	return func() Port { return h.NewPort() }
}

func (h *WebSocketHub) NewPort() *WebSocketPort {
	return &WebSocketPort{
		hub:    h,
		states: make(chan ConnectionState, stateBuffer),
		inbox:  make(chan []byte, inboxBuffer),
		done:   make(chan struct{}),
	}
}

func (h *WebSocketHub) router() http.Handler {
	r := mux.NewRouter()
	r.Methods(http.MethodGet).Path("/info").HandlerFunc(h.info)
	r.Methods(http.MethodGet).Path("/sync/{advert}").HandlerFunc(h.accept)
	return r
}

// ensureServer starts the shared listener on first use.
func (h *WebSocketHub) ensureServer() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.server != nil {
		return nil
	}
	ln, err := net.Listen("tcp", h.listenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", models.ErrTransport, h.listenAddr, err)
	}
	h.server = &http.Server{Handler: h.router(), ReadHeaderTimeout: 5 * time.Second}
	h.addr = ln.Addr().String()
	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Errorf(providers.TypeTransport, "WebSocket listener stopped: %s", err)
		}
	}()
	h.logger.Infof(providers.TypeTransport, "Listening for peers on %s", ln.Addr())
	return nil
}

// Addr is the bound listener address, empty until the first Advertise.
func (h *WebSocketHub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addr
}

// Close stops the shared listener.
func (h *WebSocketHub) Close() error {
	h.mu.Lock()
	srv := h.server
	h.server = nil
	h.addr = ""
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (h *WebSocketHub) info(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	out := make([]Endpoint, 0, len(h.adverts))
	for id, p := range h.adverts {
		out = append(out, Endpoint{ID: id, Name: p.localName()})
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	body, err := json.Marshal(out)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (h *WebSocketHub) accept(w http.ResponseWriter, r *http.Request) {
	advert := mux.Vars(r)["advert"]
	h.mu.Lock()
	port, ok := h.adverts[advert]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if port.busy() {
		http.Error(w, "Conflict", http.StatusConflict)
		return
	}

	header := http.Header{}
	header.Set(deviceNameHeader, port.localName())
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		h.logger.Warnf(providers.TypeTransport, "Upgrade from %s failed: %s", r.RemoteAddr, err)
		return
	}
	port.attach(conn, r.RemoteAddr, r.Header.Get(deviceNameHeader))
}

// discover probes every configured peer's /info.
func (h *WebSocketHub) discover(ctx context.Context) []Endpoint {
	var out []Endpoint
	for _, addr := range h.peers {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/info", nil)
		if err != nil {
			continue
		}
		resp, err := h.client.Do(req)
		if err != nil {
			h.logger.Debugf(providers.TypeTransport, "Peer %s not reachable: %s", addr, err)
			continue
		}
		var found []Endpoint
		err = json.NewDecoder(resp.Body).Decode(&found)
		resp.Body.Close()
		if err != nil {
			continue
		}
		for _, ep := range found {
			out = append(out, Endpoint{ID: addr + "/" + ep.ID, Name: ep.Name})
		}
	}
	return out
}

type WebSocketPort struct {
	hub    *WebSocketHub
	states chan ConnectionState
	inbox  chan []byte
	done   chan struct{}

	mu       sync.Mutex
	writeMu  sync.Mutex
	advert   string
	name     string
	conn     *websocket.Conn
	endpoint string
	closed   bool
}

func (p *WebSocketPort) localName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *WebSocketPort) busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil || p.closed
}

func (p *WebSocketPort) Advertise(ctx context.Context, localName string) (<-chan ConnectionState, error) {
	if err := p.hub.ensureServer(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.name = localName
	p.advert = uuid.NewString()
	advert := p.advert
	p.mu.Unlock()

	p.hub.mu.Lock()
	p.hub.adverts[advert] = p
	p.hub.mu.Unlock()

	emit(p.states, Advertising())
	go func() {
		<-ctx.Done()
		p.stopAdvertising()
	}()
	return p.states, nil
}

func (p *WebSocketPort) stopAdvertising() {
	p.mu.Lock()
	advert := p.advert
	p.mu.Unlock()
	p.hub.mu.Lock()
	if p.hub.adverts[advert] == p {
		delete(p.hub.adverts, advert)
	}
	p.hub.mu.Unlock()
}

func (p *WebSocketPort) Discover(ctx context.Context, found func(Endpoint)) (<-chan ConnectionState, error) {
	for _, ep := range p.hub.discover(ctx) {
		found(ep)
	}
	return p.states, nil
}

// Connect dials an endpoint id of the form host:port/advert.
func (p *WebSocketPort) Connect(ctx context.Context, endpointID, localName string) (<-chan ConnectionState, error) {
	p.mu.Lock()
	p.name = localName
	p.mu.Unlock()

	u, err := url.Parse("ws://" + endpointID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad endpoint %q: %v", models.ErrTransport, endpointID, err)
	}
	u.Path = "/sync" + u.Path

	header := http.Header{}
	header.Set(deviceNameHeader, localName)
	conn, resp, err := p.hub.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		emit(p.states, Failure(fmt.Sprintf("connect %s: %s", endpointID, err)))
		return p.states, nil
	}
	remoteName := resp.Header.Get(deviceNameHeader)
	p.attach(conn, endpointID, remoteName)
	return p.states, nil
}

func (p *WebSocketPort) attach(conn *websocket.Conn, endpointID, endpointName string) {
	conn.SetReadLimit(p.hub.maxPayload)
	p.mu.Lock()
	if p.closed || p.conn != nil {
		p.mu.Unlock()
		p.hub.logger.Warnf(providers.TypeTransport, "Refusing second connection from %s", endpointID)
		_ = conn.Close()
		return
	}
	p.conn = conn
	p.endpoint = endpointID
	p.mu.Unlock()

	emit(p.states, Connected(endpointID, endpointName))
	go p.readLoop(conn)
}

func (p *WebSocketPort) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			current := p.conn == conn
			closed := p.closed
			if current {
				p.conn = nil
				p.endpoint = ""
			}
			p.mu.Unlock()
			_ = conn.Close()
			if current && !closed {
				emit(p.states, Disconnected(err.Error()))
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		// A full inbox stalls the reader, which pushes back on the sender.
		select {
		case p.inbox <- data:
		case <-p.done:
			_ = conn.Close()
			return
		}
	}
}

func (p *WebSocketPort) Send(ctx context.Context, endpointID string, payload []byte) error {
	p.mu.Lock()
	conn := p.conn
	current := p.endpoint
	p.mu.Unlock()
	if conn == nil || current != endpointID {
		return fmt.Errorf("%w: not connected to %s", models.ErrTransport, endpointID)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	return nil
}

func (p *WebSocketPort) Receive() <-chan []byte {
	return p.inbox
}

func (p *WebSocketPort) Disconnect() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	conn := p.conn
	p.conn = nil
	p.endpoint = ""
	p.mu.Unlock()

	p.stopAdvertising()
	if conn != nil {
		p.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		_ = conn.Close()
	}
}
