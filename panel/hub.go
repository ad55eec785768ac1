package panel

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"github.com/joeycumines/grpcweb-devtools/relay"
)

const viewerWriteTimeout = 10 * time.Second

// ErrClosed is returned once the hub has been closed.
var ErrClosed = errors.New("panel: hub closed")

// Event is one call event received from a port.
type Event struct {
	// Port is the name the sending port connected with.
	Port     string            `json:"port"`
	Envelope envelope.Envelope `json:"envelope"`
}

// PortInfo describes a connected port.
type PortInfo struct {
	ID          uint64
	Name        string
	Remote      string
	Initialized bool
	Calls       int
	// Dropped counts the call events over the rate limit.
	Dropped   int
	Connected time.Time
}

// Hub is the inspection sink. Relay ports connect to it, either over
// websocket ([Hub.HandlePort]) or in-process ([Hub.Connect]), and every
// valid call event they send is fanned out to the websocket viewers and the
// Go subscribers. Nothing is stored.
type Hub struct {
	logger      *logging.Logger
	viewerToken string
	readLimit   int64
	limiter     *catrate.Limiter
	upgrader    websocket.Upgrader
	ids         atomic.Uint64

	mu      sync.RWMutex
	ports   map[uint64]*portConn
	viewers map[*viewerConn]struct{}
	subs    map[uint64]func(Event)
	closed  bool
}

type portConn struct {
	info PortInfo
	// close is called by Hub.Close.
	close func()
}

type viewerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *viewerConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(viewerWriteTimeout))
	return c.conn.WriteJSON(v)
}

// wireMessage is the decoded form of a [relay.Message].
type wireMessage struct {
	Action string          `json:"action"`
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data"`
}

// NewHub creates a hub.
func NewHub(opts ...Option) (*Hub, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Hub{
		logger:      cfg.logger,
		viewerToken: cfg.viewerToken,
		readLimit:   cfg.readLimit,
		limiter:     cfg.limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		ports:   make(map[uint64]*portConn),
		viewers: make(map[*viewerConn]struct{}),
		subs:    make(map[uint64]func(Event)),
	}, nil
}

// Subscribe registers fn to receive every event. fn may be called
// concurrently, for events from different ports. The returned function
// unsubscribes.
func (h *Hub) Subscribe(fn func(Event)) (unsubscribe func()) {
	if fn == nil {
		panic("panel: subscriber must not be nil")
	}
	id := h.ids.Add(1)
	h.mu.Lock()
	h.subs[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Ports returns the connected ports, ordered by connection.
func (h *Hub) Ports() []PortInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]PortInfo, 0, len(h.ports))
	for _, p := range h.ports {
		out = append(out, p.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HandlePort accepts a relay port over websocket. The port name is taken
// from the "name" query parameter.
func (h *Hub) HandlePort(w http.ResponseWriter, r *http.Request) {
	if h.isClosed() {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = relay.DefaultPortName
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warning().Err(err).Str("remote", r.RemoteAddr).Log("panel: port upgrade failed")
		return
	}
	conn.SetReadLimit(h.readLimit)

	pc, err := h.register(name, r.RemoteAddr, func() { _ = conn.Close() })
	if err != nil {
		_ = conn.Close()
		return
	}
	defer func() {
		h.unregister(pc)
		_ = conn.Close()
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug().Err(err).Str("port", name).Log("panel: port read ended")
			return
		}
		h.receive(pc, b)
	}
}

// HandleViewer accepts a websocket viewer, which is sent every [Event] as a
// JSON text message. If a viewer token is configured, the request must carry
// it as a bearer token.
func (h *Hub) HandleViewer(w http.ResponseWriter, r *http.Request) {
	if h.viewerToken != "" && r.Header.Get("Authorization") != "Bearer "+h.viewerToken {
		h.logger.Warning().Str("remote", r.RemoteAddr).Log("panel: viewer unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if h.isClosed() {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warning().Err(err).Str("remote", r.RemoteAddr).Log("panel: viewer upgrade failed")
		return
	}
	viewer := &viewerConn{conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.viewers[viewer] = struct{}{}
	count := len(h.viewers)
	h.mu.Unlock()

	h.logger.Info().
		Str("remote", r.RemoteAddr).
		Int("active_viewers", count).
		Log("panel: viewer connected")

	defer func() {
		h.mu.Lock()
		delete(h.viewers, viewer)
		count := len(h.viewers)
		h.mu.Unlock()
		_ = conn.Close()
		h.logger.Info().Int("active_viewers", count).Log("panel: viewer disconnected")
	}()

	// viewers only listen; reading services control frames
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// HandleHealth reports liveness.
func (h *Hub) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	if h.isClosed() {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Connect implements [relay.Dialer], creating an in-process port. Messages
// posted to it are JSON encoded, then handled synchronously. onDisconnect is
// called if the hub closes.
func (h *Hub) Connect(name string, onDisconnect func()) (relay.Port, error) {
	p := &localPort{hub: h, name: name}
	pc, err := h.register(name, "local", func() {
		if p.dead.CompareAndSwap(false, true) && onDisconnect != nil {
			go onDisconnect()
		}
	})
	if err != nil {
		return nil, err
	}
	p.conn = pc
	return p, nil
}

// Close disconnects every port and viewer. Subsequent connections are
// refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	ports := make([]*portConn, 0, len(h.ports))
	for _, p := range h.ports {
		ports = append(ports, p)
	}
	h.ports = make(map[uint64]*portConn)
	viewers := h.viewers
	h.viewers = make(map[*viewerConn]struct{})
	h.mu.Unlock()

	for _, p := range ports {
		p.close()
	}
	for v := range viewers {
		_ = v.conn.Close()
	}
	h.logger.Info().Int("ports", len(ports)).Int("viewers", len(viewers)).Log("panel: hub closed")
	return nil
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Hub) register(name, remote string, closeFn func()) (*portConn, error) {
	pc := &portConn{
		info: PortInfo{
			ID:        h.ids.Add(1),
			Name:      name,
			Remote:    remote,
			Connected: time.Now(),
		},
		close: closeFn,
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.ports[pc.info.ID] = pc
	count := len(h.ports)
	h.mu.Unlock()

	h.logger.Info().
		Str("port", name).
		Str("remote", remote).
		Int("active_ports", count).
		Log("panel: port connected")
	return pc, nil
}

func (h *Hub) unregister(pc *portConn) {
	h.mu.Lock()
	_, ok := h.ports[pc.info.ID]
	delete(h.ports, pc.info.ID)
	count := len(h.ports)
	h.mu.Unlock()
	if ok {
		h.logger.Info().
			Str("port", pc.info.Name).
			Int("active_ports", count).
			Log("panel: port disconnected")
	}
}

// receive handles one raw message from a port. Invalid messages are logged
// and dropped.
func (h *Hub) receive(pc *portConn, b []byte) {
	env, ok, err := h.decode(pc, b)
	if err != nil {
		h.logger.Warning().Err(err).Str("port", pc.info.Name).Log("panel: message dropped")
		return
	}
	if !ok {
		return
	}
	if h.limiter != nil {
		if next, allowed := h.limiter.Allow(pc.info.ID); !allowed {
			h.mu.Lock()
			if p, ok := h.ports[pc.info.ID]; ok {
				p.info.Dropped++
			}
			h.mu.Unlock()
			h.logger.Warning().
				Str("port", pc.info.Name).
				Str("method", env.Method).
				Dur("retry_in", time.Until(next)).
				Log("panel: rate limited, event dropped")
			return
		}
	}
	h.publish(Event{Port: pc.info.Name, Envelope: env})
}

func (h *Hub) decode(pc *portConn, b []byte) (envelope.Envelope, bool, error) {
	var msg wireMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return envelope.Envelope{}, false, fmt.Errorf("panel: invalid message: %w", err)
	}
	switch msg.Action {
	case relay.ActionInit:
		h.mu.Lock()
		if p, ok := h.ports[pc.info.ID]; ok {
			p.info.Initialized = true
		}
		h.mu.Unlock()
		return envelope.Envelope{}, false, nil

	case relay.ActionNetworkCall:
		if msg.Target != relay.TargetPanel {
			return envelope.Envelope{}, false, fmt.Errorf("panel: unexpected target %q", msg.Target)
		}
		env, err := envelope.Decode(msg.Data)
		if err != nil {
			return envelope.Envelope{}, false, err
		}
		if err := env.Validate(); err != nil {
			return envelope.Envelope{}, false, err
		}
		h.mu.Lock()
		if p, ok := h.ports[pc.info.ID]; ok {
			p.info.Calls++
		}
		h.mu.Unlock()
		return env, true, nil

	default:
		return envelope.Envelope{}, false, fmt.Errorf("panel: unknown action %q", msg.Action)
	}
}

func (h *Hub) publish(ev Event) {
	h.mu.RLock()
	subs := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	viewers := make([]*viewerConn, 0, len(h.viewers))
	for v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.mu.RUnlock()

	h.logger.Debug().
		Str("port", ev.Port).
		Str("method", ev.Envelope.Method).
		Str("method_type", ev.Envelope.MethodType.String()).
		Int("viewers", len(viewers)).
		Log("panel: event")

	for _, fn := range subs {
		h.notify(fn, ev)
	}
	for _, v := range viewers {
		if err := v.WriteJSON(ev); err != nil {
			h.logger.Warning().Err(err).Log("panel: write to viewer failed")
		}
	}
}

func (h *Hub) notify(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Err().Str("panic", fmt.Sprint(r)).Log("panel: subscriber panicked")
		}
	}()
	fn(ev)
}

// localPort is an in-process [relay.Port].
type localPort struct {
	hub  *Hub
	name string
	conn *portConn
	dead atomic.Bool
}

func (p *localPort) Name() string { return p.name }

func (p *localPort) PostMessage(msg any) error {
	if p.dead.Load() {
		return relay.ErrPortClosed
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("panel: encode message: %w", err)
	}
	p.hub.receive(p.conn, b)
	return nil
}

func (p *localPort) Disconnect() {
	if p.dead.CompareAndSwap(false, true) {
		p.hub.unregister(p.conn)
	}
}
