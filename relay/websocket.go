package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
)

const (
	defaultQueueSize    = 256
	defaultWriteTimeout = 10 * time.Second
)

// WebsocketDialer connects ports to a remote sink over websocket, one
// connection per port. The port name is sent as the "name" query
// parameter.
//
// Connect does not block on the network: the connection is established in
// the background, and messages posted in the meantime are queued, up to
// QueueSize. A failed dial is reported via the disconnect callback, and the
// queued messages are discarded with the port.
type WebsocketDialer struct {
	// URL is the sink endpoint, with a ws or wss scheme.
	URL string
	// Header is sent with the handshake, e.g. for authorization.
	Header http.Header
	// Dialer defaults to [websocket.DefaultDialer].
	Dialer *websocket.Dialer
	// QueueSize bounds the messages buffered per port, default 256.
	QueueSize int
	// WriteTimeout bounds each write, default 10s.
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

// Connect implements [Dialer].
func (d *WebsocketDialer) Connect(name string, onDisconnect func()) (Port, error) {
	target, err := d.endpoint(name)
	if err != nil {
		return nil, err
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	queueSize := d.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &websocketPort{
		name:         name,
		queue:        make(chan []byte, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		onDisconnect: onDisconnect,
		writeTimeout: writeTimeout,
		logger:       d.Logger,
		done:         make(chan struct{}),
	}
	go p.run(dialer, target, d.Header.Clone())
	return p, nil
}

func (d *WebsocketDialer) endpoint(name string) (string, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return "", fmt.Errorf("relay: invalid sink url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("relay: sink url scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("relay: sink url must have a host")
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type websocketPort struct {
	name         string
	queue        chan []byte
	ctx          context.Context
	cancel       context.CancelFunc
	onDisconnect func()
	writeTimeout time.Duration
	logger       *logging.Logger
	done         chan struct{}

	local      atomic.Bool
	notifyOnce sync.Once
}

func (p *websocketPort) Name() string { return p.name }

func (p *websocketPort) PostMessage(msg any) error {
	if p.ctx.Err() != nil {
		return ErrPortClosed
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("relay: encode message: %w", err)
	}
	select {
	case <-p.ctx.Done():
		return ErrPortClosed
	case p.queue <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *websocketPort) Disconnect() {
	p.local.Store(true)
	p.cancel()
}

func (p *websocketPort) run(dialer *websocket.Dialer, target string, header http.Header) {
	defer close(p.done)

	conn, _, err := dialer.DialContext(p.ctx, target, header)
	if err != nil {
		if p.ctx.Err() == nil {
			p.logger.Warning().Err(err).Str("port", p.name).Log("relay: websocket dial failed")
		}
		p.fail()
		return
	}
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-p.ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(p.writeTimeout),
			)
			return

		case err := <-readErr:
			p.logger.Info().Err(err).Str("port", p.name).Log("relay: websocket closed by remote")
			p.fail()
			return

		case b := <-p.queue:
			_ = conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				p.logger.Warning().Err(err).Str("port", p.name).Log("relay: websocket write failed")
				p.fail()
				return
			}
		}
	}
}

func (p *websocketPort) fail() {
	p.cancel()
	if p.local.Load() || p.onDisconnect == nil {
		return
	}
	p.notifyOnce.Do(p.onDisconnect)
}
