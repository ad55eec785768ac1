package relay

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
)

// Sender sends messages over a lazily created [Port], recreating it on the
// first send after a disconnect. Messages sent while no port can be created
// are dropped, never queued. Safe for concurrent use.
//
// Sender implements the emitter interfaces used by the interceptor
// packages.
type Sender struct {
	dialer Dialer
	name   string
	logger *logging.Logger

	mu      sync.Mutex
	current *senderPort
	closed  bool
}

type senderPort struct {
	port Port
	dead atomic.Bool
}

// NewSender creates a sender. No port is created until the first send.
//
// Panics if dialer is nil.
func NewSender(dialer Dialer, opts ...Option) (*Sender, error) {
	if dialer == nil {
		panic("relay: dialer must not be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Sender{
		dialer: dialer,
		name:   cfg.portName,
		logger: cfg.logger,
	}, nil
}

// Emit sends env as a [NetworkCallMessage], logging any failure.
func (s *Sender) Emit(env envelope.Envelope) {
	if err := s.Send(NetworkCallMessage(env)); err != nil {
		s.logger.Warning().
			Err(err).
			Str("method", env.Method).
			Log("relay: envelope dropped")
	}
}

// Send sends msg, creating the port (and sending [InitMessage]) if needed.
func (s *Sender) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.current == nil || s.current.dead.Load() {
		sp := &senderPort{}
		port, err := s.dialer.Connect(s.name, func() { sp.dead.Store(true) })
		if err != nil {
			s.current = nil
			return err
		}
		sp.port = port
		s.current = sp
		if err := port.PostMessage(InitMessage()); err != nil {
			return err
		}
		s.logger.Debug().Str("port", s.name).Log("relay: sender connected")
	}
	return s.current.port.PostMessage(msg)
}

// Close disconnects the current port. Subsequent sends fail with
// [ErrClosed].
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.current != nil {
		s.current.port.Disconnect()
		s.current = nil
	}
}
