package relay

import (
	"errors"
)

const (
	// ActionInit is sent once per connection, before anything else.
	ActionInit = "init"
	// ActionNetworkCall carries one envelope.
	ActionNetworkCall = "gRPCNetworkCall"
	// TargetPanel addresses the inspection panel.
	TargetPanel = "panel"
	// DefaultPortName is the name the connection is registered under, so
	// the sink can route it.
	DefaultPortName = "content"
)

var (
	ErrPortClosed = errors.New("relay: port disconnected")
	ErrQueueFull  = errors.New("relay: port queue full")
	ErrClosed     = errors.New("relay: closed")
)

// Message is the addressed payload sent over a [Port].
type Message struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// InitMessage returns the connection initialization message.
func InitMessage() Message {
	return Message{Action: ActionInit}
}

// NetworkCallMessage returns the message relaying data, normally a plain
// data envelope, to the panel.
func NetworkCallMessage(data any) Message {
	return Message{Action: ActionNetworkCall, Target: TargetPanel, Data: data}
}

// Port is one end of a named, long-lived connection toward the inspection
// sink.
type Port interface {
	// Name returns the name the port was connected with.
	Name() string
	// PostMessage sends msg, which must be JSON serializable. It does not
	// block on the network.
	PostMessage(msg any) error
	// Disconnect closes the port. It does not trigger the port's own
	// disconnect callback.
	Disconnect()
}

// Dialer creates ports.
type Dialer interface {
	// Connect creates a port named name. onDisconnect is called at most
	// once, from any goroutine, when the remote side goes away or the
	// connection fails.
	Connect(name string, onDisconnect func()) (Port, error)
}

// DialerFunc adapts a function to a [Dialer].
type DialerFunc func(name string, onDisconnect func()) (Port, error)

func (f DialerFunc) Connect(name string, onDisconnect func()) (Port, error) {
	return f(name, onDisconnect)
}
