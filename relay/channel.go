package relay

import (
	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"github.com/joeycumines/grpcweb-devtools/page"
)

// Loop serialises work onto the goroutine owning the window.
type Loop interface {
	Submit(fn func()) error
}

// Channel relays the envelopes broadcast on a window to the inspection
// sink, over a single lazily created [Port].
//
// Only messages posted by the window itself, with the window's origin and
// the [envelope.SourceTag], qualify. The first qualifying message creates
// the port, and sends [InitMessage]; every qualifying message is then sent
// as a [NetworkCallMessage].
//
// When the port disconnects, the channel clears it and stops listening:
// nothing more is relayed until [Channel.Listen] is called again.
//
// All channel state is owned by the loop goroutine.
type Channel struct {
	window *page.Window
	loop   Loop
	dialer Dialer
	name   string
	logger *logging.Logger

	port      Port
	portGen   uint64
	listener  page.ListenerID
	listening bool
}

// NewChannel creates a channel for window. It does not listen until
// [Channel.Listen] is called.
//
// Panics if window, loop or dialer is nil.
func NewChannel(window *page.Window, loop Loop, dialer Dialer, opts ...Option) (*Channel, error) {
	if window == nil || loop == nil || dialer == nil {
		panic("relay: window, loop and dialer must not be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Channel{
		window: window,
		loop:   loop,
		dialer: dialer,
		name:   cfg.portName,
		logger: cfg.logger,
	}, nil
}

// Listen (re)attaches the window message listener, on the loop. Listening
// twice has no effect. Messages posted after Listen returns are observed.
func (c *Channel) Listen() error {
	return c.loop.Submit(c.attach)
}

// Close stops listening and disconnects the port, on the loop.
func (c *Channel) Close() error {
	return c.loop.Submit(func() {
		c.detach()
		if c.port != nil {
			c.port.Disconnect()
			c.port = nil
		}
	})
}

// Listening reports whether the listener is attached. Loop goroutine only.
func (c *Channel) Listening() bool { return c.listening }

// Connected reports whether the port exists. Loop goroutine only.
func (c *Channel) Connected() bool { return c.port != nil }

func (c *Channel) attach() {
	if c.listening {
		return
	}
	c.listener = c.window.AddMessageListener(c.handleMessage)
	c.listening = true
	c.logger.Debug().Str("port", c.name).Log("relay: listening")
}

func (c *Channel) detach() {
	if !c.listening {
		return
	}
	c.window.RemoveMessageListener(c.listener)
	c.listening = false
}

func (c *Channel) handleMessage(ev *page.MessageEvent) {
	// a listener removed during dispatch may still be called once
	if !c.listening {
		return
	}
	if ev.Source != c.window || ev.Origin != c.window.Origin() {
		return
	}
	data, ok := ev.Data.(map[string]any)
	if !ok || data["source"] != envelope.SourceTag {
		return
	}
	c.send(data)
}

func (c *Channel) send(data map[string]any) {
	if c.port == nil && !c.connect() {
		return
	}
	if err := c.port.PostMessage(NetworkCallMessage(data)); err != nil {
		c.logger.Warning().
			Err(err).
			Str("port", c.name).
			Log("relay: envelope dropped")
	}
}

func (c *Channel) connect() bool {
	c.portGen++
	gen := c.portGen
	port, err := c.dialer.Connect(c.name, func() {
		if err := c.loop.Submit(func() { c.handleDisconnect(gen) }); err != nil {
			c.logger.Debug().Err(err).Log("relay: disconnect after loop stopped")
		}
	})
	if err != nil {
		c.logger.Warning().
			Err(err).
			Str("port", c.name).
			Log("relay: connect failed, envelope dropped")
		return false
	}
	c.port = port
	if err := port.PostMessage(InitMessage()); err != nil {
		c.logger.Warning().Err(err).Str("port", c.name).Log("relay: init failed")
	}
	c.logger.Info().Str("port", c.name).Log("relay: connected")
	return true
}

func (c *Channel) handleDisconnect(gen uint64) {
	if gen != c.portGen || c.port == nil {
		return
	}
	c.port = nil
	c.detach()
	c.logger.Info().Str("port", c.name).Log("relay: disconnected, listener detached")
}
