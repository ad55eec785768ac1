package page

import (
	"context"
	"errors"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
)

// Page is a single page realm. See the package documentation.
type Page struct {
	runtime  *goja.Runtime
	loop     *eventloop.Loop
	window   *Window
	document *Document
	timers   *timers
	logger   *logging.Logger
}

// New creates a page realm with a fresh runtime, and binds the window,
// location, document and timer globals. The loop must be running (or about to be
// run) for message delivery to happen.
//
// New must not be called concurrently with tasks already running on the
// loop that touch the returned page.
//
// Panics if loop is nil.
func New(loop *eventloop.Loop, opts ...Option) (*Page, error) {
	if loop == nil {
		panic("page: loop must not be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	p := &Page{
		runtime: goja.New(),
		loop:    loop,
		logger:  cfg.logger,
	}
	p.window = newWindow(p, cfg.origin)
	p.document = newDocument(p)
	if p.timers, err = newTimers(p, loop); err != nil {
		return nil, err
	}

	if cfg.console {
		registry := require.NewRegistry()
		registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(&logPrinter{logger: cfg.logger}))
		registry.Enable(p.runtime)
		console.Enable(p.runtime)
	}

	if err := p.bind(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) bind() error {
	global := p.runtime.GlobalObject()
	for name, value := range map[string]any{
		"window":     global,
		"self":       global,
		"globalThis": global,
	} {
		if err := global.Set(name, value); err != nil {
			return err
		}
	}
	if err := p.window.bind(global); err != nil {
		return err
	}
	if err := p.timers.bind(global); err != nil {
		return err
	}
	return p.document.bind(global)
}

// Runtime returns the page's JavaScript runtime. It must only be used on the
// loop goroutine.
func (p *Page) Runtime() *goja.Runtime { return p.runtime }

// Window returns the page's window.
func (p *Page) Window() *Window { return p.window }

// Document returns the page's document.
func (p *Page) Document() *Document { return p.document }

// Logger returns the configured logger, which may be nil.
func (p *Page) Logger() *logging.Logger { return p.logger }

// Submit schedules fn on the loop goroutine.
func (p *Page) Submit(fn func()) error {
	return p.loop.Submit(fn)
}

// errPanicked wraps a panic recovered while running a [Page.Do] task.
var errPanicked = errors.New("page: task panicked")

// Do runs fn on the loop goroutine and waits for it to return, or for ctx
// to be done. Do must not be called from the loop goroutine.
func (p *Page) Do(ctx context.Context, fn func(*Page) error) error {
	done := make(chan error, 1)
	if err := p.loop.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				if ex, ok := r.(*goja.Exception); ok {
					done <- ex
					return
				}
				done <- errPanicked
			}
		}()
		done <- fn(p)
	}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunString compiles and runs src as a classic script, returning its
// completion value. It must be called on the loop goroutine.
func (p *Page) RunString(name, src string) (goja.Value, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, err
	}
	return p.runtime.RunProgram(prog)
}

// logPrinter routes console output to the page logger.
type logPrinter struct {
	logger *logging.Logger
}

func (x *logPrinter) Log(s string) {
	x.logger.Info().Str("source", "console").Log(s)
}

func (x *logPrinter) Warn(s string) {
	x.logger.Warning().Str("source", "console").Log(s)
}

func (x *logPrinter) Error(s string) {
	x.logger.Err().Str("source", "console").Log(s)
}
