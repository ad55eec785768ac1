// Package bridge installs the interceptor factory into a page realm, and
// broadcasts the resulting envelopes out of it.
//
// [Install] inserts a one-shot bootstrap script into the document, which
// defines a zero-argument global factory (by default
// window.__GRPCWEB_DEVTOOLS__). Each call of the factory returns a fresh
// interceptor set (see [interceptor.Set.Object]), to be registered with the
// page's own gRPC-Web client:
//
//	const {unaryInterceptor, streamInterceptor} = window.__GRPCWEB_DEVTOOLS__();
//
// Every envelope is posted to the window as a flat, plain data message
// carrying the [envelope.SourceTag], via a [BroadcastEmitter].
package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/interceptor"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"github.com/joeycumines/grpcweb-devtools/page"
)

var handleSeq atomic.Uint64

// BroadcastEmitter is an [interceptor.Emitter] that posts every envelope to
// a window.
type BroadcastEmitter struct {
	Window *page.Window
	// TargetOrigin is passed to [page.Window.PostMessage], "*" if empty.
	TargetOrigin string
	Logger       *logging.Logger
}

// Emit posts env to the window. Failures are logged.
func (x *BroadcastEmitter) Emit(env envelope.Envelope) {
	targetOrigin := x.TargetOrigin
	if targetOrigin == "" {
		targetOrigin = "*"
	}
	if err := x.Window.PostMessage(env, targetOrigin); err != nil {
		x.Logger.Err().
			Err(err).
			Str("method", env.Method).
			Log("bridge: broadcast failed")
	}
}

// Install defines the global interceptor factory in the page, replacing any
// factory previously installed under the same name. It must be called on
// the page's loop goroutine.
func Install(p *page.Page, opts ...Option) error {
	if p == nil {
		panic("bridge: page must not be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return err
	}

	rt := p.Runtime()
	emitter := &BroadcastEmitter{
		Window:       p.Window(),
		TargetOrigin: cfg.targetOrigin,
		Logger:       cfg.logger,
	}
	interceptorOpts := append([]interceptor.Option{interceptor.WithLogger(cfg.logger)}, cfg.interceptorOpts...)

	handleKey := fmt.Sprintf("__grpcweb_devtools_handle_%d__", handleSeq.Add(1))
	create := func(goja.FunctionCall) goja.Value {
		set, err := interceptor.New(rt, emitter, interceptorOpts...)
		if err != nil {
			panic(rt.NewGoError(err))
		}
		return set.Object()
	}

	src, err := renderBootstrap(bootstrapData{
		HandleKey:  handleKey,
		GlobalName: cfg.globalName,
		Source:     envelope.SourceTag,
	})
	if err != nil {
		return fmt.Errorf("bridge: render bootstrap: %w", err)
	}

	global := rt.GlobalObject()
	if err := global.Set(handleKey, create); err != nil {
		return err
	}
	// the bootstrap deletes the handle itself, this covers a failed run
	defer func() { _ = global.Delete(handleKey) }()

	doc := p.Document()
	script := doc.CreateScript("grpcweb-devtools-bootstrap.js", src)
	runErr := doc.AppendChild(script)
	if err := doc.RemoveChild(script); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return fmt.Errorf("bridge: bootstrap failed: %w", runErr)
	}

	cfg.logger.Debug().
		Str("global", cfg.globalName).
		Str("origin", p.Window().Origin()).
		Log("bridge: installed")
	return nil
}
