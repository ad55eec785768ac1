package interceptor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dop251/goja"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/page"
	"github.com/stretchr/testify/require"
)

// recorder is an [Emitter] that keeps every envelope.
type recorder struct {
	mu   sync.Mutex
	envs []envelope.Envelope
}

func (r *recorder) Emit(env envelope.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *recorder) Envelopes() []envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]envelope.Envelope(nil), r.envs...)
}

// testEnv is a running page realm with an interceptor set bound to the
// global "interceptors".
//
// JavaScript helpers:
//
//	__done()          signals completion to runOnLoop
//	makeSubject()     a push stream with subscribe(observer)
//	makeEmitter()     an event emitter stream with on/removeListener/cancel
//	makeRequest(n, m) a grpc-web like request with a method descriptor
type testEnv struct {
	page *page.Page
	rec  *recorder
	set  *Set
	done chan struct{}
}

const jsHelpers = `
function makeSubject() {
	const subject = {
		observers: [],
		subscribe(observer) { this.observers.push(observer); return {unsubscribe() {}}; },
		next(v) { for (const o of this.observers) o.next(v); },
		error(e) { for (const o of this.observers) o.error(e); },
		complete() { for (const o of this.observers) o.complete(); },
	};
	return subject;
}

function makeEmitter() {
	return {
		listeners: {},
		cancelled: false,
		on(type, cb) { (this.listeners[type] = this.listeners[type] || []).push(cb); return this; },
		removeListener(type, cb) {
			const list = this.listeners[type] || [];
			const i = list.indexOf(cb);
			if (i >= 0) list.splice(i, 1);
		},
		cancel() { this.cancelled = true; },
		emit(type, v) { for (const cb of (this.listeners[type] || []).slice()) cb(v); },
		count(type) { return (this.listeners[type] || []).length; },
		describe() { return "underlying"; },
	};
}

function makeRequest(name, message) {
	return {
		getMethodDescriptor() { return {getName() { return name; }}; },
		getRequestMessage() { return message; },
	};
}
`

func newTestEnv(t *testing.T, emitter Emitter, opts ...Option) *testEnv {
	t.Helper()

	loop, err := eventloop.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-loopDone
	})

	p, err := page.New(loop)
	require.NoError(t, err)

	rec := &recorder{}
	if emitter == nil {
		emitter = rec
	}
	env := &testEnv{page: p, rec: rec, done: make(chan struct{}, 1)}

	require.NoError(t, env.do(func(rt *goja.Runtime) error {
		set, err := New(rt, emitter, opts...)
		if err != nil {
			return err
		}
		env.set = set
		if err := rt.Set("interceptors", set.Object()); err != nil {
			return err
		}
		if err := rt.Set("__done", func(goja.FunctionCall) goja.Value {
			select {
			case env.done <- struct{}{}:
			default:
			}
			return goja.Undefined()
		}); err != nil {
			return err
		}
		_, err = rt.RunString(jsHelpers)
		return err
	}))
	return env
}

func (e *testEnv) do(fn func(rt *goja.Runtime) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.page.Do(ctx, func(p *page.Page) error { return fn(p.Runtime()) })
}

// run evaluates code on the loop, returning its exported completion value.
func (e *testEnv) run(t *testing.T, code string) any {
	t.Helper()
	var out any
	require.NoError(t, e.do(func(rt *goja.Runtime) error {
		v, err := rt.RunString(code)
		if err != nil {
			return err
		}
		out = page.Export(rt, v)
		return nil
	}))
	return out
}

// runOnLoop evaluates code on the loop, then waits for it to call __done().
func (e *testEnv) runOnLoop(t *testing.T, code string) {
	t.Helper()
	e.run(t, code)
	select {
	case <-e.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for __done()")
	}
}
