package bridge

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/interceptor"
	"github.com/joeycumines/grpcweb-devtools/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPage(t *testing.T, opts ...page.Option) *page.Page {
	t.Helper()
	loop, err := eventloop.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	p, err := page.New(loop, opts...)
	require.NoError(t, err)
	return p
}

func do(t *testing.T, p *page.Page, fn func(*page.Page) error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Do(ctx, fn))
}

func install(t *testing.T, p *page.Page, opts ...Option) {
	t.Helper()
	do(t, p, func(p *page.Page) error { return Install(p, opts...) })
}

func runJS(t *testing.T, p *page.Page, src string) any {
	t.Helper()
	var out any
	do(t, p, func(p *page.Page) error {
		v, err := p.RunString("test.js", src)
		if err != nil {
			return err
		}
		out = page.Export(p.Runtime(), v)
		return nil
	})
	return out
}

func listen(t *testing.T, p *page.Page) <-chan *page.MessageEvent {
	t.Helper()
	ch := make(chan *page.MessageEvent, 16)
	p.Window().AddMessageListener(func(ev *page.MessageEvent) { ch <- ev })
	return ch
}

func receive(t *testing.T, ch <-chan *page.MessageEvent) *page.MessageEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func TestInstall_DefinesFactoryAndCleansUp(t *testing.T) {
	p := newTestPage(t)
	install(t, p)

	out := runJS(t, p, `
		const a = __GRPCWEB_DEVTOOLS__();
		const b = window.__GRPCWEB_DEVTOOLS__();
		({
			arity: __GRPCWEB_DEVTOOLS__.length,
			source: __GRPCWEB_DEVTOOLS__.source,
			fresh: a !== b && a.unaryInterceptor !== b.unaryInterceptor,
			keys: Object.keys(a).sort(),
			handles: Object.getOwnPropertyNames(globalThis).filter(k => k.startsWith("__grpcweb_devtools_handle")),
		})
	`)

	assert.Equal(t, map[string]any{
		"arity":  float64(0),
		"source": envelope.SourceTag,
		"fresh":  true,
		"keys": []any{
			"devToolsStreamInterceptor",
			"devToolsUnaryInterceptor",
			"grpcWebStreamInterceptor",
			"grpcWebUnaryInterceptor",
			"streamInterceptor",
			"unaryInterceptor",
		},
		"handles": []any{},
	}, out)

	do(t, p, func(p *page.Page) error {
		assert.Empty(t, p.Document().Scripts())
		return nil
	})
}

func TestInstall_BroadcastsEnvelopes(t *testing.T) {
	p := newTestPage(t, page.WithOrigin("https://app.example"))
	messages := listen(t, p)
	install(t, p)

	runJS(t, p, `
		const {unaryInterceptor} = __GRPCWEB_DEVTOOLS__();
		unaryInterceptor.intercept({id: 1}, () => Promise.resolve({ok: true}), "https://gw", "svc.S", "Get");
	`)

	ev := receive(t, messages)
	assert.Equal(t, "https://app.example", ev.Origin)
	assert.Same(t, p.Window(), ev.Source)

	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, envelope.SourceTag, data["source"])

	env, err := envelope.FromPlain(data)
	require.NoError(t, err)
	require.NoError(t, env.Validate())
	assert.Equal(t, envelope.Normalize(envelope.Unary, "https://gw/svc.S/Get",
		map[string]any{"id": float64(1)}, map[string]any{"ok": true}, nil), env)
}

func TestInstall_BroadcastsStreamEventsInOrder(t *testing.T) {
	p := newTestPage(t)
	messages := listen(t, p)
	install(t, p)

	runJS(t, p, `
		const listeners = {};
		const stream = {
			on(type, cb) { listeners[type] = cb; return this; },
		};
		__GRPCWEB_DEVTOOLS__().grpcWebStreamInterceptor
			.intercept({getMethodDescriptor() { return {name: "/svc.Feed/Watch"}; }, getRequestMessage() { return {q: 1}; }}, () => stream)
			.on("data", () => {})
			.on("status", () => {});
		setTimeout(() => {
			listeners.data({n: 1});
			setTimeout(() => listeners.status({code: 0, details: ""}), 5);
		}, 5);
	`)

	var responses []any
	for range 3 {
		env, err := envelope.FromPlain(receive(t, messages).Data)
		require.NoError(t, err)
		assert.Equal(t, "/svc.Feed/Watch", env.Method)
		assert.Equal(t, envelope.ServerStreaming, env.MethodType)
		responses = append(responses, env.Response)
	}
	assert.Equal(t, []any{nil, map[string]any{"n": float64(1)}, envelope.EndOfStream}, responses)
}

func TestInstall_TargetOriginMismatchDrops(t *testing.T) {
	p := newTestPage(t, page.WithOrigin("https://app.example"))
	messages := listen(t, p)
	install(t, p, WithTargetOrigin("https://other.example"))

	runJS(t, p, `
		__GRPCWEB_DEVTOOLS__().unaryInterceptor.intercept({}, () => 1, "svc", "M");
		postMessage("marker", "*");
	`)

	assert.Equal(t, "marker", receive(t, messages).Data)
	assert.Empty(t, messages)
}

func TestInstall_ReinstallReplaces(t *testing.T) {
	p := newTestPage(t)
	install(t, p)
	runJS(t, p, `globalThis.first = __GRPCWEB_DEVTOOLS__`)
	install(t, p, WithInterceptorOptions(interceptor.WithStreamDetach(true)))

	out := runJS(t, p, `
		const underlying = {cancelled: false, on() { return this; }, cancel() { this.cancelled = true; }};
		__GRPCWEB_DEVTOOLS__().grpcWebStreamInterceptor.intercept({}, () => underlying).cancel();
		[first !== __GRPCWEB_DEVTOOLS__, underlying.cancelled]
	`)
	assert.Equal(t, []any{true, true}, out)
}

func TestInstall_CustomGlobalName(t *testing.T) {
	p := newTestPage(t)
	install(t, p, WithGlobalName("devtools"))

	out := runJS(t, p, `[typeof devtools, typeof globalThis.__GRPCWEB_DEVTOOLS__]`)
	assert.Equal(t, []any{"function", "undefined"}, out)
}

func TestInstall_InvalidOptions(t *testing.T) {
	p := newTestPage(t)
	do(t, p, func(p *page.Page) error {
		assert.ErrorContains(t, Install(p, WithGlobalName("not valid")), "bridge: global name")
		assert.ErrorContains(t, Install(p, WithTargetOrigin("")), "bridge: target origin")
		return nil
	})
}

func TestInstall_BootstrapFailure(t *testing.T) {
	p := newTestPage(t)
	do(t, p, func(p *page.Page) error {
		// a non-configurable global cannot be redefined
		if _, err := p.RunString("freeze.js", `Object.defineProperty(globalThis, "taken", {value: 1, configurable: false})`); err != nil {
			return err
		}
		err := Install(p, WithGlobalName("taken"))
		var ex *goja.Exception
		assert.ErrorAs(t, err, &ex)
		assert.Empty(t, p.Document().Scripts())
		for _, k := range p.Runtime().GlobalObject().Keys() {
			assert.False(t, strings.HasPrefix(k, "__grpcweb_devtools_handle"), k)
		}
		return nil
	})
}

func TestRenderBootstrap_EscapesConstants(t *testing.T) {
	src, err := renderBootstrap(bootstrapData{HandleKey: `a"b`, GlobalName: "g", Source: "s</script>"})
	require.NoError(t, err)
	assert.NotContains(t, src, `a"b`)
	assert.NotContains(t, src, "</script>")
	_, err = goja.Compile("bootstrap.js", src, false)
	assert.NoError(t, err)
}
