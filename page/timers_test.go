package page

import (
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withReport binds report(value), returning the channel it sends to.
func withReport(t *testing.T, p *Page) <-chan any {
	t.Helper()
	ch := make(chan any, 1)
	do(t, p, func(p *Page) error {
		return p.Runtime().Set("report", func(call goja.FunctionCall) goja.Value {
			ch <- Export(p.Runtime(), call.Argument(0))
			return goja.Undefined()
		})
	})
	return ch
}

func waitReport(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for report()")
		return nil
	}
}

func TestTimers_Globals(t *testing.T) {
	p := newTestPage(t)
	out := runJS(t, p, `[setTimeout, clearTimeout, setInterval, clearInterval, queueMicrotask].map(v => typeof v)`)
	assert.Equal(t, []any{"function", "function", "function", "function", "function"}, out)
}

func TestTimers_Ordering(t *testing.T) {
	p := newTestPage(t)
	ch := withReport(t, p)

	runJS(t, p, `
		const log = [];
		const cleared = setTimeout(() => log.push("cleared"), 0);
		clearTimeout(cleared);
		setTimeout((a, b) => log.push("timeout:" + a + b), 0, "x", "y");
		queueMicrotask(() => log.push("micro"));
		let ticks = 0;
		const id = setInterval(() => {
			ticks++;
			if (ticks === 3) {
				clearInterval(id);
				setTimeout(() => report({log, ticks}), 20);
			}
		}, 1);
		log.push("sync");
	`)

	assert.Equal(t, map[string]any{
		"log":   []any{"sync", "micro", "timeout:xy"},
		"ticks": float64(3),
	}, waitReport(t, ch))
}

func TestTimers_PromiseResolvedFromTimeout(t *testing.T) {
	p := newTestPage(t)
	ch := withReport(t, p)

	runJS(t, p, `
		new Promise(resolve => setTimeout(() => resolve("later"), 5))
			.then(v => report(v));
	`)

	assert.Equal(t, "later", waitReport(t, ch))
}

func TestTimers_InvalidCallback(t *testing.T) {
	p := newTestPage(t)
	out := runJS(t, p, `
		const errs = [];
		for (const f of [() => setTimeout("code"), () => setInterval(null, 1), () => queueMicrotask()]) {
			try { f(); } catch (e) { errs.push(e instanceof TypeError); }
		}
		errs
	`)
	assert.Equal(t, []any{true, true, true}, out)
}

func TestTimers_ThrowingCallbackIsLogged(t *testing.T) {
	var buf syncBuffer
	p := newTestPage(t, WithLogger(logging.New(&buf, logiface.LevelDebug)))
	ch := withReport(t, p)

	runJS(t, p, `
		setTimeout(() => { throw new Error("tick failed"); }, 0);
		setTimeout(() => report("still running"), 5);
	`)

	assert.Equal(t, "still running", waitReport(t, ch))
	require.Contains(t, buf.String(), "page: timer callback threw")
	assert.Contains(t, buf.String(), "tick failed")
}
