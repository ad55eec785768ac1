package page

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect registers a Go message listener that forwards events to a channel.
func collect(t *testing.T, w *Window) (<-chan *MessageEvent, ListenerID) {
	t.Helper()
	ch := make(chan *MessageEvent, 16)
	id := w.AddMessageListener(func(ev *MessageEvent) { ch <- ev })
	return ch, id
}

func receive(t *testing.T, ch <-chan *MessageEvent) *MessageEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestWindow_PostMessageClonesAndDeliversAsync(t *testing.T) {
	p := newTestPage(t)
	w := p.Window()
	ch, _ := collect(t, w)

	msg := map[string]any{"n": 1, "list": []string{"a"}}
	var deliveredDuringPost bool
	do(t, p, func(*Page) error {
		if err := w.PostMessage(msg, "*"); err != nil {
			return err
		}
		deliveredDuringPost = len(ch) != 0
		return nil
	})
	assert.False(t, deliveredDuringPost)
	msg["n"] = 2

	ev := receive(t, ch)
	assert.Equal(t, map[string]any{"n": float64(1), "list": []any{"a"}}, ev.Data)
	assert.Equal(t, w.Origin(), ev.Origin)
	assert.Same(t, w, ev.Source)
}

func TestWindow_PostMessageTargetOrigin(t *testing.T) {
	p := newTestPage(t, WithOrigin("https://a.example"))
	w := p.Window()
	ch, _ := collect(t, w)

	require.NoError(t, w.PostMessage("dropped", "https://b.example"))
	require.NoError(t, w.PostMessage("kept", "https://a.example"))

	assert.Equal(t, "kept", receive(t, ch).Data)
	assert.Empty(t, ch)
}

func TestWindow_PostMessageNotCloneable(t *testing.T) {
	p := newTestPage(t)
	err := p.Window().PostMessage(map[string]any{"fn": func() {}}, "*")
	assert.ErrorIs(t, err, ErrDataClone)
}

func TestWindow_RemoveMessageListener(t *testing.T) {
	p := newTestPage(t)
	w := p.Window()
	ch, id := collect(t, w)
	other, _ := collect(t, w)
	assert.Equal(t, 2, w.ListenerCount())

	assert.True(t, w.RemoveMessageListener(id))
	assert.False(t, w.RemoveMessageListener(id))
	assert.Equal(t, 1, w.ListenerCount())

	require.NoError(t, w.PostMessage("x", "*"))
	receive(t, other)
	assert.Empty(t, ch)
}

func TestWindow_ListenerPanicIsContained(t *testing.T) {
	p := newTestPage(t)
	w := p.Window()
	w.AddMessageListener(func(*MessageEvent) { panic("listener failure") })
	ch, _ := collect(t, w)

	require.NoError(t, w.PostMessage("x", "*"))
	assert.Equal(t, "x", receive(t, ch).Data)
}

func TestWindow_DeliverMessageFromElsewhere(t *testing.T) {
	p := newTestPage(t)
	w := p.Window()
	ch, _ := collect(t, w)

	require.NoError(t, w.DeliverMessage(MessageEvent{Data: "hi", Origin: "https://evil.example"}))
	ev := receive(t, ch)
	assert.Equal(t, "hi", ev.Data)
	assert.Equal(t, "https://evil.example", ev.Origin)
	assert.Nil(t, ev.Source)
}

func TestWindow_JavaScriptBindings(t *testing.T) {
	p := newTestPage(t)
	w := p.Window()
	ch, _ := collect(t, w)

	runJS(t, p, `
		globalThis.received = [];
		function onMessage(e) {
			received.push({data: e.data, origin: e.origin, self: e.source === window, type: e.type});
		}
		addEventListener('message', onMessage);
		addEventListener('message', onMessage); // duplicate registrations are ignored
		window.postMessage({hello: 'world', skip: function() {}}, '*');
	`)
	assert.Equal(t, map[string]any{"hello": "world"}, receive(t, ch).Data)
	assert.Equal(t, 2, w.ListenerCount())

	out := runJS(t, p, `received`)
	assert.Equal(t, []any{map[string]any{
		"data":   map[string]any{"hello": "world"},
		"origin": w.Origin(),
		"self":   true,
		"type":   "message",
	}}, out)

	runJS(t, p, `removeEventListener('message', onMessage)`)
	assert.Equal(t, 1, w.ListenerCount())
}

func TestWindow_JavaScriptListenerThrowDoesNotStopDispatch(t *testing.T) {
	p := newTestPage(t)
	ch, _ := collect(t, p.Window())

	runJS(t, p, `
		addEventListener('message', () => { throw new Error('listener'); });
		postMessage(1, '*');
	`)
	assert.Equal(t, float64(1), receive(t, ch).Data)
}
