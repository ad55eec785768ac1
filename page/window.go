package page

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	eventloop "github.com/joeycumines/go-eventloop"
)

const messageEventType = "message"

// ErrDataClone is returned by [Window.PostMessage] when the message is not
// plain data.
var ErrDataClone = errors.New("page: message could not be cloned")

// MessageEvent is delivered to message listeners. Data is always a fresh
// structured clone owned by the event.
type MessageEvent struct {
	// Data is the cloned message: nil, bool, float64, string, []any or
	// map[string]any.
	Data any
	// Origin is the origin of the sending window.
	Origin string
	// Source is the sending window, or nil if the message came from outside
	// any page realm.
	Source *Window
}

// ListenerID identifies a registered message listener.
type ListenerID = eventloop.ListenerID

// Window is the page's global message broadcast.
type Window struct {
	page   *Page
	origin string
	target *eventloop.EventTarget

	// jsListeners tracks the functions registered from JavaScript, so they
	// can be removed by identity. Loop goroutine only.
	jsListeners []jsListener
}

type jsListener struct {
	eventType string
	fn        goja.Value
	id        ListenerID
}

func newWindow(p *Page, origin string) *Window {
	return &Window{
		page:   p,
		origin: origin,
		target: eventloop.NewEventTarget(),
	}
}

// Origin returns the window origin, e.g. "https://localhost".
func (w *Window) Origin() string { return w.origin }

// PostMessage broadcasts a structured clone of message to every message
// listener of this window. Delivery is asynchronous, on the loop goroutine.
//
// targetOrigin must be "*" or equal to the window origin, otherwise the
// message is silently dropped. PostMessage is safe to call from any
// goroutine.
func (w *Window) PostMessage(message any, targetOrigin string) error {
	data, err := structuredClone(message)
	if err != nil {
		return err
	}
	if targetOrigin != "*" && targetOrigin != w.origin {
		w.page.logger.Debug().
			Str("target_origin", targetOrigin).
			Str("origin", w.origin).
			Log("page: message dropped, target origin mismatch")
		return nil
	}
	return w.deliver(&MessageEvent{Data: data, Origin: w.origin, Source: w})
}

// DeliverMessage dispatches an already constructed event to this window's
// listeners, asynchronously, as if it was posted by another realm (for
// example a frame with a different origin). The data is cloned.
func (w *Window) DeliverMessage(ev MessageEvent) error {
	data, err := structuredClone(ev.Data)
	if err != nil {
		return err
	}
	ev.Data = data
	return w.deliver(&ev)
}

func (w *Window) deliver(ev *MessageEvent) error {
	return w.page.loop.Submit(func() {
		w.target.DispatchEvent(eventloop.NewCustomEvent(messageEventType, ev).EventPtr())
	})
}

// AddMessageListener registers fn to receive every message delivered to
// this window. The listener runs on the loop goroutine; a panic is
// recovered and logged, and does not prevent delivery to other listeners.
// Safe to call from any goroutine.
func (w *Window) AddMessageListener(fn func(*MessageEvent)) ListenerID {
	if fn == nil {
		panic("page: listener must not be nil")
	}
	return w.target.AddEventListener(messageEventType, func(e *eventloop.Event) {
		ev, ok := e.Detail().(*MessageEvent)
		if !ok {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				w.page.logger.Err().
					Str("panic", fmt.Sprint(r)).
					Log("page: message listener panicked")
			}
		}()
		fn(ev)
	})
}

// RemoveMessageListener removes the listener with the given id. It reports
// whether a listener was removed.
func (w *Window) RemoveMessageListener(id ListenerID) bool {
	return w.target.RemoveEventListenerByID(messageEventType, id)
}

// ListenerCount returns the number of message listeners, including those
// registered from JavaScript.
func (w *Window) ListenerCount() int {
	return w.target.ListenerCount(messageEventType)
}

// structuredClone copies v through its JSON representation, so the result
// contains only plain data.
func structuredClone(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataClone, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataClone, err)
	}
	return out, nil
}

func (w *Window) bind(global *goja.Object) error {
	rt := w.page.runtime

	if err := global.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		targetOrigin := "*"
		if arg := call.Argument(1); !goja.IsUndefined(arg) {
			targetOrigin = arg.String()
		}
		if err := w.PostMessage(Export(rt, call.Argument(0)), targetOrigin); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if err := global.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		eventType := call.Argument(0).String()
		fn := call.Argument(1)
		callable, ok := goja.AssertFunction(fn)
		if !ok {
			return goja.Undefined()
		}
		for _, l := range w.jsListeners {
			if l.eventType == eventType && l.fn.SameAs(fn) {
				return goja.Undefined()
			}
		}
		id := w.target.AddEventListener(eventType, func(e *eventloop.Event) {
			w.invokeJS(callable, e)
		})
		w.jsListeners = append(w.jsListeners, jsListener{eventType: eventType, fn: fn, id: id})
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if err := global.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		eventType := call.Argument(0).String()
		fn := call.Argument(1)
		for i, l := range w.jsListeners {
			if l.eventType == eventType && l.fn.SameAs(fn) {
				w.target.RemoveEventListenerByID(eventType, l.id)
				w.jsListeners = append(w.jsListeners[:i], w.jsListeners[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}

	location := rt.NewObject()
	if err := location.Set("origin", w.origin); err != nil {
		return err
	}
	if err := location.Set("href", w.origin+"/"); err != nil {
		return err
	}
	return global.Set("location", location)
}

// invokeJS calls a JavaScript listener with a MessageEvent-like object.
// Exceptions are logged, as a browser reports them without interrupting
// dispatch.
func (w *Window) invokeJS(fn goja.Callable, e *eventloop.Event) {
	rt := w.page.runtime
	obj := rt.NewObject()
	_ = obj.Set("type", e.Type)
	if ev, ok := e.Detail().(*MessageEvent); ok {
		_ = obj.Set("data", ev.Data)
		_ = obj.Set("origin", ev.Origin)
		if ev.Source == w {
			_ = obj.Set("source", rt.GlobalObject())
		} else {
			_ = obj.Set("source", goja.Null())
		}
	} else {
		_ = obj.Set("detail", e.Detail())
	}
	if _, err := fn(rt.GlobalObject(), obj); err != nil {
		w.page.logger.Err().
			Err(err).
			Str("type", e.Type).
			Log("page: event listener threw")
	}
}
