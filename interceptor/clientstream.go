package interceptor

import (
	"github.com/dop251/goja"
	"github.com/joeycumines/grpcweb-devtools/envelope"
)

// listenerKey identifies a listener registered through the wrapper.
type listenerKey struct {
	eventType string
	callback  *goja.Object
}

// clientStream is the wrapper returned by the client library variant.
type clientStream struct {
	set        *Set
	method     string
	underlying *goja.Object
	wrapper    *goja.Object
	// listeners maps each registration made through the wrapper to the
	// listener registered on the underlying stream.
	listeners map[listenerKey]goja.Value
}

// interceptClientStream implements the client library variant of
// intercept(request, invoker) for server-streaming calls.
func (s *Set) interceptClientStream(call goja.FunctionCall) goja.Value {
	request := call.Argument(0)
	invoker := s.invoker(call.Argument(1))
	method := envelope.UnknownMethod
	if name, ok := s.descriptorName(request); ok {
		method = name
	}

	s.emit(envelope.ServerStreaming, method, s.requestPayload(request), nil, nil)

	result, err := invoker(goja.Undefined(), request)
	if err != nil {
		panic(err)
	}
	underlying, ok := result.(*goja.Object)
	if !ok {
		s.logger.Warning().
			Str("method", method).
			Log("interceptor: invoker did not return a stream")
		return result
	}

	cs := &clientStream{
		set:        s,
		method:     method,
		underlying: underlying,
		wrapper:    s.runtime.CreateObject(underlying),
		listeners:  make(map[listenerKey]goja.Value),
	}
	_ = cs.wrapper.Set("on", cs.on)
	_ = cs.wrapper.Set("removeListener", cs.removeListener)
	_ = cs.wrapper.Set("cancel", cs.cancel)
	return cs.wrapper
}

// on implements wrapper.on(type, callback), returning the wrapper.
func (x *clientStream) on(call goja.FunctionCall) goja.Value {
	eventType := call.Argument(0).String()
	callbackObj, _ := call.Argument(1).(*goja.Object)
	if callbackObj == nil {
		return x.wrapper
	}
	callback, ok := goja.AssertFunction(callbackObj)
	if !ok {
		return x.wrapper
	}

	var listener goja.Value
	switch eventType {
	case "data":
		listener = x.set.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			value := call.Argument(0)
			x.set.emit(envelope.ServerStreaming, x.method, nil, x.set.export(value), nil)
			return x.forward(callback, value)
		})
	case "error":
		listener = x.set.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			reason := call.Argument(0)
			if callErr := x.set.callError(reason); !envelope.IsBenign(callErr.Code) {
				x.set.emit(envelope.ServerStreaming, x.method, nil, nil, callErr)
			}
			return x.forward(callback, reason)
		})
	case "status":
		listener = x.set.runtime.ToValue(func(call goja.FunctionCall) goja.Value {
			status := call.Argument(0)
			if code, ok := numericCode(x.set.get(status, "code")); !ok || !envelope.IsBenign(code) {
				return x.forward(callback, status)
			}
			x.set.emit(envelope.ServerStreaming, x.method, nil, envelope.EndOfStream, nil)
			return x.forward(callback, x.set.runtime.ToValue(envelope.EndOfStream))
		})
	case "metadata", "end":
		listener = callbackObj
	default:
		return x.wrapper
	}

	x.listeners[listenerKey{eventType: eventType, callback: callbackObj}] = listener
	if _, err := x.callUnderlying("on", x.set.runtime.ToValue(eventType), listener); err != nil {
		panic(err)
	}
	return x.wrapper
}

// forward passes value to the caller's callback, rethrowing anything it
// throws.
func (x *clientStream) forward(callback goja.Callable, value goja.Value) goja.Value {
	out, err := callback(goja.Undefined(), value)
	if err != nil {
		panic(err)
	}
	return out
}

// removeListener implements wrapper.removeListener(type, callback).
func (x *clientStream) removeListener(call goja.FunctionCall) goja.Value {
	if !x.set.streamDetach {
		return goja.Undefined()
	}
	eventType := call.Argument(0).String()
	callbackObj, _ := call.Argument(1).(*goja.Object)
	key := listenerKey{eventType: eventType, callback: callbackObj}
	listener, ok := x.listeners[key]
	if !ok {
		return goja.Undefined()
	}
	delete(x.listeners, key)
	if _, err := x.callUnderlying("removeListener", x.set.runtime.ToValue(eventType), listener); err != nil {
		panic(err)
	}
	return goja.Undefined()
}

// cancel implements wrapper.cancel().
func (x *clientStream) cancel(goja.FunctionCall) goja.Value {
	if !x.set.streamDetach {
		return goja.Undefined()
	}
	if _, err := x.callUnderlying("cancel"); err != nil {
		panic(err)
	}
	return goja.Undefined()
}

// callUnderlying calls a method of the underlying stream. A missing method
// is ignored.
func (x *clientStream) callUnderlying(name string, args ...goja.Value) (goja.Value, error) {
	fn, ok := goja.AssertFunction(x.set.get(x.underlying, name))
	if !ok {
		x.set.logger.Debug().
			Str("method", x.method).
			Str("stream_method", name).
			Log("interceptor: underlying stream method missing")
		return goja.Undefined(), nil
	}
	return fn(x.underlying, args...)
}
