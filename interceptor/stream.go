package interceptor

import (
	"github.com/dop251/goja"
	"github.com/joeycumines/grpcweb-devtools/envelope"
)

// interceptStream implements the generic invoker variant of
// intercept(request, invoker, ...nameParts) for server-streaming calls.
func (s *Set) interceptStream(call goja.FunctionCall) goja.Value {
	request := call.Argument(0)
	invoker := s.invoker(call.Argument(1))
	var parts []goja.Value
	if len(call.Arguments) > 2 {
		parts = call.Arguments[2:]
	}
	method := s.callName(request, parts)

	s.emit(envelope.ServerStreaming, method, s.requestPayload(request), nil, nil)

	stream, err := invoker(goja.Undefined(), request)
	if err != nil {
		panic(err)
	}

	subscribe, ok := goja.AssertFunction(s.get(stream, "subscribe"))
	if !ok {
		s.logger.Warning().
			Str("method", method).
			Log("interceptor: stream has no subscribe method")
		return stream
	}

	var terminated bool
	observer := s.runtime.NewObject()
	_ = observer.Set("next", func(call goja.FunctionCall) goja.Value {
		if !terminated {
			s.emit(envelope.ServerStreaming, method, nil, s.export(call.Argument(0)), nil)
		}
		return goja.Undefined()
	})
	_ = observer.Set("error", func(call goja.FunctionCall) goja.Value {
		if terminated {
			return goja.Undefined()
		}
		terminated = true
		if callErr := s.callError(call.Argument(0)); !envelope.IsBenign(callErr.Code) {
			s.emit(envelope.ServerStreaming, method, nil, nil, callErr)
		}
		return goja.Undefined()
	})
	_ = observer.Set("complete", func(goja.FunctionCall) goja.Value {
		if terminated {
			return goja.Undefined()
		}
		terminated = true
		s.emit(envelope.ServerStreaming, method, nil, envelope.EndOfStream, nil)
		return goja.Undefined()
	})

	if _, err := subscribe(stream, observer); err != nil {
		s.logger.Err().
			Err(err).
			Str("method", method).
			Log("interceptor: stream subscribe failed")
	}
	return stream
}
