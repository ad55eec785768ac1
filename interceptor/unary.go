package interceptor

import (
	"github.com/dop251/goja"
	"github.com/joeycumines/grpcweb-devtools/envelope"
)

// interceptUnary implements intercept(request, invoker, ...nameParts).
//
// The invoker is called synchronously, and a synchronous throw is treated
// as a rejection. The result is adopted by a promise, so both thenables and
// plain values are supported.
func (s *Set) interceptUnary(call goja.FunctionCall) goja.Value {
	request := call.Argument(0)
	invoker := s.invoker(call.Argument(1))
	var parts []goja.Value
	if len(call.Arguments) > 2 {
		parts = call.Arguments[2:]
	}
	method := s.callName(request, parts)
	payload := s.requestPayload(request)

	settled, resolve, reject := s.runtime.NewPromise()
	if result, err := invoker(goja.Undefined(), request); err != nil {
		_ = reject(s.exceptionValue(err))
	} else {
		_ = resolve(result)
	}

	onFulfilled := func(call goja.FunctionCall) goja.Value {
		response := call.Argument(0)
		s.emit(envelope.Unary, method, payload, s.responsePayload(response), nil)
		return response
	}
	onRejected := func(call goja.FunctionCall) goja.Value {
		reason := call.Argument(0)
		if callErr := s.callError(reason); !envelope.IsBenign(callErr.Code) {
			s.emit(envelope.Unary, method, payload, nil, callErr)
		}
		panic(reason)
	}

	settledObj := s.runtime.ToValue(settled).(*goja.Object)
	then, ok := goja.AssertFunction(settledObj.Get("then"))
	if !ok {
		panic(s.runtime.NewTypeError("interceptor: Promise.prototype.then is not a function"))
	}
	out, err := then(settledObj, s.runtime.ToValue(onFulfilled), s.runtime.ToValue(onRejected))
	if err != nil {
		panic(err)
	}
	return out
}
