package interceptor

import (
	"fmt"
	"math"
	"strings"

	"github.com/dop251/goja"
	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"github.com/joeycumines/grpcweb-devtools/page"
)

// unknownCode is reported for errors that carry no numeric code.
const unknownCode = 2

// Emitter receives the envelope of every observed call event, in the order
// the events occur.
type Emitter interface {
	Emit(env envelope.Envelope)
}

// EmitterFunc adapts a function to an [Emitter].
type EmitterFunc func(env envelope.Envelope)

func (f EmitterFunc) Emit(env envelope.Envelope) { f(env) }

// Set is the group of interceptors bound to one runtime and one emitter.
type Set struct {
	runtime      *goja.Runtime
	emitter      Emitter
	logger       *logging.Logger
	streamDetach bool
	object       *goja.Object
}

// New creates a [Set] bound to the given runtime, emitting to emitter.
//
// New panics if runtime or emitter is nil.
func New(runtime *goja.Runtime, emitter Emitter, opts ...Option) (*Set, error) {
	if runtime == nil {
		panic("interceptor: runtime must not be nil")
	}
	if emitter == nil {
		panic("interceptor: emitter must not be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Set{
		runtime:      runtime,
		emitter:      emitter,
		logger:       cfg.logger,
		streamDetach: cfg.streamDetach,
	}, nil
}

// Object returns the JavaScript object holding the interceptors, see the
// package documentation. The same object is returned on every call.
func (s *Set) Object() *goja.Object {
	if s.object != nil {
		return s.object
	}
	unary := s.interceptorObject(s.interceptUnary)
	stream := s.interceptorObject(s.interceptStream)
	obj := s.runtime.NewObject()
	_ = obj.Set("unaryInterceptor", unary)
	_ = obj.Set("streamInterceptor", stream)
	_ = obj.Set("grpcWebUnaryInterceptor", unary)
	_ = obj.Set("grpcWebStreamInterceptor", s.interceptorObject(s.interceptClientStream))
	_ = obj.Set("devToolsUnaryInterceptor", unary)
	_ = obj.Set("devToolsStreamInterceptor", stream)
	s.object = obj
	return obj
}

func (s *Set) interceptorObject(intercept func(goja.FunctionCall) goja.Value) *goja.Object {
	obj := s.runtime.NewObject()
	_ = obj.Set("intercept", intercept)
	return obj
}

// emit normalizes and emits one envelope. A panicking emitter is logged.
func (s *Set) emit(kind envelope.CallKind, method string, request, response any, callErr *envelope.Error) {
	env := envelope.Normalize(kind, method, request, response, callErr)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Err().
				Str("method", method).
				Str("panic", fmt.Sprint(r)).
				Log("interceptor: emitter panicked")
		}
	}()
	s.emitter.Emit(env)
}

// export converts a JavaScript value to plain data.
func (s *Set) export(v goja.Value) any {
	return page.Export(s.runtime, v)
}

// invoker asserts that v is callable, throwing a TypeError otherwise.
func (s *Set) invoker(v goja.Value) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(s.runtime.NewTypeError("interceptor: invoker must be a function"))
	}
	return fn
}

// get reads a property, returning nil if v is not an object or the lookup
// threw.
func (s *Set) get(v goja.Value, name string) goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	var out goja.Value
	if ex := s.runtime.Try(func() { out = obj.Get(name) }); ex != nil {
		return nil
	}
	if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
		return nil
	}
	return out
}

// callMethod calls v[name](), reporting false if there is no such method or
// it threw.
func (s *Set) callMethod(v goja.Value, name string) (goja.Value, bool) {
	fn, ok := goja.AssertFunction(s.get(v, name))
	if !ok {
		return nil, false
	}
	out, err := fn(v)
	if err != nil {
		return nil, false
	}
	return out, true
}

// callName derives the method name, see the package documentation.
func (s *Set) callName(request goja.Value, parts []goja.Value) string {
	if name, ok := s.descriptorName(request); ok {
		return name
	}
	var b strings.Builder
	for _, part := range parts {
		if part == nil || goja.IsUndefined(part) || goja.IsNull(part) {
			continue
		}
		if b.Len() != 0 {
			b.WriteByte('/')
		}
		b.WriteString(part.String())
	}
	if b.Len() == 0 {
		return envelope.UnknownMethod
	}
	return b.String()
}

func (s *Set) descriptorName(request goja.Value) (string, bool) {
	desc, ok := s.callMethod(request, "getMethodDescriptor")
	if !ok {
		return "", false
	}
	if name, ok := s.callMethod(desc, "getName"); ok && isNonEmptyString(name) {
		return name.String(), true
	}
	if name := s.get(desc, "name"); isNonEmptyString(name) {
		return name.String(), true
	}
	return "", false
}

func isNonEmptyString(v goja.Value) bool {
	if v == nil {
		return false
	}
	s, ok := v.Export().(string)
	return ok && s != ""
}

// requestPayload exports the request message, preferring the message
// wrapped by a grpc-web request object.
func (s *Set) requestPayload(request goja.Value) any {
	if msg, ok := s.callMethod(request, "getRequestMessage"); ok {
		return s.export(msg)
	}
	return s.export(request)
}

// responsePayload exports the response message, preferring the message
// wrapped by a grpc-web unary response object.
func (s *Set) responsePayload(response goja.Value) any {
	if msg, ok := s.callMethod(response, "getResponseMessage"); ok {
		return s.export(msg)
	}
	return s.export(response)
}

// callError reduces a thrown value to its code and message.
func (s *Set) callError(v goja.Value) *envelope.Error {
	e := &envelope.Error{Code: unknownCode}
	if _, ok := v.(*goja.Object); !ok {
		if v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
			e.Message = v.String()
		}
		return e
	}
	if code, ok := numericCode(s.get(v, "code")); ok {
		e.Code = code
	}
	if msg := s.get(v, "message"); msg != nil {
		e.Message = msg.String()
	}
	return e
}

func numericCode(v goja.Value) (int, bool) {
	if v == nil {
		return 0, false
	}
	switch n := v.Export().(type) {
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// exceptionValue returns the thrown value behind an error from a
// [goja.Callable].
func (s *Set) exceptionValue(err error) goja.Value {
	if ex, ok := err.(*goja.Exception); ok {
		return ex.Value()
	}
	return s.runtime.NewGoError(err)
}
