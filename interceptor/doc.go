// Package interceptor implements gRPC-Web call interceptors for a
// [goja.Runtime], which observe the calls made by the page's own client code
// and emit a normalized [envelope.Envelope] for each call event.
//
// # Overview
//
// Interceptors never alter what the page observes: values and errors reach
// the original caller unchanged, with one exception noted below. Emission
// failures never reach the page.
//
// A [Set] exposes four interceptor objects to JavaScript via [Set.Object],
// each with an intercept method:
//
//	unaryInterceptor          intercept(request, invoker, ...nameParts) → Promise
//	streamInterceptor         intercept(request, invoker, ...nameParts) → stream
//	grpcWebUnaryInterceptor   same implementation as unaryInterceptor
//	grpcWebStreamInterceptor  intercept(request, invoker) → wrapped stream
//
// The devToolsUnaryInterceptor and devToolsStreamInterceptor keys are kept as
// aliases of unaryInterceptor and streamInterceptor.
//
// # Call Names
//
// The call name is taken from request.getMethodDescriptor(), using its
// getName() method or name property. Failing that, the name parts passed to
// intercept are joined with "/", e.g. a gateway URL, service and method.
// Otherwise the name is [envelope.UnknownMethod].
//
// # Unary
//
// The invoker is called with the request. Its result (a value or a
// thenable) settles the returned promise. On success one envelope carrying
// the request and response is emitted. On failure one error envelope is
// emitted, unless the error code is [envelope.BenignCode]; the original
// error is rethrown either way. An error without a numeric code is
// reported with code 2 (Unknown).
//
// Payloads are unwrapped from grpc-web request and response objects: the
// request via getRequestMessage(), the response via getResponseMessage().
// The page still receives the response object unchanged.
//
// # Streaming: generic invoker
//
// A request envelope is emitted, the invoker is called, and the returned
// stream is observed with stream.subscribe({next, error, complete}). Each
// next value is emitted as a data envelope. The call ends with exactly one
// terminal event: an error envelope (unless benign), or a data envelope
// whose response is [envelope.EndOfStream]. The original stream is
// returned unchanged.
//
// # Streaming: client library
//
// A request envelope is emitted and the invoker called. The returned
// wrapper inherits from the underlying stream and intercepts on(type, cb):
//
//	data      emitted, then the original value is forwarded
//	error     emitted unless benign, then forwarded
//	status    a failure status is forwarded as is; a success status is
//	          emitted and forwarded as the string "EOF"
//	metadata  forwarded
//	end       forwarded
//
// Other event types are ignored. The status rewrite is the single case in
// which the caller observes a different value.
//
// The wrapper's removeListener and cancel methods are no-ops, unless
// [WithStreamDetach] is enabled, in which case they are applied to the
// underlying stream.
//
// # Thread Safety
//
// A [Set] is bound to one runtime, and must only be used on the goroutine
// that owns it. The [Emitter] is called on that goroutine.
package interceptor
