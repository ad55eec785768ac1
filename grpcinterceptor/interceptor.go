// Package grpcinterceptor captures the calls made by Go gRPC clients,
// producing the same call events as the in-page interceptors.
//
// Unary calls produce one event: request with response, or request with
// error. Server-streaming calls produce a request event when the request is
// sent, one event per received message, and a single terminal event: the
// [envelope.EndOfStream] marker, or the error. Calls failing with status
// code OK are never reported. Client-streaming and bidirectional calls pass
// through untouched.
//
// Use [Interceptor.UnaryClientInterceptor] and
// [Interceptor.StreamClientInterceptor] as dial options, or
// [Interceptor.WrapConn] for a [grpc.ClientConnInterface] that does not
// support interceptors, such as an in-process channel.
package grpcinterceptor

import (
	"context"
	"encoding/json"

	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Emitter receives call events, e.g. a relay.Sender.
type Emitter interface {
	Emit(env envelope.Envelope)
}

// Interceptor converts observed gRPC calls into envelopes. Safe for
// concurrent use.
type Interceptor struct {
	emitter Emitter
	logger  *logging.Logger
	marshal *protojson.MarshalOptions
	prefix  string
}

// New creates an interceptor emitting to emitter.
//
// Panics if emitter is nil.
func New(emitter Emitter, opts ...Option) (*Interceptor, error) {
	if emitter == nil {
		panic("grpcinterceptor: emitter must not be nil")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Interceptor{
		emitter: emitter,
		logger:  cfg.logger,
		marshal: cfg.marshal,
		prefix:  cfg.prefix,
	}, nil
}

// UnaryClientInterceptor returns the interceptor for unary calls. The
// invoker's error is returned unchanged.
func (x *Interceptor) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		x.observeUnary(method, req, reply, err)
		return err
	}
}

// StreamClientInterceptor returns the interceptor for streaming calls. Only
// server-streaming calls are observed.
func (x *Interceptor) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return x.observeStream(desc, method, func() (grpc.ClientStream, error) {
			return streamer(ctx, desc, cc, method, opts...)
		})
	}
}

// WrapConn returns cc with every call observed.
func (x *Interceptor) WrapConn(cc grpc.ClientConnInterface) grpc.ClientConnInterface {
	if cc == nil {
		panic("grpcinterceptor: conn must not be nil")
	}
	return &observedConn{x: x, cc: cc}
}

type observedConn struct {
	x  *Interceptor
	cc grpc.ClientConnInterface
}

func (c *observedConn) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	err := c.cc.Invoke(ctx, method, args, reply, opts...)
	c.x.observeUnary(method, args, reply, err)
	return err
}

func (c *observedConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return c.x.observeStream(desc, method, func() (grpc.ClientStream, error) {
		return c.cc.NewStream(ctx, desc, method, opts...)
	})
}

func (x *Interceptor) observeUnary(method string, req, reply any, err error) {
	name := x.prefix + method
	if err != nil {
		if callErr, ok := x.callError(err); ok {
			x.emit(envelope.Unary, name, x.payload(req), nil, callErr)
		}
		return
	}
	x.emit(envelope.Unary, name, x.payload(req), x.payload(reply), nil)
}

// callError converts err to its reported form. It returns false for the
// benign code.
func (x *Interceptor) callError(err error) (*envelope.Error, bool) {
	st := status.Convert(err)
	code := int(st.Code())
	if envelope.IsBenign(code) {
		return nil, false
	}
	return envelope.ErrorFrom(code, st.Message()), true
}

// payload converts a message for an envelope. Without custom marshal
// options, conversion is left to [envelope.Normalize].
func (x *Interceptor) payload(m any) any {
	msg, ok := m.(proto.Message)
	if !ok || x.marshal == nil {
		return m
	}
	b, err := x.marshal.Marshal(msg)
	if err != nil {
		x.logger.Warning().Err(err).Log("grpcinterceptor: payload marshal failed")
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func (x *Interceptor) emit(kind envelope.CallKind, method string, request, response any, callErr *envelope.Error) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Err().
				Str("method", method).
				Any("panic", r).
				Log("grpcinterceptor: emitter panicked")
		}
	}()
	x.emitter.Emit(envelope.Normalize(kind, method, request, response, callErr))
}
