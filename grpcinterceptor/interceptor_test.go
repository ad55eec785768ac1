package grpcinterceptor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	eventloop "github.com/joeycumines/go-eventloop"
	inprocgrpc "github.com/joeycumines/go-inprocgrpc"
	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/internal/demo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type recorder struct {
	mu        sync.Mutex
	envelopes []envelope.Envelope
}

func (r *recorder) Emit(env envelope.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
}

func (r *recorder) Envelopes() []envelope.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]envelope.Envelope(nil), r.envelopes...)
}

// newDemoChannel returns an in-process channel serving the demo service.
func newDemoChannel(t *testing.T) *inprocgrpc.Channel {
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
	ch := inprocgrpc.NewChannel(inprocgrpc.WithLoop(loop))
	ch.RegisterService(&demo.ServiceDesc, demo.Server{})
	return ch
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestInterceptor(t *testing.T, opts ...Option) (*Interceptor, *recorder) {
	t.Helper()
	rec := &recorder{}
	x, err := New(rec, opts...)
	require.NoError(t, err)
	return x, rec
}

func stream(method string, request, response any, callErr *envelope.Error) envelope.Envelope {
	return envelope.Normalize(envelope.ServerStreaming, method, request, response, callErr)
}

func TestNew_NilEmitter(t *testing.T) {
	assert.PanicsWithValue(t, "grpcinterceptor: emitter must not be nil", func() { _, _ = New(nil) })
}

func TestWrapConn_Unary(t *testing.T) {
	x, rec := newTestInterceptor(t)
	client := demo.NewClient(x.WrapConn(newDemoChannel(t)))
	ctx := testContext(t)

	out, err := client.Unary(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", out)

	_, err = client.Unary(ctx, "fail:bad input")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	assert.Equal(t, []envelope.Envelope{
		envelope.Normalize(envelope.Unary, demo.MethodUnary, "hi", "echo: hi", nil),
		envelope.Normalize(envelope.Unary, demo.MethodUnary, "fail:bad input", nil, envelope.ErrorFrom(int(codes.InvalidArgument), "bad input")),
	}, rec.Envelopes())
}

func TestWrapConn_ServerStreaming(t *testing.T) {
	x, rec := newTestInterceptor(t, WithMethodPrefix("https://api.example"))
	client := demo.NewClient(x.WrapConn(newDemoChannel(t)))
	ctx := testContext(t)
	method := "https://api.example" + demo.MethodCount

	values, err := client.Count(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, values)
	assert.Equal(t, []envelope.Envelope{
		stream(method, float64(2), nil, nil),
		stream(method, nil, "0", nil),
		stream(method, nil, "1", nil),
		stream(method, nil, envelope.EndOfStream, nil),
	}, rec.Envelopes())
	assert.True(t, rec.Envelopes()[3].IsEndOfStream())
}

func TestWrapConn_ServerStreamingError(t *testing.T) {
	x, rec := newTestInterceptor(t)
	client := demo.NewClient(x.WrapConn(newDemoChannel(t)))

	values, err := client.Count(testContext(t), -1)
	assert.Equal(t, []string{"0"}, values)
	assert.Equal(t, codes.OutOfRange, status.Code(err))
	assert.Equal(t, []envelope.Envelope{
		stream(demo.MethodCount, float64(-1), nil, nil),
		stream(demo.MethodCount, nil, "0", nil),
		stream(demo.MethodCount, nil, nil, envelope.ErrorFrom(int(codes.OutOfRange), "count -1")),
	}, rec.Envelopes())
}

func TestWrapConn_BidiPassesThrough(t *testing.T) {
	x, rec := newTestInterceptor(t)
	client := demo.NewClient(x.WrapConn(newDemoChannel(t)))

	replies, err := client.Chat(testContext(t), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, replies)
	assert.Empty(t, rec.Envelopes())
}

func TestUnaryClientInterceptor(t *testing.T) {
	ch := newDemoChannel(t)
	x, rec := newTestInterceptor(t)
	intercept := x.UnaryClientInterceptor()
	invoker := func(ctx context.Context, method string, req, reply any, _ *grpc.ClientConn, opts ...grpc.CallOption) error {
		return ch.Invoke(ctx, method, req, reply, opts...)
	}

	reply := new(wrapperspb.StringValue)
	require.NoError(t, intercept(testContext(t), demo.MethodUnary, wrapperspb.String("x"), reply, nil, invoker))
	assert.Equal(t, "echo: x", reply.GetValue())
	assert.Equal(t, []envelope.Envelope{
		envelope.Normalize(envelope.Unary, demo.MethodUnary, "x", "echo: x", nil),
	}, rec.Envelopes())
}

func TestStreamClientInterceptor(t *testing.T) {
	ch := newDemoChannel(t)
	x, rec := newTestInterceptor(t)
	intercept := x.StreamClientInterceptor()
	streamer := func(ctx context.Context, desc *grpc.StreamDesc, _ *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return ch.NewStream(ctx, desc, method, opts...)
	}

	desc := &grpc.StreamDesc{StreamName: "Count", ServerStreams: true}
	cs, err := intercept(testContext(t), desc, nil, demo.MethodCount, streamer)
	require.NoError(t, err)
	require.NoError(t, cs.SendMsg(wrapperspb.Int32(1)))
	require.NoError(t, cs.CloseSend())
	in := new(wrapperspb.StringValue)
	require.NoError(t, cs.RecvMsg(in))
	assert.Equal(t, "0", in.GetValue())
	assert.Error(t, cs.RecvMsg(in))
	// further receives after the terminal event are not reported
	_ = cs.RecvMsg(in)

	assert.Equal(t, []envelope.Envelope{
		stream(demo.MethodCount, float64(1), nil, nil),
		stream(demo.MethodCount, nil, "0", nil),
		stream(demo.MethodCount, nil, envelope.EndOfStream, nil),
	}, rec.Envelopes())
}

func TestStreamClientInterceptor_OpenError(t *testing.T) {
	x, rec := newTestInterceptor(t)
	intercept := x.StreamClientInterceptor()
	want := status.Error(codes.Unavailable, "down")
	streamer := func(context.Context, *grpc.StreamDesc, *grpc.ClientConn, string, ...grpc.CallOption) (grpc.ClientStream, error) {
		return nil, want
	}

	_, err := intercept(testContext(t), &grpc.StreamDesc{ServerStreams: true}, nil, "/s/M", streamer)
	assert.Same(t, want, err)
	_, err = intercept(testContext(t), &grpc.StreamDesc{ServerStreams: true, ClientStreams: true}, nil, "/s/Bidi", streamer)
	assert.Same(t, want, err)

	assert.Equal(t, []envelope.Envelope{
		stream("/s/M", nil, nil, envelope.ErrorFrom(int(codes.Unavailable), "down")),
	}, rec.Envelopes())
}

type benignError struct{}

func (benignError) Error() string              { return "benign" }
func (benignError) GRPCStatus() *status.Status { return status.New(codes.OK, "benign") }

func TestUnary_BenignAndUnknownErrors(t *testing.T) {
	x, rec := newTestInterceptor(t)
	intercept := x.UnaryClientInterceptor()

	err := intercept(testContext(t), "/s/M", nil, nil, nil, func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return benignError{}
	})
	assert.Equal(t, benignError{}, err)

	plain := errors.New("plain failure")
	err = intercept(testContext(t), "/s/M", nil, nil, nil, func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return plain
	})
	assert.Same(t, plain, err)

	assert.Equal(t, []envelope.Envelope{
		envelope.Normalize(envelope.Unary, "/s/M", nil, nil, envelope.ErrorFrom(int(codes.Unknown), "plain failure")),
	}, rec.Envelopes())
}

func TestMarshalOptions(t *testing.T) {
	x, rec := newTestInterceptor(t, WithMarshalOptions(protojson.MarshalOptions{UseProtoNames: true}))
	msg, err := structpb.NewStruct(map[string]any{"n": 1.5})
	require.NoError(t, err)

	x.observeUnary("/s/M", msg, "not a message", nil)
	assert.Equal(t, []envelope.Envelope{
		envelope.Normalize(envelope.Unary, "/s/M", map[string]any{"n": 1.5}, "not a message", nil),
	}, rec.Envelopes())
}

func TestEmitterPanicContained(t *testing.T) {
	x, err := New(emitterFunc(func(envelope.Envelope) { panic("boom") }))
	require.NoError(t, err)
	assert.NotPanics(t, func() { x.observeUnary("/s/M", nil, nil, nil) })
}

type emitterFunc func(envelope.Envelope)

func (f emitterFunc) Emit(env envelope.Envelope) { f(env) }
