// Package demo is a small gRPC echo service, used to exercise the Go call
// capture without generated code.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName   = "demo.Echo"
	MethodUnary   = "/demo.Echo/Unary"
	MethodCount   = "/demo.Echo/Count"
	MethodChat    = "/demo.Echo/Chat"
	failurePrefix = "fail:"
)

// EchoServer is the service implementation interface.
type EchoServer interface {
	Unary(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Count(*wrapperspb.Int32Value, grpc.ServerStream) error
	Chat(grpc.ServerStream) error
}

var (
	countStream = grpc.StreamDesc{StreamName: "Count", Handler: countHandler, ServerStreams: true}
	chatStream  = grpc.StreamDesc{StreamName: "Chat", Handler: chatHandler, ServerStreams: true, ClientStreams: true}
)

// ServiceDesc describes the echo service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EchoServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Unary", Handler: unaryHandler},
	},
	Streams:  []grpc.StreamDesc{countStream, chatStream},
	Metadata: "demo.proto",
}

func unaryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EchoServer).Unary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodUnary}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EchoServer).Unary(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func countHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.Int32Value)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(EchoServer).Count(in, stream)
}

func chatHandler(srv any, stream grpc.ServerStream) error {
	return srv.(EchoServer).Chat(stream)
}

// Server implements [EchoServer].
//
// Unary echoes its input, failing with InvalidArgument when the input
// starts with "fail:". Count sends the numbers below its input, failing with
// OutOfRange after them when the input is negative. Chat echoes every
// message.
type Server struct{}

var _ EchoServer = Server{}

func (Server) Unary(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if msg, ok := strings.CutPrefix(req.GetValue(), failurePrefix); ok {
		return nil, status.Error(codes.InvalidArgument, msg)
	}
	return wrapperspb.String("echo: " + req.GetValue()), nil
}

func (Server) Count(req *wrapperspb.Int32Value, stream grpc.ServerStream) error {
	n := req.GetValue()
	limit := n
	if limit < 0 {
		limit = -limit
	}
	for i := range limit {
		if err := stream.SendMsg(wrapperspb.String(fmt.Sprint(i))); err != nil {
			return err
		}
	}
	if n < 0 {
		return status.Errorf(codes.OutOfRange, "count %d", n)
	}
	return nil
}

func (Server) Chat(stream grpc.ServerStream) error {
	for {
		in := new(wrapperspb.StringValue)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := stream.SendMsg(in); err != nil {
			return err
		}
	}
}

// Client calls the echo service over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client for cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Unary calls Unary.
func (c *Client) Unary(ctx context.Context, s string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, MethodUnary, wrapperspb.String(s), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Count calls Count, returning the values received before the stream ended.
func (c *Client) Count(ctx context.Context, n int32) ([]string, error) {
	stream, err := c.cc.NewStream(ctx, &countStream, MethodCount)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.Int32(n)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	var values []string
	for {
		in := new(wrapperspb.StringValue)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				return values, nil
			}
			return values, err
		}
		values = append(values, in.GetValue())
	}
}

// Chat calls Chat, sending each message and waiting for its reply.
func (c *Client) Chat(ctx context.Context, messages ...string) ([]string, error) {
	stream, err := c.cc.NewStream(ctx, &chatStream, MethodChat)
	if err != nil {
		return nil, err
	}
	replies := make([]string, 0, len(messages))
	for _, m := range messages {
		if err := stream.SendMsg(wrapperspb.String(m)); err != nil {
			return replies, err
		}
		in := new(wrapperspb.StringValue)
		if err := stream.RecvMsg(in); err != nil {
			return replies, err
		}
		replies = append(replies, in.GetValue())
	}
	if err := stream.CloseSend(); err != nil {
		return replies, err
	}
	if err := stream.RecvMsg(new(wrapperspb.StringValue)); !errors.Is(err, io.EOF) {
		return replies, err
	}
	return replies, nil
}
