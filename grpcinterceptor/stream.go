package grpcinterceptor

import (
	"errors"
	"io"
	"sync"

	"github.com/joeycumines/grpcweb-devtools/envelope"
	"google.golang.org/grpc"
)

func isServerStreaming(desc *grpc.StreamDesc) bool {
	return desc != nil && desc.ServerStreams && !desc.ClientStreams
}

func (x *Interceptor) observeStream(desc *grpc.StreamDesc, method string, open func() (grpc.ClientStream, error)) (grpc.ClientStream, error) {
	cs, err := open()
	if !isServerStreaming(desc) {
		return cs, err
	}
	name := x.prefix + method
	if err != nil {
		if callErr, ok := x.callError(err); ok {
			x.emit(envelope.ServerStreaming, name, nil, nil, callErr)
		}
		return cs, err
	}
	return &observedStream{ClientStream: cs, x: x, method: name}, nil
}

// observedStream reports the request on the first send, then every
// received message, then exactly one terminal event.
type observedStream struct {
	grpc.ClientStream
	x      *Interceptor
	method string

	mu         sync.Mutex
	sent       bool
	terminated bool
}

func (s *observedStream) SendMsg(m any) error {
	s.mu.Lock()
	first := !s.sent
	s.sent = true
	s.mu.Unlock()
	if first {
		s.x.emit(envelope.ServerStreaming, s.method, s.x.payload(m), nil, nil)
	}
	return s.ClientStream.SendMsg(m)
}

func (s *observedStream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)

	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return err
	}
	if err != nil {
		s.terminated = true
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		s.x.emit(envelope.ServerStreaming, s.method, nil, s.x.payload(m), nil)
	case errors.Is(err, io.EOF):
		s.x.emit(envelope.ServerStreaming, s.method, nil, envelope.EndOfStream, nil)
	default:
		if callErr, ok := s.x.callError(err); ok {
			s.x.emit(envelope.ServerStreaming, s.method, nil, nil, callErr)
		}
	}
	return err
}
