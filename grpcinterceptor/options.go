package grpcinterceptor

import (
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"google.golang.org/protobuf/encoding/protojson"
)

type interceptorOptions struct {
	logger  *logging.Logger
	marshal *protojson.MarshalOptions
	prefix  string
}

// Option configures an [Interceptor].
type Option interface {
	applyOption(*interceptorOptions) error
}

type optionFunc struct {
	fn func(*interceptorOptions) error
}

func (o *optionFunc) applyOption(opts *interceptorOptions) error {
	return o.fn(opts)
}

// WithLogger configures the logger.
func WithLogger(logger *logging.Logger) Option {
	return &optionFunc{fn: func(opts *interceptorOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMarshalOptions sets the protojson options used to convert protobuf
// payloads. By default the canonical mapping is used.
func WithMarshalOptions(marshal protojson.MarshalOptions) Option {
	return &optionFunc{fn: func(opts *interceptorOptions) error {
		opts.marshal = &marshal
		return nil
	}}
}

// WithMethodPrefix prepends prefix, typically the target host, to every
// reported method name, e.g. "https://api.example" + "/pkg.Svc/Method".
func WithMethodPrefix(prefix string) Option {
	return &optionFunc{fn: func(opts *interceptorOptions) error {
		opts.prefix = prefix
		return nil
	}}
}

func resolveOptions(opts []Option) (*interceptorOptions, error) {
	cfg := &interceptorOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
