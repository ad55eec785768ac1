package bridge

import (
	"errors"
	"regexp"

	"github.com/joeycumines/grpcweb-devtools/envelope"
	"github.com/joeycumines/grpcweb-devtools/interceptor"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
)

// DefaultGlobalName is the name of the global factory.
const DefaultGlobalName = envelope.SourceTag

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// installOptions holds configuration for [Install].
type installOptions struct {
	globalName      string
	targetOrigin    string
	logger          *logging.Logger
	interceptorOpts []interceptor.Option
}

// Option configures [Install].
type Option interface {
	applyOption(*installOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*installOptions) error
}

func (o *optionFunc) applyOption(opts *installOptions) error {
	return o.fn(opts)
}

// WithGlobalName sets the name of the global factory, which must be a
// valid JavaScript identifier. Defaults to [DefaultGlobalName].
func WithGlobalName(name string) Option {
	return &optionFunc{fn: func(opts *installOptions) error {
		if !identifierPattern.MatchString(name) {
			return errors.New("bridge: global name must be a JavaScript identifier")
		}
		opts.globalName = name
		return nil
	}}
}

// WithTargetOrigin sets the target origin of the broadcast envelopes.
// Defaults to "*".
func WithTargetOrigin(origin string) Option {
	return &optionFunc{fn: func(opts *installOptions) error {
		if origin == "" {
			return errors.New("bridge: target origin must not be empty")
		}
		opts.targetOrigin = origin
		return nil
	}}
}

// WithLogger configures the logger for the bridge, and the interceptor sets
// it creates.
func WithLogger(logger *logging.Logger) Option {
	return &optionFunc{fn: func(opts *installOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithInterceptorOptions appends options used for every interceptor set
// created by the factory.
func WithInterceptorOptions(opts ...interceptor.Option) Option {
	return &optionFunc{fn: func(o *installOptions) error {
		o.interceptorOpts = append(o.interceptorOpts, opts...)
		return nil
	}}
}

// resolveOptions applies the given options to a default [installOptions].
func resolveOptions(opts []Option) (*installOptions, error) {
	cfg := &installOptions{
		globalName:   DefaultGlobalName,
		targetOrigin: "*",
	}
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
