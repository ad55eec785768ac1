package interceptor

import (
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
)

// setOptions holds configuration for a [Set] instance.
type setOptions struct {
	logger       *logging.Logger
	streamDetach bool
}

// Option configures a [Set] instance.
type Option interface {
	applyOption(*setOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*setOptions) error
}

func (o *optionFunc) applyOption(opts *setOptions) error {
	return o.fn(opts)
}

// WithLogger configures the logger used to report emission failures and
// malformed streams.
func WithLogger(logger *logging.Logger) Option {
	return &optionFunc{fn: func(opts *setOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithStreamDetach makes the client library stream wrapper apply
// removeListener and cancel to the underlying stream. By default both are
// no-ops, and the underlying call always runs to completion.
func WithStreamDetach(enabled bool) Option {
	return &optionFunc{fn: func(opts *setOptions) error {
		opts.streamDetach = enabled
		return nil
	}}
}

// resolveOptions applies the given options to a default [setOptions].
func resolveOptions(opts []Option) (*setOptions, error) {
	cfg := &setOptions{}
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
