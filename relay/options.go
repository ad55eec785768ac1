package relay

import (
	"errors"

	"github.com/joeycumines/grpcweb-devtools/internal/logging"
)

// relayOptions holds configuration for a [Channel] or [Sender].
type relayOptions struct {
	portName string
	logger   *logging.Logger
}

// Option configures a [Channel] or [Sender].
type Option interface {
	applyOption(*relayOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*relayOptions) error
}

func (o *optionFunc) applyOption(opts *relayOptions) error {
	return o.fn(opts)
}

// WithPortName sets the port name, [DefaultPortName] by default.
func WithPortName(name string) Option {
	return &optionFunc{fn: func(opts *relayOptions) error {
		if name == "" {
			return errors.New("relay: port name must not be empty")
		}
		opts.portName = name
		return nil
	}}
}

// WithLogger configures the logger.
func WithLogger(logger *logging.Logger) Option {
	return &optionFunc{fn: func(opts *relayOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies the given options to a default [relayOptions].
func resolveOptions(opts []Option) (*relayOptions, error) {
	cfg := &relayOptions{portName: DefaultPortName}
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
