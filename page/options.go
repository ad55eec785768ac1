package page

import (
	"errors"
	"net/url"

	"github.com/joeycumines/grpcweb-devtools/internal/logging"
)

// DefaultOrigin is the window origin used when [WithOrigin] is not given.
const DefaultOrigin = "https://localhost"

// pageOptions holds configuration for a [Page] instance.
type pageOptions struct {
	origin  string
	logger  *logging.Logger
	console bool
}

// Option configures a [Page] instance.
type Option interface {
	applyOption(*pageOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*pageOptions) error
}

func (o *optionFunc) applyOption(opts *pageOptions) error {
	return o.fn(opts)
}

// WithOrigin sets the window origin, e.g. "https://app.example.com". The
// value must be an absolute URL with a scheme and host; any path is
// discarded.
func WithOrigin(origin string) Option {
	return &optionFunc{fn: func(opts *pageOptions) error {
		u, err := url.Parse(origin)
		if err != nil {
			return errors.New("page: invalid origin: " + err.Error())
		}
		if u.Scheme == "" || u.Host == "" {
			return errors.New("page: origin must have a scheme and host")
		}
		opts.origin = u.Scheme + "://" + u.Host
		return nil
	}}
}

// WithLogger configures the logger used for script errors, listener
// failures and (with [WithConsole]) console output.
func WithLogger(logger *logging.Logger) Option {
	return &optionFunc{fn: func(opts *pageOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithConsole binds a console global that writes to the configured logger.
func WithConsole(enabled bool) Option {
	return &optionFunc{fn: func(opts *pageOptions) error {
		opts.console = enabled
		return nil
	}}
}

// resolveOptions applies the given options to a default [pageOptions].
func resolveOptions(opts []Option) (*pageOptions, error) {
	cfg := &pageOptions{origin: DefaultOrigin}
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
