package panel

import (
	"errors"
	"fmt"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
)

// DefaultReadLimit bounds the size of a single message read from a port.
const DefaultReadLimit = 4 << 20

type hubOptions struct {
	logger      *logging.Logger
	viewerToken string
	readLimit   int64
	limiter     *catrate.Limiter
}

// Option configures a [Hub].
type Option interface {
	applyOption(*hubOptions) error
}

type optionFunc struct {
	fn func(*hubOptions) error
}

func (o *optionFunc) applyOption(opts *hubOptions) error {
	return o.fn(opts)
}

// WithLogger configures the logger.
func WithLogger(logger *logging.Logger) Option {
	return &optionFunc{fn: func(opts *hubOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithViewerToken requires viewers to present "Authorization: Bearer
// <token>". An empty token disables the check.
func WithViewerToken(token string) Option {
	return &optionFunc{fn: func(opts *hubOptions) error {
		opts.viewerToken = token
		return nil
	}}
}

// WithReadLimit sets the maximum size, in bytes, of a message read from a
// websocket port. Default [DefaultReadLimit].
func WithReadLimit(limit int64) Option {
	return &optionFunc{fn: func(opts *hubOptions) error {
		if limit <= 0 {
			return errors.New("panel: read limit must be positive")
		}
		opts.readLimit = limit
		return nil
	}}
}

// WithRateLimit limits the call events accepted from each port connection,
// as event counts per sliding window. Events over the limit are dropped.
// Each shorter window must allow fewer events, at a higher rate, than every
// longer one.
func WithRateLimit(rates map[time.Duration]int) Option {
	return &optionFunc{fn: func(opts *hubOptions) (err error) {
		if len(rates) == 0 {
			opts.limiter = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panel: invalid rate limit: %v", r)
			}
		}()
		opts.limiter = catrate.NewLimiter(rates)
		return nil
	}}
}

func resolveOptions(opts []Option) (*hubOptions, error) {
	cfg := &hubOptions{readLimit: DefaultReadLimit}
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
