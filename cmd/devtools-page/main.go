// Command devtools-page runs scripts in a page realm with the call
// interceptors installed, relaying every call event to an inspection sink.
//
//	devtools-page -sink ws://127.0.0.1:8090/ws/port app.js
//
// Without -sink, events are printed to stdout as JSON lines. With -demo, a
// set of Go gRPC calls against an in-process echo service is relayed too.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	eventloop "github.com/joeycumines/go-eventloop"
	inprocgrpc "github.com/joeycumines/go-inprocgrpc"
	"github.com/joeycumines/grpcweb-devtools/bridge"
	"github.com/joeycumines/grpcweb-devtools/grpcinterceptor"
	"github.com/joeycumines/grpcweb-devtools/interceptor"
	"github.com/joeycumines/grpcweb-devtools/internal/demo"
	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"github.com/joeycumines/grpcweb-devtools/page"
	"github.com/joeycumines/grpcweb-devtools/panel"
	"github.com/joeycumines/grpcweb-devtools/relay"
)

const flushTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	sink         string
	sinkToken    string
	origin       string
	wait         time.Duration
	logLevel     string
	globalName   string
	streamDetach bool
	demo         bool
	scripts      []string
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	var f flags
	fs := flag.NewFlagSet("devtools-page", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.sink, "sink", "", "websocket URL of the sink, events are printed to stdout if empty")
	fs.StringVar(&f.sinkToken, "sink-token", "", "bearer token sent to the sink")
	fs.StringVar(&f.origin, "origin", page.DefaultOrigin, "page origin")
	fs.DurationVar(&f.wait, "wait", 250*time.Millisecond, "how long to keep the page alive after the scripts ran")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level")
	fs.StringVar(&f.globalName, "global", bridge.DefaultGlobalName, "name of the interceptor factory global")
	fs.BoolVar(&f.streamDetach, "stream-detach", false, "propagate removeListener and cancel on wrapped client streams")
	fs.BoolVar(&f.demo, "demo", false, "also relay Go gRPC calls against an in-process echo service")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.scripts = fs.Args()
	return &f, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(f.logLevel)
	if err != nil {
		return err
	}
	logger := logging.New(stderr, level)

	loop, err := eventloop.New()
	if err != nil {
		return err
	}
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(loopCtx)
	}()
	defer func() {
		cancelLoop()
		<-loopDone
	}()

	p, err := page.New(loop, page.WithOrigin(f.origin), page.WithLogger(logger), page.WithConsole(true))
	if err != nil {
		return err
	}

	var dialer relay.Dialer
	if f.sink != "" {
		var header http.Header
		if f.sinkToken != "" {
			header = http.Header{"Authorization": {"Bearer " + f.sinkToken}}
		}
		dialer = &relay.WebsocketDialer{URL: f.sink, Header: header, Logger: logger}
	} else {
		hub, err := panel.NewHub(panel.WithLogger(logger))
		if err != nil {
			return err
		}
		defer func() { _ = hub.Close() }()
		hub.Subscribe(printer(stdout))
		dialer = hub
	}

	channel, err := relay.NewChannel(p.Window(), p, dialer, relay.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := channel.Listen(); err != nil {
		return err
	}

	bridgeOpts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithGlobalName(f.globalName),
		bridge.WithInterceptorOptions(interceptor.WithStreamDetach(f.streamDetach)),
	}
	if err := p.Do(ctx, func(p *page.Page) error { return bridge.Install(p, bridgeOpts...) }); err != nil {
		return err
	}

	for _, path := range f.scripts {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("devtools-page: %w", err)
		}
		if err := p.Do(ctx, func(p *page.Page) error {
			_, err := p.RunString(path, string(src))
			return err
		}); err != nil {
			return fmt.Errorf("devtools-page: %s: %w", path, err)
		}
	}

	if f.demo {
		if err := runDemo(ctx, loop, dialer, logger); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case <-time.After(f.wait):
	}

	if err := channel.Close(); err != nil {
		return err
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	return p.Do(flushCtx, func(*page.Page) error { return nil })
}

// printer writes each event to w as a JSON line.
func printer(w io.Writer) func(panel.Event) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(ev panel.Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(ev)
	}
}

// runDemo makes a few calls against the echo service, capturing them with
// the Go interceptor. Call failures are expected, and only logged.
func runDemo(ctx context.Context, loop *eventloop.Loop, dialer relay.Dialer, logger *logging.Logger) error {
	sender, err := relay.NewSender(dialer, relay.WithPortName("grpc"), relay.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sender.Close()

	x, err := grpcinterceptor.New(sender, grpcinterceptor.WithLogger(logger), grpcinterceptor.WithMethodPrefix("inproc://demo"))
	if err != nil {
		return err
	}

	ch := inprocgrpc.NewChannel(inprocgrpc.WithLoop(loop))
	ch.RegisterService(&demo.ServiceDesc, demo.Server{})
	client := demo.NewClient(x.WrapConn(ch))

	for _, s := range []string{"hello", "fail:demo failure"} {
		out, err := client.Unary(ctx, s)
		logger.Info().Str("input", s).Str("output", out).Err(err).Log("devtools-page: demo unary")
	}
	for _, n := range []int32{3, -1} {
		values, err := client.Count(ctx, n)
		logger.Info().Int("input", int(n)).Int("received", len(values)).Err(err).Log("devtools-page: demo count")
	}
	return nil
}
