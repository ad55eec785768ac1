// Command devtools-panel runs the inspection sink: relay ports connect over
// websocket, and viewers receive the call events they send.
//
//	devtools-panel -config panel.hujson -listen 127.0.0.1:8090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/grpcweb-devtools/internal/logging"
	"github.com/joeycumines/grpcweb-devtools/panel"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run serves until ctx is done. ready, if non-nil, receives the bound
// address once listening.
func run(ctx context.Context, args []string, stderr io.Writer, ready chan<- string) error {
	fs := flag.NewFlagSet("devtools-panel", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a JSON (comments allowed) config file")
	listen := fs.String("listen", "", "listen address, overrides the config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := panel.Load(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(stderr, level)

	hub, err := panel.NewHub(cfg.HubOptions(logger)...)
	if err != nil {
		return err
	}
	defer func() { _ = hub.Close() }()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("devtools-panel: listen failed: %w", err)
	}
	srv := &http.Server{
		Handler:           panel.NewServeMux(cfg, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("port_path", cfg.PortPath).
		Str("viewer_path", cfg.ViewerPath).
		Bool("viewer_auth", cfg.ViewerToken != "").
		Log("devtools-panel: listening")
	if ready != nil {
		ready <- ln.Addr().String()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		return fmt.Errorf("devtools-panel: serve failed: %w", err)
	case <-ctx.Done():
	}

	// hijacked websocket connections are not closed by Shutdown
	_ = hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("devtools-panel: shutdown failed: %w", err)
	}
	if err := <-serveErr; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info().Log("devtools-panel: stopped")
	return nil
}
