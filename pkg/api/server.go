package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Server is a running admin API. It stops when Close is called.
type Server struct {
	srv             *http.Server
	ln              net.Listener
	logger          hclog.Logger
	shutdownTimeout time.Duration

	done chan struct{}
	err  error

	closeOnce sync.Once
	closeErr  error
}

// Spawn binds opts.ListenAddr and serves the admin API on a background
// goroutine. Bind failures are returned; a failure of the server after that
// is logged and reported through Done and Err.
func Spawn(state State, opts Options) (*Server, error) {
	opts = opts.withDefaults()
	if opts.ListenAddr == "" {
		return nil, errors.New("api: listen address is required")
	}
	h := newHandler(state, opts)
	logger := opts.Logger.Named("api")

	ln, err := net.Listen("tcp", opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", opts.ListenAddr, err)
	}
	if opts.TLSConfig != nil {
		ln = tls.NewListener(ln, opts.TLSConfig)
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		TLSConfig:         opts.TLSConfig,
		ErrorLog:          logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	srv.RegisterOnShutdown(h.events.Close)

	s := &Server{
		srv:             srv,
		ln:              ln,
		logger:          logger,
		shutdownTimeout: opts.ShutdownTimeout,
		done:            make(chan struct{}),
	}
	go s.serve()
	logger.Info("admin API listening", "addr", ln.Addr().String(), "tls", opts.TLSConfig != nil)
	return s, nil
}

func (s *Server) serve() {
	defer close(s.done)
	err := s.srv.Serve(s.ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("admin API server stopped", "error", err)
		s.err = err
	}
}

// Addr is the bound listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Done is closed once the server loop has exited, whether through Close or
// a failure.
func (s *Server) Done() <-chan struct{} { return s.done }

// Err returns the failure that stopped the server loop. It is nil while the
// server runs and after a clean Close.
func (s *Server) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close stops accepting connections, waits for in-flight requests to drain
// and returns once the server loop has exited. Only the first call shuts the
// server down; later calls return the same result.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		ctx := context.Background()
		if s.shutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
			defer cancel()
		}
		s.logger.Info("admin API shutting down")
		if err := s.srv.Shutdown(ctx); err != nil {
			s.closeErr = fmt.Errorf("shutdown: %w", err)
			_ = s.srv.Close()
		}
		<-s.done
	})
	return s.closeErr
}
