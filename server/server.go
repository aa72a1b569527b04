// Package server implements the FT-Echo protocol engine: the per-connection
// operation loop and the transfer state machine driving the storage manager
// and checksum stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/justapithecus/ftecho/log"
	"github.com/justapithecus/ftecho/metrics"
	"github.com/justapithecus/ftecho/storage"
)

// DefaultChunkSize is the F-frame payload size used when streaming files.
// The last chunk of a transfer may be shorter.
const DefaultChunkSize = 4096

// Options tunes a Server. Zero values select defaults.
type Options struct {
	// ChunkSize is the F-frame payload size for outbound streams.
	ChunkSize int
	// IdleTimeout bounds how long a connection may sit idle between frames.
	// Zero disables the bound. This is a deployment parameter, not part of
	// the protocol.
	IdleTimeout time.Duration
	// Logger receives structured connection and operation logs.
	Logger *log.Logger
	// Metrics receives transfer counters. May be nil.
	Metrics *metrics.Collector
}

// Server serves the FT-Echo protocol over accepted connections. Each
// connection is handled by its own goroutine and processes operations
// strictly sequentially; all connections share one Store, which centralizes
// the writer-exclusion and atomic-commit guarantees.
type Server struct {
	store       *storage.Store
	chunkSize   int
	idleTimeout time.Duration
	log         *log.Logger
	metrics     *metrics.Collector

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New creates a Server over the given store.
func New(store *storage.Store, opts Options) *Server {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Server{
		store:       store,
		chunkSize:   opts.ChunkSize,
		idleTimeout: opts.IdleTimeout,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		conns:       make(map[net.Conn]struct{}),
	}
}

// Listen binds a TCP listener capped at maxConns concurrent connections.
func Listen(addr string, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// Serve accepts connections until ctx is cancelled or the listener fails.
// On cancellation it closes the listener and every active connection, then
// waits for the handlers to drain. A fault in one connection never affects
// the others or the accept loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("server listening", zap.String("addr", ln.Addr().String()))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
			s.closeAll()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("server stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.track(conn)
		s.metrics.IncConnectionAccepted()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}
