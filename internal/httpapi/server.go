package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server owns the HTTP listener.
type Server struct {
	http     *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewServer binds addr; Start serves on the bound listener.
func NewServer(addr string, h http.Handler, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		http: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start serves requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.Addr()))
	if err := s.http.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting requests and waits for in-flight ones until ctx ends.
// Hijacked websocket connections are not tracked here; the realtime gateway
// closes them.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("HTTP server stopping")
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown", zap.Error(err))
	}
}
