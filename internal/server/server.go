package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"aura/internal/logger"
)

// Server runs the observer router on a TCP listener.
type Server struct {
	http *http.Server
	hub  *Hub
	log  *logger.Logger
}

func New(addr string, handler http.Handler, hub *Hub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		hub: hub,
		log: log.Named("http-server"),
	}
}

// Start listens and serves in the background. It returns the bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return "", err
	}
	addr := ln.Addr().String()
	s.log.Info("Starting HTTP server", logger.String("addr", addr))

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", logger.String("addr", addr), logger.Error(err))
		}
	}()
	return addr, nil
}

// Shutdown disconnects websocket observers and drains HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.http.Shutdown(ctx)
}
