package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/deskline/internal/httpapi"
	"github.com/matheus3301/deskline/internal/paths"
	"github.com/matheus3301/deskline/internal/server"
	"github.com/matheus3301/deskline/internal/store"
	"github.com/matheus3301/deskline/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC server lifecycle. It always serves the unix socket
// in the data dir and additionally a TCP address when configured.
type Server struct {
	grpcServer *grpc.Server
	listeners  []net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds every listener up front so address errors fail startup.
func NewServer(p Params, keys server.KeySet, svc *server.DataService, logger *zap.Logger) (*Server, error) {
	socketPath := paths.SocketPath(p.DataDir)

	// Clean stale socket; the lock guarantees no live daemon owns it.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	unixLis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = unixLis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	listeners := []net.Listener{unixLis}

	if p.Daemon.Listen != "" {
		tcpLis, err := net.Listen("tcp", p.Daemon.Listen)
		if err != nil {
			_ = unixLis.Close()
			return nil, fmt.Errorf("listen %s: %w", p.Daemon.Listen, err)
		}
		listeners = append(listeners, tcpLis)
	}

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(server.UnaryInterceptor(keys, logger)),
		grpc.StreamInterceptor(server.StreamInterceptor(keys, logger)),
	)
	wire.RegisterDataServiceServer(srv, svc)

	return &Server{
		grpcServer: srv,
		listeners:  listeners,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Addrs returns the bound listener addresses, unix socket first.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, len(s.listeners))
	for i, l := range s.listeners {
		addrs[i] = l.Addr()
	}
	return addrs
}

// Start serves every listener in the background.
func (s *Server) Start() {
	for _, l := range s.listeners {
		s.logger.Info("gRPC server starting", zap.String("addr", l.Addr().String()))
		go func() {
			if err := s.grpcServer.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.logger.Error("gRPC server error", zap.String("addr", l.Addr().String()), zap.Error(err))
			}
		}()
	}
}

// Stop performs a graceful shutdown and removes the socket file. Open
// streams are cut when ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}

// HTTPServer serves health, metrics and the REST mirror. It is inert when
// no HTTP address is configured.
type HTTPServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewHTTPServer binds the HTTP listener.
func NewHTTPServer(p Params, db *store.DB, keys server.KeySet, checks healthChecks, logger *zap.Logger) (*HTTPServer, error) {
	h := &HTTPServer{logger: logger}
	if p.Daemon.HTTPListen == "" {
		return h, nil
	}
	lis, err := net.Listen("tcp", p.Daemon.HTTPListen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", p.Daemon.HTTPListen, err)
	}
	router := httpapi.NewRouter(db, httpapi.Options{
		Keys:        keys,
		CORSOrigins: p.Daemon.CORSOrigin,
		Checks:      checks,
	}, logger)
	h.listener = lis
	h.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return h, nil
}

// Addr returns the bound address, or nil when HTTP is disabled.
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Start serves HTTP in the background.
func (h *HTTPServer) Start() {
	if h.srv == nil {
		return
	}
	h.logger.Info("HTTP server starting", zap.String("addr", h.listener.Addr().String()))
	go func() {
		if err := h.srv.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Stop shuts the HTTP server down.
func (h *HTTPServer) Stop(ctx context.Context) {
	if h.srv == nil {
		return
	}
	h.logger.Info("HTTP server stopping")
	if err := h.srv.Shutdown(ctx); err != nil {
		h.logger.Warn("HTTP shutdown", zap.Error(err))
	}
}
