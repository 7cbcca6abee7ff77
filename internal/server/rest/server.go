// Package rest serves the authentication API over HTTP with JSON bodies
// wrapped in a {data, message, success} envelope.
package rest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	address  string
	users    *services.UserService
	sessions *services.SessionService
	gate     *services.Gate
	logger   logging.Logger
	handler  http.Handler
}

func NewServer(addr string, l logging.Logger, us *services.UserService, ss *services.SessionService, gate *services.Gate) *Server {
	s := &Server{
		address:  addr,
		users:    us,
		sessions: ss,
		gate:     gate,
		logger:   l.With("module", "http_server"),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /auth/logout", s.requireAccessToken(s.handleLogout))
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("GET /users/me", s.requireAccessToken(s.handleMe))
	mux.HandleFunc("POST /account/password", s.requireAccessToken(s.handleChangePassword))
	mux.HandleFunc("DELETE /account", s.requireAccessToken(s.handleDeleteAccount))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.withLogging(mux)
}

// Handler returns the fully wired handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listen net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "http shutdown", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
