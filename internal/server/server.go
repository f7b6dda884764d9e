package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	afterShutdown []func()
}

// NewServer wires the WebSocket endpoints and the device/notification HTTP surface
// into one http.Server configured through the provided options
func NewServer(logger *zap.SugaredLogger, chat, notifications http.Handler, auth authenticator, notifier Notifier, opts ...Option) (*Server, error) {
	h := &handler{
		logger:   logger,
		auth:     auth,
		notifier: notifier,
		parsers: parsers{
			registerDevicePool:   fastjson.ParserPool{},
			unregisterDevicePool: fastjson.ParserPool{},
		},
	}

	c := &config{
		httpServer: &http.Server{Addr: "0.0.0.0:9000"},
		handlers: map[string]http.Handler{
			"/ws/chat":            chat,
			"/ws/notifications":   notifications,
			"/devices/register":   enforcePostJson(http.HandlerFunc(h.registerDevice)),
			"/devices/unregister": enforcePostJson(http.HandlerFunc(h.unregisterDevice)),
			"/notifications/test": enforcePostJson(http.HandlerFunc(h.testNotification)),
		},
	}

	for _, opt := range opts {
		opt.apply(c)
	}
	applyLog(logger.Desugar()).apply(c)
	registerHandlers().apply(c)

	return &Server{
		logger:        logger,
		httpServer:    c.httpServer,
		afterShutdown: c.afterShutdown,
	}, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
