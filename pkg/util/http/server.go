package http

import (
	"context"
	"crypto/tls"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
)

// Server is a wrapper of an HTTP server, backed by a chi router.
// TLS is optional; a nil TLS configuration yields a plaintext server.
type Server struct {
	name      string
	address   string
	listener  net.Listener
	router    chi.Router
	server    *http.Server
	tlsConfig *tls.Config

	logger    *logrus.Entry
	logWriter *io.PipeWriter
}

// Name returns the name of the server.
func (s *Server) Name() string {
	return s.name
}

// Router returns the server (chi-)router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Listen creates the server listener on the given address.
func (s *Server) Listen(address string) error {
	s.logger.Infof("Creating listener on %s.", address)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	s.address = address
	s.listener = listener
	return nil
}

// GetAddress returns the listening address.
func (s *Server) GetAddress() string {
	return s.address
}

// Start serving requests. Blocks until the server is stopped.
func (s *Server) Start() error {
	defer func() {
		s.server.ErrorLog = nil
		if err := s.logWriter.Close(); err != nil {
			s.logger.Warnf("Unable to close http server log writer: %v.", err)
		}
	}()

	var err error
	if s.tlsConfig != nil {
		err = s.server.ServeTLS(s.listener, "", "")
	} else {
		err = s.server.Serve(s.listener)
	}

	if err == http.ErrServerClosed {
		s.logger.Info("Server closed by demand.")
		return nil
	}
	return err
}

// Stop the server.
func (s *Server) Stop() error {
	return s.server.Close()
}

// GracefulStop does a graceful stop of the server.
func (s *Server) GracefulStop() error {
	return s.server.Shutdown(context.Background())
}

// Close the server listener.
func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// NewServer returns a new empty server.
func NewServer(name string, tlsConfig *tls.Config) *Server {
	logger := logrus.WithFields(logrus.Fields{
		"component": "http-server",
		"name":      name,
	})
	logWriter := logger.WriterLevel(logrus.ErrorLevel)

	router := chi.NewRouter()
	if logrus.GetLevel() >= logrus.DebugLevel {
		router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger:  logger,
			NoColor: true,
		}))
	}
	router.Use(middleware.Recoverer)

	return &Server{
		name:      name,
		router:    router,
		tlsConfig: tlsConfig,
		server: &http.Server{
			Handler:           router,
			TLSConfig:         tlsConfig,
			ErrorLog:          log.New(logWriter, "", 0),
			ReadHeaderTimeout: time.Second,
		},
		logger:    logger,
		logWriter: logWriter,
	}
}
