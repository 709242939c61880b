// Package app wires the review service runtime and HTTP lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/amaniwell/copilot/internal/platform/config"
	"github.com/amaniwell/copilot/internal/platform/httpx"
	"github.com/amaniwell/copilot/internal/services/review/api/rest"
	"github.com/amaniwell/copilot/internal/services/review/provider"
	reviewservice "github.com/amaniwell/copilot/internal/services/review/service"
	reviewsqlite "github.com/amaniwell/copilot/internal/services/review/storage/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type serverEnv struct {
	DBPath       string `env:"AMANIWELL_COPILOT_DB_PATH"`
	OpenAIAPIKey string `env:"AMANIWELL_COPILOT_OPENAI_API_KEY"`
	OpenAIModel  string `env:"AMANIWELL_COPILOT_OPENAI_MODEL"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "review.db")
	}
	if strings.TrimSpace(cfg.OpenAIModel) == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	return cfg
}

// Server hosts the review HTTP API and storage lifecycle.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *reviewsqlite.Store
}

// New creates a configured review server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a configured review server for the provided address.
func NewWithAddr(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srvEnv := loadServerEnv()
	store, err := reviewsqlite.Open(srvEnv.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("open review store: %w", err)
	}

	var judgmentProvider provider.Provider
	if strings.TrimSpace(srvEnv.OpenAIAPIKey) != "" {
		judgmentProvider, err = provider.NewOpenAI(srvEnv.OpenAIAPIKey, srvEnv.OpenAIModel)
		if err != nil {
			_ = listener.Close()
			_ = store.Close()
			return nil, fmt.Errorf("configure judgment provider: %w", err)
		}
	} else {
		log.Print("no openai api key configured; analyze requests will fail until one is set")
	}

	svc := reviewservice.New(store, judgmentProvider, nil, nil)
	mux := http.NewServeMux()
	rest.NewHandler(svc).Routes(mux)
	handler := httpx.Chain(mux, httpx.RecoverPanic(), httpx.RequestID())

	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(handler, "review-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		listener:   listener,
		httpServer: httpServer,
		store:      store,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a review server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the HTTP server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("review server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases review server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close review store: %v", err)
		}
	}
}
