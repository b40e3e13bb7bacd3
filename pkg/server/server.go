package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/voltwatch/voltwatch/pkg/common"
	"github.com/voltwatch/voltwatch/pkg/log"
	"github.com/voltwatch/voltwatch/pkg/storage"
	"github.com/voltwatch/voltwatch/pkg/types"
)

// Ticker runs a single simulation tick.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (types.TickSummary, error)
}

// emailVerifier validates an ID token and returns the email it was issued to.
type emailVerifier func(ctx context.Context, rawIDToken string) (string, error)

// Server exposes the scheduler trigger and the persisted readings over HTTP.
type Server struct {
	simulator Ticker
	storage   storage.Database

	listenAddr string
	httpServer *http.Server
	serverName string

	schedulerSecret string
	schedulerEmails []string
	verifyToken     emailVerifier

	now func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(sim Ticker, db storage.Database) *Server {
	srv := &Server{
		simulator:  sim,
		storage:    db,
		serverName: "voltwatch/" + common.Version(),
		now:        time.Now,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	schedulerSecret := lflag.RequiredString("scheduler-secret", "Shared secret the scheduler sends to trigger a tick")
	schedulerAudience := lflag.String("scheduler-audience", "", "Audience of Google ID tokens accepted from the scheduler")
	schedulerEmails := lflag.String("scheduler-emails", "", "comma-delimited list of service account emails allowed to trigger a tick with an ID token")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if len(*schedulerSecret) < 16 {
			log.Ctx(context.Background()).Error("scheduler-secret must be at least 16 characters")
			os.Exit(1)
		}
		srv.schedulerSecret = *schedulerSecret
		srv.schedulerEmails = splitList(*schedulerEmails)

		if *schedulerAudience != "" {
			if len(srv.schedulerEmails) == 0 {
				log.Ctx(context.Background()).Error("scheduler-emails is required with scheduler-audience")
				os.Exit(1)
			}
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifyToken = oidcEmailVerifier(provider.Verifier(&oidc.Config{ClientID: *schedulerAudience}))
		}
	})

	return srv
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/tick", s.handleTick)
	apiMux.HandleFunc("GET /api/sites", s.handleListSites)
	apiMux.HandleFunc("GET /api/sites/{siteID}/readings", s.handleReadings)
	apiMux.HandleFunc("GET /api/sites/{siteID}/readings/latest", s.handleLatestReading)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.setupHandler(),
		ReadTimeout: 15 * time.Second,
		// a tick may run for as long as tick-timeout
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
