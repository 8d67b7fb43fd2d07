package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vincentbai/browsetrace-collector/internal/config"
	"github.com/vincentbai/browsetrace-collector/internal/models"
	"github.com/vincentbai/browsetrace-collector/internal/observability"
	"github.com/vincentbai/browsetrace-collector/internal/store"
	"github.com/vincentbai/browsetrace-collector/internal/tracking"
)

// Version is reported by the status endpoint.
const Version = "1.0.0"

const maxBodyBytes = 1 << 20

type Server struct {
	service *tracking.Service
	metrics *observability.Metrics
	cfg     config.ServerConfig
	address string
	server  *http.Server
}

func NewServer(service *tracking.Service, cfg config.ServerConfig, metrics *observability.Metrics) *Server {
	return &Server{
		service: service,
		metrics: metrics,
		cfg:     cfg,
		address: cfg.Address(),
	}
}

type statusResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ackResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	database := "disconnected"
	if err := s.service.Ping(r.Context()); err == nil {
		database = "connected"
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:   "Tracking server running",
		Version:  Version,
		Database: database,
	})
}

// handleIngest stores the request body in collection c.
func (s *Server) handleIngest(c store.Collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, status, err := decodeRecord(w, r)
		if err != nil {
			s.metrics.RecordIngestFailure(string(c), "bad_request")
			writeJSON(w, status, errorResponse{Error: err.Error()})
			return
		}

		meta := tracking.Meta{ClientIP: clientIP(r), ReceivedAt: time.Now()}
		if err := s.service.Ingest(r.Context(), c, record, meta); err != nil {
			writeError(w, err, "Failed to store event")
			return
		}
		writeJSON(w, http.StatusOK, ackResponse{Success: true})
	}
}

func (s *Server) handleUserAnalytics(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Stats(r.Context())
	if err != nil {
		writeError(w, err, "Failed to compute analytics")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	if s.cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/", s.handleStatus)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/user-event", s.handleIngest(store.Events))
	r.Post("/heatmap", s.handleIngest(store.Heatmap))
	r.Get("/user-analytics", s.handleUserAnalytics)
	return r
}

// Start serves until ctx is cancelled, then drains in-flight requests for up
// to the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           otelhttp.NewHandler(s.setupRoutes(), observability.ServiceName),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", listener.Addr().String()).Msg("BrowseTrace collector listening")
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownContext, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownContext); err != nil {
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}

// decodeRecord reads a JSON object body. An empty body is an empty record.
func decodeRecord(w http.ResponseWriter, r *http.Request) (models.Record, int, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("request body too large")
		}
		return nil, http.StatusBadRequest, errors.New("failed to read request body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return models.Record{}, 0, nil
	}

	var record models.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, http.StatusBadRequest, errors.New("invalid JSON format")
	}
	if record == nil {
		return nil, http.StatusBadRequest, errors.New("request body must be a JSON object")
	}
	return record, 0, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, store.ErrStorageUnavailable) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Storage unavailable, retry later"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fallback})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
