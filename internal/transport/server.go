package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bdougie/vigil/internal/models"
	"github.com/bdougie/vigil/internal/scheduler"
)

// Analyzer judges a frame.
type Analyzer interface {
	Analyze(ctx context.Context, frame models.Frame) (models.AnalysisResult, error)
}

// ServerOptions tunes the analysis service.
type ServerOptions struct {
	// MaxBodyBytes caps a request body. Default: 16 MiB.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (o *ServerOptions) defaults() {
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 16 << 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Server exposes an Analyzer over HTTP.
// TODO: the endpoint is unauthenticated; put it behind a token before exposing it past localhost.
type Server struct {
	analyzer Analyzer
	opts     ServerOptions
	router   *chi.Mux
}

func NewServer(a Analyzer, opts ServerOptions) *Server {
	opts.defaults()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))

	s := &Server{analyzer: a, opts: opts, router: r}
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("vigil analysis service is running"))
	})
	r.Post("/alert-system", s.handleAnalyze)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	log := s.opts.Logger.With("request_id", middleware.GetReqID(r.Context()))

	var req AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	data, mime, err := DecodeDataURI(req.ImageBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	result, err := s.analyzer.Analyze(r.Context(), models.Frame{Data: data, MIME: mime, CapturedAt: start})

	var synthErr *models.SynthesisError
	switch {
	case errors.As(err, &synthErr):
		resp := toResponse(result)
		resp.Warning = synthErr.Err.Error()
		log.Warn("transport: threat without audio", "error", synthErr.Err)
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, models.ErrCapture):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		log.Error("transport: analysis failed", "error", err, "duration", time.Since(start))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Info("transport: frame analyzed", "threat", result.Judgment.IsThreat, "duration", time.Since(start))
		writeJSON(w, http.StatusOK, toResponse(result))
	}
}

// Monitor is what the status endpoints read.
type Monitor interface {
	Status() scheduler.Status
	Log() *scheduler.LogRing
}

// NewStatusHandler serves GET /status and GET /logs for a running scheduler.
func NewStatusHandler(m Monitor) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Status())
	})
	r.Get("/logs", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Log().Entries())
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
