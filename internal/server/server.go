package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/chronicle/internal/crypto"
	"github.com/lazypower/chronicle/internal/embedding"
	"github.com/lazypower/chronicle/internal/engine"
	"github.com/lazypower/chronicle/internal/logger"
	"github.com/lazypower/chronicle/internal/store"
)

// Server is the chronicle HTTP API server. It holds the encryption key for
// the lifetime of the process.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	key     crypto.Key
	log     *slog.Logger
	score   embedding.Scorer
	limit   int
	router  chi.Router
	version string
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithScorer derives similarities for context requests that carry none.
func WithScorer(fn embedding.Scorer) Option {
	return func(s *Server) { s.score = fn }
}

// WithContextLimit sets the candidate limit for context requests without one.
func WithContextLimit(n int) Option {
	return func(s *Server) { s.limit = n }
}

// New creates a new Server over db. Facts are sealed and opened with key.
func New(db *store.DB, key crypto.Key, version string, opts ...Option) *Server {
	s := &Server{
		db:      db,
		key:     key,
		log:     logger.Nop(),
		version: version,
		started: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	s.engine = engine.New(db, engine.WithLogger(s.log), engine.WithDefaultLimit(s.limit))
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Post("/context", s.handleContext)

		r.Route("/facts", func(r chi.Router) {
			r.Get("/", s.handleListFacts)
			r.Post("/", s.handleInsertFact)
			r.Put("/", s.handleUpsertFact)
			r.Delete("/", s.handleClearFacts)

			r.Get("/current", s.handleCurrentFact)
			r.Post("/query", s.handleQueryFacts)

			r.Get("/{id}", s.handleGetFact)
			r.Patch("/{id}", s.handleUpdateFact)
			r.Delete("/{id}", s.handleDeleteFact)
			r.Post("/{id}/invalidate", s.handleInvalidateFact)
		})
	})

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.db.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidFact):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDecryption):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "err", err)
	}
	writeMessage(w, status, err.Error())
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
