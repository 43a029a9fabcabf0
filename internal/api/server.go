// Package api serves the collection-points HTTP API on top of a store.Store.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/model"
	"github.com/sells-group/pointsync/internal/resilience"
	"github.com/sells-group/pointsync/internal/store"
	"github.com/sells-group/pointsync/pkg/pointstore"
)

// DefaultMaxBatch caps the points accepted by one batch request.
const DefaultMaxBatch = 1000

// Option configures the Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxBatch overrides DefaultMaxBatch.
func WithMaxBatch(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// Server exposes a store over HTTP.
type Server struct {
	store    store.Store
	origins  []string
	maxBatch int
}

// New creates a Server.
func New(st store.Store, opts ...Option) *Server {
	s := &Server{store: st, maxBatch: DefaultMaxBatch}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/collection-points", func(r chi.Router) {
		r.Get("/", s.list)
		r.Post("/batch", s.batch)
		r.Post("/check-existing", s.checkExisting)
		r.Get("/deletions", s.deletions)
		r.Get("/{external_id}", s.get)
		r.Delete("/{external_id}", s.delete)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ListFilter{
		City:            q.Get("city"),
		State:           q.Get("state"),
		IncludeInactive: q.Get("include_inactive") == "true",
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit inválido")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset inválido")
		return
	}

	points, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if points == nil {
		points = []model.CollectionPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var req pointstore.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}
	if len(req.Points) == 0 {
		writeError(w, http.StatusBadRequest, "nenhum ponto enviado")
		return
	}
	if len(req.Points) > s.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "lote excede "+strconv.Itoa(s.maxBatch)+" pontos")
		return
	}

	res, err := s.store.UpsertBatch(r.Context(), req.Points)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	zap.L().Info("api: batch upsert",
		zap.Int("points", len(req.Points)),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
	)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) checkExisting(w http.ResponseWriter, r *http.Request) {
	var req pointstore.CheckExistingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}
	if len(req.IDs) > s.maxBatch {
		writeError(w, http.StatusRequestEntityTooLarge, "lote excede "+strconv.Itoa(s.maxBatch)+" ids")
		return
	}

	found, err := s.store.CheckExisting(r.Context(), req.IDs)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Get(r.Context(), chi.URLParam(r, "external_id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ponto de coleta não encontrado")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "external_id")
	err := s.store.DeleteByExternalID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ponto de coleta não encontrado")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	zap.L().Info("api: point deactivated", zap.String("external_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deletions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit inválido")
		return
	}
	entries, err := s.store.ListDeletions(r.Context(), resilience.DeletionFilter{
		JobID:       q.Get("job_id"),
		OnlyPending: q.Get("pending") == "true",
		Limit:       limit,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if entries == nil {
		entries = []resilience.DeletionEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "erro interno")
}

func intParam(v string) (int, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

// writeError writes {"detail": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
