// Package api exposes the daemon's ops surface: health, playout status,
// device capabilities and Prometheus metrics.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Calvincombs103057/UltraGrid/internal/session"
	"github.com/Calvincombs103057/UltraGrid/internal/source"
)

// API serves the read-only HTTP surface for one playout session.
type API struct {
	log  *zap.Logger
	sess *session.Session
	src  *source.Synthetic
}

// New builds the API. src may be nil when the daemon runs without the
// built-in source.
func New(sess *session.Session, src *source.Synthetic, log *zap.Logger) *API {
	return &API{log: log, sess: sess, src: src}
}

// Router assembles the chi router with the shared middleware stack.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(a.requestLog)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", a.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/capabilities", a.capabilities)
		r.Get("/source", a.source)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, a.sess.Status())
}

func (a *API) capabilities(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, a.sess.Capabilities())
}

func (a *API) source(w http.ResponseWriter, r *http.Request) {
	if a.src == nil {
		http.Error(w, `{"error":"no source configured"}`, http.StatusNotFound)
		return
	}
	a.writeJSON(w, a.src.Status())
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("encode response", zap.Error(err))
	}
}

func (a *API) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}
