// Package api exposes the trainer over HTTP: session lifecycle for the
// drawing client, finalized records for the leaderboard, and the
// region catalogue.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/contour-quest/contour.quest/internal/config"
	"github.com/contour-quest/contour.quest/internal/session"
	"github.com/contour-quest/contour.quest/internal/store"
)

// ANSI escape codes for request-log coloring.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server routes HTTP traffic to the session manager and the record
// store.
type Server struct {
	cfg      *config.Config
	sessions *session.Manager
	db       *store.DB
}

// NewServer builds the HTTP surface over the given manager and store.
func NewServer(cfg *config.Config, sessions *session.Manager, db *store.DB) *Server {
	return &Server{cfg: cfg, sessions: sessions, db: db}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.startSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.showSession)
	mux.HandleFunc("POST /api/sessions/{id}/strokes", s.addStroke)
	mux.HandleFunc("POST /api/sessions/{id}/submit", s.submitSession)
	mux.HandleFunc("GET /api/records", s.listRecords)
	mux.HandleFunc("GET /api/records/{id}", s.showRecord)
	mux.HandleFunc("GET /api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// sessionError maps session state machine errors to status codes. An
// expired session is Gone, not a client mistake.
func (s *Server) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrExpiredSession):
		s.writeJSONError(w, http.StatusGone, "session expired")
	case errors.Is(err, session.ErrSessionState):
		s.writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, config.ErrRegionNotFound):
		s.writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := r.PathValue("id")
	sn, ok := s.sessions.Get(id)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no session %q", id))
	}
	return sn, ok
}
