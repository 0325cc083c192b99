package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"go-sitewatch/internal/monitor"
	"go-sitewatch/internal/store"
)

// SecretHeader carries the shared secret for the protected API routes.
const SecretHeader = "X-Sitewatch-Secret"

type Config struct {
	Addr   string
	Title  string
	Secret string // empty leaves the API open
}

// Server exposes the board, the history store and the metrics over HTTP.
type Server struct {
	cfg     Config
	board   *monitor.Board
	history store.Store
	metrics http.Handler
	logger  *log.Logger

	srv *http.Server
}

// New builds the HTTP surface. history and metrics may be nil; their routes
// then answer 503 and 404 respectively.
func New(cfg Config, board *monitor.Board, history store.Store, metrics http.Handler, logger *log.Logger) *Server {
	if cfg.Title == "" {
		cfg.Title = "Sitewatch"
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{cfg: cfg, board: board, history: history, metrics: metrics, logger: logger}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", s.statusPage)
	r.Get("/status/json", s.statusJSON)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireSecret)

		r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
		r.Get("/api/history", s.apiHistory)
		r.Get("/api/alerts", s.apiAlerts)
	})

	return r
}

// ListenAndServe blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Secret != "" && r.Header.Get(SecretHeader) != s.cfg.Secret {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) statusJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.board.Snapshot())
}

func (s *Server) apiHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store disabled")
		return
	}
	obs, err := s.history.RecentObservations(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

func (s *Server) apiAlerts(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store disabled")
		return
	}
	recs, err := s.history.RecentAlerts(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("alert history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return store.DefaultLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>{{.Title}}</title>
	<meta http-equiv="refresh" content="5">
	<meta name="viewport" content="width=device-width, initial-scale=1.0">
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #1a1b26; color: #a9b1d6; padding: 20px; margin: 0; }
		h1 { text-align: center; color: #7aa2f7; margin-bottom: 30px; }
		.container { max-width: 800px; margin: 0 auto; }
		.card { background: #24283b; padding: 20px; margin-bottom: 15px; border-radius: 8px; display: flex; align-items: center; justify-content: space-between; }
		.info { display: flex; flex-direction: column; }
		.name { font-size: 1.2em; font-weight: bold; color: #c0caf5; margin-bottom: 5px; }
		.meta { font-size: 0.85em; color: #565f89; }
		.status { font-weight: bold; padding: 6px 12px; border-radius: 6px; min-width: 60px; text-align: center; }
		.Online { background: #9ece6a; color: #1a1b26; }
		.Offline { background: #f7768e; color: #1a1b26; }
		.Pending { background: #e0af68; color: #1a1b26; }
	</style>
</head>
<body>
	<div class="container">
		<h1>{{.Title}}</h1>
		{{range .Rows}}
		<div class="card">
			<div class="info">
				<div class="name">{{.URL}}</div>
				<div class="meta">Last Change: {{.LastChangeLabel}}{{if .Changed}} (changed this cycle){{end}}</div>
			</div>
			{{if .Pending}}<div class="status Pending">Pending</div>{{else}}<div class="status {{.Status}}">{{.Status}}</div>{{end}}
		</div>
		{{else}}
		<p style="text-align: center;">No sites configured.</p>
		{{end}}
		<div style="text-align: center; margin-top: 40px; color: #565f89; font-size: 0.8em;">Next check in: {{.Remaining}}s</div>
	</div>
</body>
</html>`))

func (s *Server) statusPage(w http.ResponseWriter, r *http.Request) {
	snap := s.board.Snapshot()
	data := struct {
		Title string
		monitor.Snapshot
	}{Title: s.cfg.Title, Snapshot: snap}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		s.logger.Error("render status page", "error", err)
	}
}
