// Package ui serves the local web UI and its JSON API.
package ui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joelklabo/shep/internal/config"
	"github.com/joelklabo/shep/internal/domain"
	"github.com/joelklabo/shep/internal/ports"
	"github.com/joelklabo/shep/internal/usecases"
)

//go:embed web/*
var embeddedFS embed.FS

var layout = template.Must(template.New("layout.html").
	Funcs(template.FuncMap{"classNames": ClassNames, "activeClass": activeClass}).
	ParseFS(embeddedFS, "web/layout.html"))

// Services are the use cases the UI calls.
type Services struct {
	GetJoke         usecases.GetJoke
	LoadSettings    usecases.LoadSettings
	UpdateSettings  usecases.UpdateSettings
	ListAgentRuns   usecases.ListAgentRuns
	ShowAgentRun    usecases.ShowAgentRun
	ApproveRun      usecases.ApproveRun
	ListCheckpoints usecases.ListCheckpoints
}

// Server hosts the local web UI.
type Server struct {
	cfg    config.UIConfig
	svc    Services
	logger *slog.Logger
	srv    *http.Server
}

// New constructs a Server.
func New(cfg config.UIConfig, svc Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, svc: svc, logger: logger}
}

// Handler returns the routed handler, including auth and CORS.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withCORS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/nav", s.handleNav)
		r.Get("/joke", s.handleJoke)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/approve", s.handleApprove)
		r.Get("/runs/{id}/checkpoints", s.handleCheckpoints)
	})
	for _, item := range navigation {
		r.Get(item.Href, s.handlePage)
	}
	return r
}

// Start runs the HTTP server until context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ui server listening", slog.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withCORS only lets pages served by this UI call the API, and requires the
// bearer token when one is configured. Without a token, only loopback hosts
// are served.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimSpace(s.cfg.AuthToken)
		if tok == "" && !loopbackHost(r.Host) {
			http.Error(w, "forbidden: set ui.auth_token to serve non-local hosts", http.StatusForbidden)
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			if !sameOrigin(origin, r.Host) {
				http.Error(w, "forbidden origin", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if tok != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+tok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && strings.EqualFold(u.Host, host)
}

func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	active := r.URL.Query().Get("active")
	if active == "" {
		active = "/"
	}
	s.writeJSON(w, http.StatusOK, Nav(active))
}

func (s *Server) handleJoke(w http.ResponseWriter, r *http.Request) {
	joke, err := s.svc.GetJoke.Execute(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"joke": joke})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.LoadSettings.Execute(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st.Redacted())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.svc.LoadSettings.Execute(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	token := current.Agent.Token
	// Decode over the stored record so partial bodies keep other fields.
	if err := json.NewDecoder(r.Body).Decode(&current); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if current.Agent.Token == domain.RedactedSecret {
		current.Agent.Token = token
	}
	updated, err := s.svc.UpdateSettings.Execute(r.Context(), current)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated.Redacted())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var opts ports.ListOptions
	if raw := q.Get("status"); raw != "" {
		st, err := domain.ParseAgentRunStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Status = st
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}
	runs, err := s.svc.ListAgentRuns.Execute(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.AgentRun{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.ShowAgentRun.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	// The agent keeps working if the browser goes away.
	ctx := context.WithoutCancel(r.Context())
	run, err := s.svc.ApproveRun.Execute(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cps, err := s.svc.ListCheckpoints.Execute(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if cps == nil {
		cps = []ports.CheckpointTuple{}
	}
	s.writeJSON(w, http.StatusOK, cps)
}

type pageData struct {
	Title string
	Nav   []NavItem
	Joke  string
	Runs  []domain.AgentRun
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	data := pageData{Title: "shep", Nav: Nav(r.URL.Path)}
	for _, item := range data.Nav {
		if item.Active {
			data.Title = item.Label + " · shep"
		}
	}
	if joke, err := s.svc.GetJoke.Execute(r.Context()); err == nil {
		data.Joke = joke
	}
	if runs, err := s.svc.ListAgentRuns.Execute(r.Context(), ports.ListOptions{Limit: 20}); err == nil {
		data.Runs = runs
	} else {
		s.logger.Warn("list runs for page", slog.String("err", err.Error()))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := layout.Execute(w, data); err != nil {
		s.logger.Error("render layout", slog.String("err", err.Error()))
	}
}

func activeClass(active bool) string {
	if active {
		return "bg-slate-200 text-slate-900 font-semibold"
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", slog.String("err", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("err", err.Error()))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
