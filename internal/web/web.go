// Package web serves the poem form and its JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gnemet/PoemWeaver/internal/database"
	"github.com/gnemet/PoemWeaver/internal/i18n"
	"github.com/gnemet/PoemWeaver/internal/poem"
	"github.com/gnemet/PoemWeaver/internal/session"
	"go.uber.org/zap"
)

const maxThemeBytes = 1 << 10

// UsageReporter exposes ledger totals.
type UsageReporter interface {
	Totals(ctx context.Context) (database.UsageTotals, error)
}

type Server struct {
	sessions *session.Store
	tmpl     *template.Template
	static   fs.FS
	usage    UsageReporter
	logger   *zap.Logger
	secure   bool
}

type Option func(*Server)

func WithUsage(u UsageReporter) Option {
	return func(s *Server) { s.usage = u }
}

// WithSecureCookies marks cookies Secure, for deployments behind TLS.
func WithSecureCookies() Option {
	return func(s *Server) { s.secure = true }
}

func NewServer(sessions *session.Store, tmpl *template.Template, static fs.FS, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		tmpl:     tmpl,
		static:   static,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(s.static)))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /poem", s.handleSubmitForm)
	mux.HandleFunc("GET /lang/{code}", s.handleLang)

	mux.HandleFunc("POST /api/poem", s.handleSubmitAPI)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	return s.logRequests(mux)
}

type noticeView struct {
	Level   string
	Message string
}

type pageData struct {
	Lang    string
	Langs   []string
	Theme   string
	Poem    string
	Busy    bool
	Notices []noticeView
}

func (p pageData) T(key string) string {
	return i18n.T(p.Lang, key)
}

// controller returns the caller's controller, issuing a session cookie when needed.
func (s *Server) controller(w http.ResponseWriter, r *http.Request) *poem.Controller {
	id := ""
	if c, err := r.Cookie(session.CookieName); err == nil {
		id = c.Value
	}
	ctrl, id, created := s.sessions.Get(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     session.CookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return ctrl
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(w, r)
	lang := i18n.GetLang(r)
	st := ctrl.State()

	data := pageData{
		Lang:  lang,
		Langs: i18n.GetAvailableLangs(),
		Theme: st.Theme,
		Poem:  st.Poem,
		Busy:  st.Busy,
	}
	for _, n := range ctrl.TakeNotices() {
		data.Notices = append(data.Notices, noticeView{Level: n.Level, Message: i18n.T(lang, n.Key)})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		s.logger.Error("Error executing template", zap.Error(err))
	}
}

func (s *Server) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, 16*maxThemeBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	theme := r.PostFormValue("theme")
	if len(theme) > maxThemeBytes {
		http.Error(w, "Theme too long", http.StatusBadRequest)
		return
	}

	if _, err := s.submit(r.Context(), ctrl, theme); errors.Is(err, poem.ErrBusy) {
		ctrl.NotifyBusy()
	}
	// Failures are reported through the controller's notices.
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// submit runs the generation detached from the request's cancellation: the
// poem is kept for the session even if the browser navigates away. The
// configured ai.timeout still bounds the call.
func (s *Server) submit(ctx context.Context, ctrl *poem.Controller, theme string) (string, error) {
	if err := ctrl.SetTheme(theme); err != nil {
		return "", err
	}
	return ctrl.Submit(context.WithoutCancel(ctx))
}

type poemRequest struct {
	Theme string `json:"theme"`
}

type poemResponse struct {
	Poem string `json:"poem"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmitAPI(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller(w, r)
	lang := i18n.GetLang(r)

	var req poemRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*maxThemeBytes))
		if err := dec.Decode(&req); err != nil {
			s.logger.Warn("Failed to decode poem request", zap.Error(err))
			writeJSON(w, s.logger, http.StatusBadRequest, errorResponse{Error: "Invalid JSON format"})
			return
		}
	}
	if len(req.Theme) > maxThemeBytes {
		writeJSON(w, s.logger, http.StatusBadRequest, errorResponse{Error: "Theme too long"})
		return
	}

	text, err := s.submit(r.Context(), ctrl, req.Theme)
	switch {
	case err == nil:
		writeJSON(w, s.logger, http.StatusOK, poemResponse{Poem: text})
	case errors.Is(err, poem.ErrBusy):
		writeJSON(w, s.logger, http.StatusConflict, errorResponse{Error: i18n.T(lang, poem.NoticeBusy)})
	default:
		// The JSON caller gets the error in the body; drop the page toast.
		ctrl.DismissNotice(poem.NoticeGenerationFailed)
		writeJSON(w, s.logger, http.StatusBadGateway, errorResponse{Error: i18n.T(lang, poem.NoticeGenerationFailed)})
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, s.controller(w, r).State())
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, s.logger, http.StatusNotFound, errorResponse{Error: "usage ledger is not configured"})
		return
	}
	totals, err := s.usage.Totals(r.Context())
	if err != nil {
		s.logger.Error("Failed to read usage totals", zap.Error(err))
		writeJSON(w, s.logger, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
		return
	}
	writeJSON(w, s.logger, http.StatusOK, totals)
}

func (s *Server) handleLang(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !i18n.Supported(code) {
		http.NotFound(w, r)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     i18n.CookieName,
		Value:    code,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
