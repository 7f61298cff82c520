package web

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/conorfennell/homebase/internal/domain"
	"github.com/conorfennell/homebase/internal/gitsource"
	"github.com/conorfennell/homebase/internal/ingest"
	"github.com/conorfennell/homebase/internal/parser"
	"github.com/conorfennell/homebase/internal/storage"
	"github.com/conorfennell/homebase/internal/usage"
)

// Link is an entry on the quick links page.
type Link struct {
	Label string
	Path  string
}

// Options carries the settings the handlers need beyond their collaborators.
type Options struct {
	InboxPath   string
	GitDir      string
	Links       []Link
	Usage       usage.Options // Dir, Days, MaxFiles and Pricing; Days is the page default
	BotStoreURL string
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	db       *storage.DB
	parser   *parser.InboxParser
	ingester *ingest.Ingester
	opts     Options
	router   *http.ServeMux
	pages    *renderer

	now     func() time.Time
	gitInfo func(ctx context.Context, dir string) (*gitsource.Info, error)
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, p *parser.InboxParser, in *ingest.Ingester, opts Options) (*Server, error) {
	pages, err := newRenderer()
	if err != nil {
		return nil, err
	}
	if opts.BotStoreURL == "" {
		opts.BotStoreURL = "http://localhost:4677"
	}

	s := &Server{
		db:       db,
		parser:   p,
		ingester: in,
		opts:     opts,
		router:   http.NewServeMux(),
		pages:    pages,
		now:      time.Now,
		gitInfo:  gitsource.Read,
	}
	if err := s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return err
	}
	s.router.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))
	s.router.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.router.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/tasks/inbox", http.StatusFound)
	})

	// Tasks
	s.router.HandleFunc("GET /tasks/{status}", s.handleStatusList())
	s.router.HandleFunc("GET /tasks", s.handleTaskSearch())
	s.router.HandleFunc("POST /task", s.handleCreateTask())
	s.router.HandleFunc("POST /task/{id}", s.handleUpdateTask())

	// Import
	s.router.HandleFunc("GET /import", s.handleImportPage())
	s.router.HandleFunc("POST /import/inbox-md", s.handleImportInbox())

	// Memory
	s.router.HandleFunc("GET /memory", s.handleNotes())
	s.router.HandleFunc("POST /memory", s.handleCreateNote())
	s.router.HandleFunc("GET /memory/{id}", s.handleNote())
	s.router.HandleFunc("POST /memory/ingest", s.handleIngest())

	s.router.HandleFunc("GET /usage", s.handleUsage())
	s.router.HandleFunc("GET /links", s.handleLinks())
	s.router.HandleFunc("GET /health", s.handleHealth())
	return nil
}

// page is the data every template receives.
type page struct {
	Title       string
	Active      string
	Notices     []string
	Errors      []string
	Counts      map[domain.Status]int
	BotStoreURL string
	Data        any
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, tmpl string, p page) {
	counts, err := s.db.CountTasksByStatus(r.Context())
	if err != nil {
		slog.Warn("Failed to count tasks for navigation", "error", err)
	}
	p.Counts = counts
	p.BotStoreURL = s.opts.BotStoreURL
	if p.Title == "" {
		p.Title = "Control Center"
	} else {
		p.Title += " · Control Center"
	}
	s.pages.render(w, status, tmpl, p)
}

// serverError logs err and renders a generic error page.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	s.render(w, r, http.StatusInternalServerError, "error.html", page{
		Title:  "Error",
		Errors: []string{"Something went wrong. The details are in the server log."},
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request, what string) {
	s.render(w, r, http.StatusNotFound, "error.html", page{
		Title:  "Not found",
		Errors: []string{what + " not found."},
	})
}

// noticeParams are the query parameters handlers use to report outcomes
// across a redirect.
var noticeParams = []string{"created", "moved", "deleted", "error", "ingested", "truncated"}

// backTo returns the path and query of the referring page on this host,
// without earlier notice parameters, or fallback when there is none.
func backTo(r *http.Request, fallback string) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" || (ref.Host != "" && ref.Host != r.Host) || !strings.HasPrefix(ref.Path, "/") {
		return fallback
	}
	q := ref.Query()
	for _, k := range noticeParams {
		q.Del(k)
	}
	ref.RawQuery = q.Encode()
	return (&url.URL{Path: ref.Path, RawQuery: ref.RawQuery}).String()
}

// withParam sets key=value in the query string of target.
func withParam(target, key, value string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
