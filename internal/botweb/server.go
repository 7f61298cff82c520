// Package botweb serves the bot store catalog: available and installed
// packages with the permissions they request, plus install and uninstall.
package botweb

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/conorfennell/homebase/internal/botstore"
)

//go:embed all:templates
var templateFiles embed.FS

// Server holds the dependencies for the bot store HTTP server.
type Server struct {
	registry *botstore.Registry
	router   *http.ServeMux
	pages    map[string]*template.Template
}

// NewServer creates and configures a new server.
func NewServer(registry *botstore.Registry) (*Server, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	s := &Server{
		registry: registry,
		router:   http.NewServeMux(),
		pages:    pages,
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /{$}", s.handleAvailable())
	s.router.HandleFunc("GET /installed", s.handleInstalled())
	s.router.HandleFunc("GET /packages/{name}", s.handlePackage())
	s.router.HandleFunc("POST /install/{name}", s.handleInstall())
	s.router.HandleFunc("POST /uninstall/{name}", s.handleUninstall())
	s.router.Handle("GET /public/", http.StripPrefix("/public/", http.FileServer(http.Dir(s.registry.PublicDir()))))
}

func parsePages() (map[string]*template.Template, error) {
	files, err := fs.Glob(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	funcs := template.FuncMap{
		"join":  strings.Join,
		"bytes": func(n int64) string { return humanize.Bytes(uint64(n)) },
	}
	pages := make(map[string]*template.Template)
	for _, file := range files {
		if file == "templates/layout.html" {
			continue
		}
		tpl, err := template.New("layout").Funcs(funcs).ParseFS(templateFiles, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", file, err)
		}
		pages[path.Base(file)] = tpl
	}
	return pages, nil
}

type page struct {
	Title   string
	Active  string
	Notices []string
	Errors  []string
	Data    any
}

func (s *Server) render(w http.ResponseWriter, status int, name string, p page) {
	tpl, ok := s.pages[name]
	if !ok {
		slog.Error("Unknown page template", "page", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", p); err != nil {
		slog.Error("Failed to render page", "page", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	s.render(w, http.StatusInternalServerError, "error.html", page{
		Title:  "Error",
		Errors: []string{"Something went wrong. The details are in the server log."},
	})
}

// entry is a package row in a listing.
type entry struct {
	botstore.Package
	Installed bool
}

// outcome turns the query parameters set by install and uninstall into notices.
func outcome(q url.Values) (notices, errs []string) {
	if name := q.Get("installed"); name != "" {
		notices = append(notices, "Installed "+name+".")
	}
	if name := q.Get("uninstalled"); name != "" {
		notices = append(notices, "Uninstalled "+name+".")
	}
	if reason := q.Get("skipped"); reason != "" {
		notices = append(notices, "Skipped ("+reason+").")
	}
	if name := q.Get("missing"); name != "" {
		errs = append(errs, "No package named "+name+".")
	}
	return notices, errs
}

func (s *Server) handleAvailable() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pkgs, err := s.registry.Available()
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		entries := make([]entry, 0, len(pkgs))
		for _, p := range pkgs {
			entries = append(entries, entry{Package: p, Installed: s.registry.IsInstalled(p.Name)})
		}

		notices, errs := outcome(r.URL.Query())
		s.render(w, http.StatusOK, "packages.html", page{
			Title:   "Available",
			Active:  "available",
			Notices: notices,
			Errors:  errs,
			Data:    entries,
		})
	}
}

func (s *Server) handleInstalled() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pkgs, err := s.registry.Installed()
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		entries := make([]entry, 0, len(pkgs))
		for _, p := range pkgs {
			entries = append(entries, entry{Package: p, Installed: true})
		}

		notices, errs := outcome(r.URL.Query())
		s.render(w, http.StatusOK, "packages.html", page{
			Title:   "Installed",
			Active:  "installed",
			Notices: notices,
			Errors:  errs,
			Data:    entries,
		})
	}
}

type packageView struct {
	botstore.Package
	Installed bool
	Checksum  string
	Size      int64 // manifest size in bytes
}

func (s *Server) handlePackage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		p, err := s.registry.Find(name)
		if err != nil {
			if errors.Is(err, botstore.ErrNotFound) {
				s.render(w, http.StatusNotFound, "error.html", page{
					Title:  "Not found",
					Errors: []string{"No package named " + name + "."},
				})
				return
			}
			if errors.Is(err, botstore.ErrInvalidManifest) {
				s.render(w, http.StatusUnprocessableEntity, "error.html", page{
					Title:  "Invalid manifest",
					Errors: []string{err.Error()},
				})
				return
			}
			s.serverError(w, r, err)
			return
		}

		sum, err := botstore.Checksum(p.ManifestPath)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		info, err := os.Stat(p.ManifestPath)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		s.render(w, http.StatusOK, "package.html", page{
			Title: p.Manifest.DisplayName,
			Data: packageView{
				Package:   *p,
				Installed: s.registry.IsInstalled(p.Name),
				Checksum:  sum,
				Size:      info.Size(),
			},
		})
	}
}

func (s *Server) handleInstall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		res, err := s.registry.Install(name)
		if err != nil {
			if errors.Is(err, botstore.ErrNotFound) {
				http.Redirect(w, r, "/?missing="+url.QueryEscape(name), http.StatusSeeOther)
				return
			}
			s.serverError(w, r, err)
			return
		}
		http.Redirect(w, r, "/?"+resultQuery("installed", name, res), http.StatusSeeOther)
	}
}

func (s *Server) handleUninstall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		res, err := s.registry.Uninstall(name)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		http.Redirect(w, r, "/installed?"+resultQuery("uninstalled", name, res), http.StatusSeeOther)
	}
}

func resultQuery(action, name string, res botstore.Result) string {
	q := url.Values{}
	if res.Changed {
		q.Set(action, name)
	} else {
		q.Set("skipped", res.Reason)
	}
	return q.Encode()
}
