package web

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/conorfennell/homebase/internal/domain"
	"github.com/conorfennell/homebase/internal/gitsource"
	"github.com/conorfennell/homebase/internal/importer"
	"github.com/conorfennell/homebase/internal/usage"
)

const gitTimeout = 5 * time.Second

type importView struct {
	InboxPath string
	Result    *domain.ImportResult
	Details   string // pretty-printed JSON of Result
}

func (s *Server) handleImportPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, "import.html", page{
			Title:  "Import",
			Active: "import",
			Data:   importView{InboxPath: s.opts.InboxPath},
		})
	}
}

// handleImportInbox runs the INBOX.md import and shows its log on the same page.
func (s *Server) handleImportInbox() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := importView{InboxPath: s.opts.InboxPath}

		result, err := importer.ImportFile(r.Context(), s.db, s.parser, s.opts.InboxPath)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.serverError(w, r, err)
				return
			}
			s.render(w, r, http.StatusOK, "import.html", page{
				Title:  "Import",
				Active: "import",
				Errors: []string{"Inbox file not found: " + s.opts.InboxPath},
				Data:   view,
			})
			return
		}

		details, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		view.Result = result
		view.Details = string(details)

		s.render(w, r, http.StatusOK, "import.html", page{
			Title:   "Import",
			Active:  "import",
			Notices: []string{"Import finished."},
			Data:    view,
		})
	}
}

type linkView struct {
	Label  string
	Path   string
	URL    template.URL
	Exists bool
}

func (s *Server) handleLinks() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		links := make([]linkView, 0, len(s.opts.Links))
		for _, l := range s.opts.Links {
			abs, err := filepath.Abs(l.Path)
			if err != nil {
				abs = l.Path
			}
			_, statErr := os.Stat(abs)
			u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
			links = append(links, linkView{
				Label:  l.Label,
				Path:   abs,
				URL:    template.URL(u.String()),
				Exists: statErr == nil,
			})
		}

		s.render(w, r, http.StatusOK, "links.html", page{
			Title:  "Links",
			Active: "links",
			Data:   links,
		})
	}
}

type healthView struct {
	Time        time.Time
	GoVersion   string
	DBPath      string
	JournalMode string
	Git         *gitsource.Info
	GitError    string
	JSON        string
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := healthView{
			Time:      s.now(),
			GoVersion: runtime.Version(),
			DBPath:    s.db.Path(),
		}

		mode, err := s.db.JournalMode()
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		view.JournalMode = mode

		ctx, cancel := context.WithTimeout(r.Context(), gitTimeout)
		defer cancel()
		info, err := s.gitInfo(ctx, s.opts.GitDir)
		payload := map[string]any{
			"time":    view.Time.Format(time.RFC3339),
			"runtime": view.GoVersion,
			"db":      view.DBPath,
		}
		if err != nil {
			view.GitError = "not a git repo or git unavailable"
			payload["git"] = map[string]string{"error": view.GitError}
		} else {
			view.Git = info
			payload["git"] = info
		}

		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		view.JSON = string(out)

		s.render(w, r, http.StatusOK, "health.html", page{
			Title:  "Health",
			Active: "health",
			Data:   view,
		})
	}
}

type usageView struct {
	Days    int
	Options []int
	Report  *usage.Report
}

// usageDays reads ?days= and clamps it to 1..MaxWindowDays.
func usageDays(raw string, fallback int) int {
	days, err := strconv.Atoi(raw)
	if err != nil {
		days = fallback
	}
	if days < 1 {
		days = 1
	}
	if days > usage.MaxWindowDays {
		days = usage.MaxWindowDays
	}
	return days
}

func (s *Server) handleUsage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := s.opts.Usage
		fallback := opts.Days
		if fallback <= 0 {
			fallback = usage.DefaultWindowDays
		}
		opts.Days = usageDays(r.URL.Query().Get("days"), fallback)
		opts.Now = s.now()

		report, err := usage.Aggregate(opts)
		if err != nil {
			s.serverError(w, r, err)
			return
		}

		s.render(w, r, http.StatusOK, "usage.html", page{
			Title:  "Usage",
			Active: "usage",
			Data: usageView{
				Days:    opts.Days,
				Options: []int{1, 7, 14, 30},
				Report:  report,
			},
		})
	}
}
