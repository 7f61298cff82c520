package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	mdparser "github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"

	"github.com/conorfennell/homebase/internal/domain"
	"github.com/conorfennell/homebase/internal/storage"
)

//go:embed all:static
var staticFiles embed.FS

//go:embed all:templates
var templateFiles embed.FS

const layoutFile = "templates/layout.html"

// renderer holds one template set per page, each combined with the layout.
type renderer struct {
	pages map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	files, err := fs.Glob(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	r := &renderer{pages: make(map[string]*template.Template)}
	for _, file := range files {
		if file == layoutFile {
			continue
		}
		tpl, err := template.New("layout").Funcs(funcMap()).ParseFS(templateFiles, layoutFile, file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", file, err)
		}
		r.pages[path.Base(file)] = tpl
	}
	if len(r.pages) == 0 {
		return nil, fmt.Errorf("no page templates found")
	}
	return r, nil
}

// render executes a page into a buffer first so a template error still
// produces a clean 500 instead of half a page.
func (r *renderer) render(w http.ResponseWriter, status int, page string, data any) {
	tpl, ok := r.pages[page]
	if !ok {
		slog.Error("Unknown page template", "page", page)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("Failed to render page", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

var markdownPolicy = bluemonday.UGCPolicy()

// renderMarkdown converts a note body to sanitized HTML.
func renderMarkdown(s string) template.HTML {
	p := mdparser.NewWithExtensions(mdparser.CommonExtensions | mdparser.NoEmptyLineBeforeBlock)
	doc := p.Parse([]byte(s))
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank})
	return template.HTML(markdownPolicy.SanitizeBytes(markdown.Render(doc, renderer)))
}

// ago renders a stored timestamp relative to now, e.g. "3 hours ago".
func ago(ts string) string {
	t, err := time.Parse(storage.TimeLayout, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"markdown": renderMarkdown,
		"ago":      ago,
		"excerpt":  excerpt,
		"comma": func(v any) string {
			switch n := v.(type) {
			case int:
				return humanize.Comma(int64(n))
			case int64:
				return humanize.Comma(n)
			}
			return fmt.Sprint(v)
		},
		"usd": func(f float64) string {
			return "$" + humanize.CommafWithDigits(f, 4)
		},
		"statuses": func() []domain.Status { return domain.Statuses },
		"priorities": func() []int {
			return []int{1, 2, 3, 4, 5}
		},
		"since": func(t time.Time) string { return humanize.Time(t) },
	}
}
