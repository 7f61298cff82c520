package web

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/homebase/internal/domain"
	"github.com/conorfennell/homebase/internal/gitsource"
	"github.com/conorfennell/homebase/internal/ingest"
	"github.com/conorfennell/homebase/internal/parser"
	"github.com/conorfennell/homebase/internal/storage"
	"github.com/conorfennell/homebase/internal/usage"
)

type stubExecutor struct {
	out []byte
	err error
}

func (e stubExecutor) Run(ctx context.Context, cmd string, args ...string) ([]byte, error) {
	return e.out, e.err
}

func newTestServer(t *testing.T, opts Options) (*Server, *storage.DB) {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "control-center.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	if opts.InboxPath == "" {
		opts.InboxPath = filepath.Join(dir, "INBOX.md")
	}
	if opts.Usage.Dir == "" {
		opts.Usage.Dir = filepath.Join(dir, "sessions")
	}
	in := ingest.New(stubExecutor{err: errors.New("exit status 1")}, ingest.Options{UploadDir: filepath.Join(dir, "uploads")})

	s, err := NewServer(db, parser.New(parser.DefaultLabels()), in, opts)
	require.NoError(t, err)
	s.gitInfo = func(ctx context.Context, dir string) (*gitsource.Info, error) {
		return &gitsource.Info{Hash: "abc1234", Branch: "main"}, nil
	}
	return s, db
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func postForm(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestRoot(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/tasks/inbox", rec.Header().Get("Location"))

	rec = do(s, httptest.NewRequest(http.MethodGet, "/static/styles.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("create redirects to the status column", func(t *testing.T) {
		s, db := newTestServer(t, Options{})

		rec := do(s, postForm("/task", url.Values{"title": {"  Call bank "}, "status": {"next"}, "priority": {"x"}}))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/tasks/next?created=1", rec.Header().Get("Location"))

		got, err := db.GetTask(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Call bank", got.Title)
		assert.Equal(t, domain.StatusNext, got.Status)
		assert.Equal(t, domain.DefaultPriority, got.Priority)

		rec = do(s, httptest.NewRequest(http.MethodGet, "/tasks/next?created=1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Call bank")
		assert.Contains(t, rec.Body.String(), "Task created (#1).")
	})

	t.Run("unknown status falls back to inbox", func(t *testing.T) {
		s, db := newTestServer(t, Options{})

		rec := do(s, postForm("/task", url.Values{"title": {"Plan trip"}, "status": {"someday"}}))
		assert.Equal(t, "/tasks/inbox?created=1", rec.Header().Get("Location"))

		got, err := db.GetTask(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusInbox, got.Status)
	})

	t.Run("missing title goes back with an error", func(t *testing.T) {
		s, db := newTestServer(t, Options{})

		req := postForm("/task", url.Values{"title": {"   "}, "status": {"waiting"}})
		req.Header.Set("Referer", "http://example.com/tasks/waiting?created=3")
		rec := do(s, req)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/tasks/waiting?error=missing-title", rec.Header().Get("Location"))

		counts, err := db.CountTasksByStatus(ctx)
		require.NoError(t, err)
		assert.Empty(t, counts)
	})

	t.Run("foreign referer is ignored", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		req := postForm("/task", url.Values{"title": {""}})
		req.Header.Set("Referer", "http://evil.test/phish")
		rec := do(s, req)
		assert.Equal(t, "/tasks/inbox?error=missing-title", rec.Header().Get("Location"))
	})

	t.Run("status change moves to the new column", func(t *testing.T) {
		s, db := newTestServer(t, Options{})
		id, err := db.CreateTask(ctx, domain.NewTask{Title: "Renew passport"})
		require.NoError(t, err)

		rec := do(s, postForm("/task/1", url.Values{"status": {"done"}}))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/tasks/done?moved=1", rec.Header().Get("Location"))

		got, err := db.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDone, got.Status)
	})

	t.Run("edit without status goes back", func(t *testing.T) {
		s, db := newTestServer(t, Options{})
		id, err := db.CreateTask(ctx, domain.NewTask{Title: "Renew passport", DueDate: "2026-03-01"})
		require.NoError(t, err)

		req := postForm("/task/1", url.Values{"priority": {"1"}, "due_date": {""}})
		req.Header.Set("Referer", "/tasks?q=passport")
		rec := do(s, req)
		assert.Equal(t, "/tasks?moved=1&q=passport", rec.Header().Get("Location"))

		got, err := db.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Priority)
		assert.Empty(t, got.DueDate)
		assert.Equal(t, domain.StatusInbox, got.Status)
	})

	t.Run("blank title edit is rejected", func(t *testing.T) {
		s, db := newTestServer(t, Options{})
		id, err := db.CreateTask(ctx, domain.NewTask{Title: "Keep me"})
		require.NoError(t, err)

		rec := do(s, postForm("/task/1", url.Values{"title": {" "}}))
		assert.Equal(t, "/tasks/inbox?error=missing-title", rec.Header().Get("Location"))

		got, err := db.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Keep me", got.Title)
	})

	t.Run("unknown task", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		rec := do(s, postForm("/task/99", url.Values{"status": {"done"}}))
		assert.Equal(t, "/tasks/inbox?error=not-found", rec.Header().Get("Location"))

		rec = do(s, postForm("/task/abc", url.Values{"status": {"done"}}))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		s, db := newTestServer(t, Options{})
		id, err := db.CreateTask(ctx, domain.NewTask{Title: "Throw away"})
		require.NoError(t, err)

		req := postForm("/task/1", url.Values{"action": {"delete"}})
		req.Header.Set("Referer", "http://example.com/tasks/inbox")
		rec := do(s, req)
		assert.Equal(t, "/tasks/inbox?deleted=1", rec.Header().Get("Location"))

		got, err := db.GetTask(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("search filters by query and status", func(t *testing.T) {
		s, db := newTestServer(t, Options{})
		_, err := db.CreateTask(ctx, domain.NewTask{Title: "Pay rent", Status: domain.StatusNext})
		require.NoError(t, err)
		_, err = db.CreateTask(ctx, domain.NewTask{Title: "Call landlord", Notes: "about rent"})
		require.NoError(t, err)
		_, err = db.CreateTask(ctx, domain.NewTask{Title: "Water plants"})
		require.NoError(t, err)

		rec := do(s, httptest.NewRequest(http.MethodGet, "/tasks?q=rent", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "Pay rent")
		assert.Contains(t, body, "Call landlord")
		assert.NotContains(t, body, "Water plants")

		rec = do(s, httptest.NewRequest(http.MethodGet, "/tasks?q=rent&status=next", nil))
		body = rec.Body.String()
		assert.Contains(t, body, "Pay rent")
		assert.NotContains(t, body, "Call landlord")
	})
}

const inboxDoc = `# Inbox

### 📥 Inbox (não triado)
- Buy milk
- Call dentist

### ✅ Próximas ações (triado)
- Send invoice
`

func TestImport(t *testing.T) {
	t.Run("imports and reports details", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "INBOX.md")
		require.NoError(t, os.WriteFile(path, []byte(inboxDoc), 0o600))
		s, db := newTestServer(t, Options{InboxPath: path})

		rec := do(s, postForm("/import/inbox-md", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "Imported: <strong>3</strong>")
		assert.Contains(t, body, "Send invoice")

		tasks, err := db.ListTasks(context.Background(), domain.TaskFilter{})
		require.NoError(t, err)
		assert.Len(t, tasks, 3)

		rec = do(s, postForm("/import/inbox-md", nil))
		assert.Contains(t, rec.Body.String(), "Skipped: <strong>3</strong>")
	})

	t.Run("missing inbox file", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		rec := do(s, postForm("/import/inbox-md", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Inbox file not found")
	})

	t.Run("page", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		rec := do(s, httptest.NewRequest(http.MethodGet, "/import", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Import INBOX.md")
	})
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("create and view renders sanitized markdown", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		rec := do(s, postForm("/memory", url.Values{
			"title": {"Decision A"},
			"body":  {"We **chose** X<script>alert(1)</script>"},
			"tags":  {"roadmap, Roadmap"},
		}))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/memory/1?created=1", rec.Header().Get("Location"))

		rec = do(s, httptest.NewRequest(http.MethodGet, "/memory/1?created=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "<strong>chose</strong>")
		assert.NotContains(t, body, "<script>alert")
		assert.Contains(t, body, "Note saved.")
	})

	t.Run("missing fields", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		rec := do(s, postForm("/memory", url.Values{"title": {"Only a title"}}))
		assert.Equal(t, "/memory?error=missing-fields", rec.Header().Get("Location"))
	})

	t.Run("search, tag and bad query", func(t *testing.T) {
		s, db := newTestServer(t, Options{})
		_, err := db.CreateNote(ctx, domain.NewNote{Title: "Vendor choice", Body: "We chose Acme", Tags: "procurement"})
		require.NoError(t, err)
		_, err = db.CreateNote(ctx, domain.NewNote{Title: "Groceries", Body: "eggs", Tags: "home"})
		require.NoError(t, err)

		rec := do(s, httptest.NewRequest(http.MethodGet, "/memory?q=chose", nil))
		body := rec.Body.String()
		assert.Contains(t, body, "Vendor choice")
		assert.NotContains(t, body, "Groceries")

		rec = do(s, httptest.NewRequest(http.MethodGet, "/memory?tag=hom", nil))
		body = rec.Body.String()
		assert.Contains(t, body, "Groceries")
		assert.NotContains(t, body, "Vendor choice")

		rec = do(s, httptest.NewRequest(http.MethodGet, "/memory?q=a:b", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Could not understand that search.")
	})

	t.Run("unknown note", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		rec := do(s, httptest.NewRequest(http.MethodGet, "/memory/7", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func upload(t *testing.T, name, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/memory/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIngest(t *testing.T) {
	t.Run("text file becomes a note", func(t *testing.T) {
		s, db := newTestServer(t, Options{})

		rec := do(s, upload(t, "meeting-notes.txt", "Agreed on the Q3 budget.", map[string]string{"tags": "work"}))
		require.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/memory/1?ingested=1", rec.Header().Get("Location"))

		note, err := db.GetNote(context.Background(), 1)
		require.NoError(t, err)
		require.NotNil(t, note)
		assert.Equal(t, "meeting-notes", note.Title)
		assert.Equal(t, "Agreed on the Q3 budget.", note.Body)
		assert.Equal(t, "work, raw", note.Tags)
	})

	t.Run("unsupported type", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		rec := do(s, upload(t, "archive.zip", "PK", nil))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "Unsupported file type")
	})

	t.Run("ocr tool failure", func(t *testing.T) {
		s, db := newTestServer(t, Options{})

		rec := do(s, upload(t, "scan.pdf", "%PDF-1.4", nil))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "Text extraction failed.")

		n, err := db.CountNotes(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("no file", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.Close())
		req := httptest.NewRequest(http.MethodPost, "/memory/ingest", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		rec := do(s, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestUsagePage(t *testing.T) {
	dir := t.TempDir()
	line := `{"type":"message","timestamp":"` + time.Now().UTC().Format(time.RFC3339) +
		`","message":{"usage":{"input":1000,"output":500,"totalTokens":1500,"cost":{"total":0.25}}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.jsonl"), []byte(line+"\n"), 0o600))

	s, _ := newTestServer(t, Options{Usage: usage.Options{Dir: dir, Days: 7}})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/usage?days=99", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "1,500")
	assert.Contains(t, body, "$0.25")
	assert.Contains(t, body, "session.jsonl")
	assert.Contains(t, body, `href="/usage?days=30" class="active"`)
}

func TestUsageDays(t *testing.T) {
	assert.Equal(t, 7, usageDays("", 7))
	assert.Equal(t, 7, usageDays("abc", 7))
	assert.Equal(t, 1, usageDays("0", 7))
	assert.Equal(t, 14, usageDays("14", 7))
	assert.Equal(t, usage.MaxWindowDays, usageDays("365", 7))
}

func TestLinks(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "INBOX.md")
	require.NoError(t, os.WriteFile(existing, []byte("# Inbox\n"), 0o600))

	s, _ := newTestServer(t, Options{Links: []Link{
		{Label: "Inbox", Path: existing},
		{Label: "Gone", Path: filepath.Join(dir, "missing.md")},
	}})

	rec := do(s, httptest.NewRequest(http.MethodGet, "/links", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="file://`+filepath.ToSlash(existing)+`"`)
	assert.Contains(t, body, "exists")
	assert.Contains(t, body, "missing")
}

func TestHealth(t *testing.T) {
	t.Run("with git", func(t *testing.T) {
		s, db := newTestServer(t, Options{})

		rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "abc1234")
		assert.Contains(t, body, db.Path())
		assert.Contains(t, body, "(wal)")
	})

	t.Run("without git", func(t *testing.T) {
		s, _ := newTestServer(t, Options{})
		s.gitInfo = func(ctx context.Context, dir string) (*gitsource.Info, error) {
			return nil, errors.New("repository does not exist")
		}

		rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "not a git repo or git unavailable")
	})
}

func TestBackTo(t *testing.T) {
	testCases := []struct {
		name     string
		referer  string
		expected string
	}{
		{name: "none", referer: "", expected: "/fallback"},
		{name: "same host", referer: "http://example.com/tasks/next", expected: "/tasks/next"},
		{name: "relative", referer: "/tasks?q=x", expected: "/tasks?q=x"},
		{name: "notices stripped", referer: "http://example.com/tasks?moved=2&q=x&error=not-found", expected: "/tasks?q=x"},
		{name: "other host", referer: "http://other.test/tasks", expected: "/fallback"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/task", nil)
			if tc.referer != "" {
				req.Header.Set("Referer", tc.referer)
			}
			assert.Equal(t, tc.expected, backTo(req, "/fallback"))
		})
	}
}
