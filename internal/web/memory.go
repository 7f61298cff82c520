package web

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/conorfennell/homebase/internal/domain"
	"github.com/conorfennell/homebase/internal/ingest"
	"github.com/conorfennell/homebase/internal/storage"
	"github.com/conorfennell/homebase/internal/tags"
)

const maxUploadBytes = 32 << 20

type notesView struct {
	Heading string
	Query   string
	Tag     string
	Notes   []domain.Note
	Total   int
}

// handleNotes lists recent notes, or the results of ?q= (full-text) or ?tag=.
func (s *Server) handleNotes() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		view := notesView{
			Heading: "Recent",
			Query:   strings.TrimSpace(q.Get("q")),
			Tag:     strings.TrimSpace(q.Get("tag")),
		}
		var (
			notices, errs []string
			err           error
		)
		if q.Get("error") == "missing-fields" {
			errs = append(errs, "A note needs both a title and a body.")
		}

		switch {
		case view.Query != "":
			view.Heading = "Search"
			view.Notes, err = s.db.SearchNotes(r.Context(), view.Query, storage.DefaultNoteLimit)
			if errors.Is(err, storage.ErrBadQuery) {
				slog.Info("Rejected note search", "query", view.Query, "error", err)
				errs = append(errs, "Could not understand that search. Try plain words.")
				view.Notes, err = []domain.Note{}, nil
			}
		case view.Tag != "":
			view.Heading = "Tag: " + view.Tag
			view.Notes, err = s.db.ListNotesByTag(r.Context(), view.Tag, storage.DefaultNoteLimit)
		default:
			view.Notes, err = s.db.ListRecentNotes(r.Context(), storage.DefaultNoteLimit)
		}
		if err != nil {
			s.serverError(w, r, err)
			return
		}

		view.Total, err = s.db.CountNotes(r.Context())
		if err != nil {
			s.serverError(w, r, err)
			return
		}

		s.render(w, r, http.StatusOK, "memory.html", page{
			Title:   "Memory",
			Active:  "memory",
			Notices: notices,
			Errors:  errs,
			Data:    view,
		})
	}
}

func (s *Server) handleCreateNote() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		id, err := s.db.CreateNote(r.Context(), domain.NewNote{
			Title: r.PostFormValue("title"),
			Body:  r.PostFormValue("body"),
			Tags:  r.PostFormValue("tags"),
		})
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				http.Redirect(w, r, "/memory?error=missing-fields", http.StatusSeeOther)
				return
			}
			s.serverError(w, r, err)
			return
		}

		http.Redirect(w, r, "/memory/"+strconv.FormatInt(id, 10)+"?created=1", http.StatusSeeOther)
	}
}

func (s *Server) handleNote() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.notFound(w, r, "Note")
			return
		}

		note, err := s.db.GetNote(r.Context(), id)
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		if note == nil {
			s.notFound(w, r, "Note")
			return
		}

		q := r.URL.Query()
		var notices []string
		switch {
		case q.Get("ingested") != "":
			notices = append(notices, "Document ingested.")
		case q.Get("created") != "":
			notices = append(notices, "Note saved.")
		}
		if q.Get("truncated") != "" {
			notices = append(notices, "The extracted text was long and has been truncated.")
		}

		s.render(w, r, http.StatusOK, "note.html", page{
			Title:   note.Title,
			Active:  "memory",
			Notices: notices,
			Data:    note,
		})
	}
}

// handleIngest stores an uploaded document, extracts its text and saves it as
// a note tagged with the extraction method.
func (s *Server) handleIngest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			s.ingestError(w, r, "Upload too large or malformed.")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			s.ingestError(w, r, "Choose a file to ingest.")
			return
		}
		defer file.Close()

		path, err := s.ingester.Save(header.Filename, file)
		if err != nil {
			s.serverError(w, r, err)
			return
		}

		doc, err := s.ingester.Extract(r.Context(), path, header.Filename)
		if err != nil {
			slog.Warn("Failed to ingest document", "file", header.Filename, "error", err)
			_ = os.Remove(path)
			switch {
			case errors.Is(err, ingest.ErrUnsupported):
				s.ingestError(w, r, "Unsupported file type: "+header.Filename)
			case errors.Is(err, ingest.ErrEmpty):
				s.ingestError(w, r, "No text could be extracted from "+header.Filename+".")
			case errors.Is(err, ingest.ErrToolFailed):
				s.ingestError(w, r, "Text extraction failed. Is pdftotext or tesseract installed?")
			default:
				s.serverError(w, r, err)
			}
			return
		}

		noteTags := tags.Normalize(r.PostFormValue("tags") + ", " + string(doc.Method))
		id, err := s.db.CreateNote(r.Context(), doc.Note(r.PostFormValue("title"), noteTags))
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		slog.Info("Ingested document", "file", header.Filename, "method", doc.Method, "note", id, "truncated", doc.Truncated)

		target := "/memory/" + strconv.FormatInt(id, 10) + "?ingested=1"
		if doc.Truncated {
			target += "&truncated=1"
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

func (s *Server) ingestError(w http.ResponseWriter, r *http.Request, msg string) {
	s.render(w, r, http.StatusUnprocessableEntity, "error.html", page{
		Title:  "Ingest failed",
		Active: "memory",
		Errors: []string{msg},
	})
}
