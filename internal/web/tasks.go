package web

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/conorfennell/homebase/internal/domain"
)

const (
	errMissingTitle = "missing-title"
	errTaskNotFound = "not-found"
)

type tasksView struct {
	Heading      string
	Status       domain.Status // default for the quick-add form
	Tasks        []domain.Task
	ShowFilter   bool
	Query        string
	FilterStatus string
}

// taskNotices turns the outcome parameters of a redirect into messages.
func taskNotices(q url.Values) (notices, errs []string) {
	if id := q.Get("created"); id != "" {
		notices = append(notices, fmt.Sprintf("Task created (#%s).", id))
	}
	if id := q.Get("moved"); id != "" {
		notices = append(notices, fmt.Sprintf("Task updated (#%s).", id))
	}
	if id := q.Get("deleted"); id != "" {
		notices = append(notices, fmt.Sprintf("Task deleted (#%s).", id))
	}
	switch q.Get("error") {
	case errMissingTitle:
		errs = append(errs, "Missing title, no task saved.")
	case errTaskNotFound:
		errs = append(errs, "That task no longer exists.")
	}
	return notices, errs
}

// handleStatusList renders the tasks of one status column.
func (s *Server) handleStatusList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := domain.ParseStatus(r.PathValue("status"))
		tasks, err := s.db.ListTasks(r.Context(), domain.TaskFilter{Status: &status})
		if err != nil {
			s.serverError(w, r, err)
			return
		}

		notices, errs := taskNotices(r.URL.Query())
		s.render(w, r, http.StatusOK, "tasks.html", page{
			Title:   status.Label(),
			Active:  string(status),
			Notices: notices,
			Errors:  errs,
			Data: tasksView{
				Heading: status.Label(),
				Status:  status,
				Tasks:   tasks,
			},
		})
	}
}

// handleTaskSearch renders all tasks, optionally narrowed by status and a
// substring query over title and notes.
func (s *Server) handleTaskSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		filter := domain.TaskFilter{Query: query}
		filterStatus := ""
		if raw := r.URL.Query().Get("status"); raw != "" {
			st := domain.ParseStatus(raw)
			filter.Status = &st
			filterStatus = string(st)
		}

		tasks, err := s.db.ListTasks(r.Context(), filter)
		if err != nil {
			s.serverError(w, r, err)
			return
		}

		notices, errs := taskNotices(r.URL.Query())
		s.render(w, r, http.StatusOK, "tasks.html", page{
			Title:   "All",
			Active:  "all",
			Notices: notices,
			Errors:  errs,
			Data: tasksView{
				Heading:      "All tasks",
				Status:       domain.StatusInbox,
				Tasks:        tasks,
				ShowFilter:   true,
				Query:        query,
				FilterStatus: filterStatus,
			},
		})
	}
}

// parsePriority reads the quick-add priority. Anything outside the form's
// choices is left unset so the store applies its default.
func parsePriority(raw string) *int {
	p, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || p < 1 {
		return nil
	}
	return &p
}

// handleCreateTask adds a task from the quick-add form and redirects to the
// column it landed in.
func (s *Server) handleCreateTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		title := strings.TrimSpace(r.PostFormValue("title"))
		status := domain.ParseStatus(r.PostFormValue("status"))
		if title == "" {
			http.Redirect(w, r, withParam(backTo(r, "/tasks/"+string(status)), "error", errMissingTitle), http.StatusSeeOther)
			return
		}

		id, err := s.db.CreateTask(r.Context(), domain.NewTask{
			Title:    title,
			Status:   status,
			Priority: parsePriority(r.PostFormValue("priority")),
			DueDate:  strings.TrimSpace(r.PostFormValue("due_date")),
			Notes:    strings.TrimSpace(r.PostFormValue("notes")),
		})
		if err != nil {
			if errors.Is(err, domain.ErrValidation) {
				http.Redirect(w, r, withParam(backTo(r, "/tasks/"+string(status)), "error", errMissingTitle), http.StatusSeeOther)
				return
			}
			s.serverError(w, r, err)
			return
		}

		http.Redirect(w, r, withParam("/tasks/"+string(status), "created", strconv.FormatInt(id, 10)), http.StatusSeeOther)
	}
}

// patchFromForm builds a patch from the fields present in the form. Status and
// priority are only changed when non-empty; due date, notes and title are
// changed whenever the field is submitted, and an empty due date or notes
// clears it.
func patchFromForm(form url.Values) domain.TaskPatch {
	var patch domain.TaskPatch
	if v := strings.TrimSpace(form.Get("status")); v != "" {
		st := domain.ParseStatus(v)
		patch.Status = &st
	}
	if v := strings.TrimSpace(form.Get("priority")); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p >= 1 {
			patch.Priority = &p
		}
	}
	if _, ok := form["due_date"]; ok {
		v := strings.TrimSpace(form.Get("due_date"))
		patch.DueDate = &v
	}
	if _, ok := form["notes"]; ok {
		v := strings.TrimSpace(form.Get("notes"))
		patch.Notes = &v
	}
	if _, ok := form["title"]; ok {
		v := strings.TrimSpace(form.Get("title"))
		patch.Title = &v
	}
	return patch
}

// handleUpdateTask moves, edits or deletes a task.
func (s *Server) handleUpdateTask() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			s.notFound(w, r, "Task")
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		idStr := strconv.FormatInt(id, 10)
		back := backTo(r, "/tasks/inbox")

		if r.PostFormValue("action") == "delete" {
			if err := s.db.DeleteTask(r.Context(), id); err != nil {
				s.serverError(w, r, err)
				return
			}
			http.Redirect(w, r, withParam(back, "deleted", idStr), http.StatusSeeOther)
			return
		}

		patch := patchFromForm(r.PostForm)
		ok, err := s.db.UpdateTask(r.Context(), id, patch)
		switch {
		case errors.Is(err, domain.ErrValidation):
			http.Redirect(w, r, withParam(back, "error", errMissingTitle), http.StatusSeeOther)
			return
		case err != nil:
			s.serverError(w, r, err)
			return
		case !ok:
			http.Redirect(w, r, withParam(back, "error", errTaskNotFound), http.StatusSeeOther)
			return
		}

		if patch.Status != nil {
			http.Redirect(w, r, withParam("/tasks/"+string(*patch.Status), "moved", idStr), http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, withParam(back, "moved", idStr), http.StatusSeeOther)
	}
}
