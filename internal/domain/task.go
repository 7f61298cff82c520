package domain

import "strings"

// Status is the kanban column a task lives in.
type Status string

const (
	StatusInbox     Status = "inbox"
	StatusNext      Status = "next"
	StatusScheduled Status = "scheduled"
	StatusWaiting   Status = "waiting"
	StatusDone      Status = "done"
)

// DefaultPriority is assigned when a task is created without one.
const DefaultPriority = 2

// Statuses lists every known status in display (and sort) order.
var Statuses = []Status{StatusInbox, StatusNext, StatusScheduled, StatusWaiting, StatusDone}

var statusLabels = map[Status]string{
	StatusInbox:     "Inbox",
	StatusNext:      "Next",
	StatusScheduled: "Scheduled",
	StatusWaiting:   "Waiting",
	StatusDone:      "Done",
}

// Label returns the human-readable name of the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Rank is the primary sort key for task listings. Unknown statuses sort last.
func (s Status) Rank() int {
	for i, known := range Statuses {
		if s == known {
			return i + 1
		}
	}
	return 99
}

// ParseStatus normalizes form input. Empty or unknown values become inbox.
func ParseStatus(raw string) Status {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	return StatusInbox
}

// Task is a single actionable item.
type Task struct {
	ID        int64
	Title     string
	Status    Status
	Priority  int
	DueDate   string // free-form YYYY-MM-DD, empty when unset
	Notes     string
	Source    string
	CreatedAt string
	UpdatedAt string
}

// NewTask holds the fields accepted when creating a task.
type NewTask struct {
	Title    string `validate:"required"`
	Status   Status `validate:"omitempty,oneof=inbox next scheduled waiting done"`
	Priority *int   // nil means DefaultPriority
	DueDate  string
	Notes    string
	Source   string
}

// TaskPatch is a partial update. Nil fields are left untouched; a pointer to
// an empty DueDate or Notes clears the column.
type TaskPatch struct {
	Title    *string
	Status   *Status
	Priority *int
	DueDate  *string
	Notes    *string
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Status == nil && p.Priority == nil && p.DueDate == nil && p.Notes == nil
}

// Apply merges the patch over t and returns the result.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		t.DueDate = *p.DueDate
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	return t
}

// TaskFilter narrows a task listing. A nil Status means any status.
type TaskFilter struct {
	Status *Status
	Query  string
}
