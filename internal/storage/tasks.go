package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/conorfennell/homebase/internal/domain"
)

const taskColumns = `id, title, status, priority, due_date, notes, source, created_at, updated_at`

// listOrder ranks statuses first, then priority, then due date with undated
// tasks last, then most recently touched.
const listOrder = `
	ORDER BY
		CASE status
			WHEN 'inbox' THEN 1
			WHEN 'next' THEN 2
			WHEN 'scheduled' THEN 3
			WHEN 'waiting' THEN 4
			WHEN 'done' THEN 5
			ELSE 99
		END,
		priority ASC,
		COALESCE(due_date, '9999-12-31') ASC,
		updated_at DESC,
		id DESC`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var status string
	var dueDate, notes, source sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &status, &t.Priority, &dueDate, &notes, &source, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	t.DueDate = dueDate.String
	t.Notes = notes.String
	t.Source = source.String
	return t, nil
}

// ListTasks returns tasks matching the filter in board order.
func (db *DB) ListTasks(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, "(title LIKE ? OR notes LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like)
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += listOrder

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task rows: %w", err)
	}
	return tasks, nil
}

// GetTask retrieves a task by id. It returns (nil, nil) when the task does not exist.
func (db *DB) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Task not found
		}
		return nil, fmt.Errorf("failed to find task %d: %w", id, err)
	}
	return &t, nil
}

// CreateTask inserts a new task and returns its id.
// An empty status defaults to inbox and an unset priority to DefaultPriority.
// Any explicit priority, zero or negative included, is stored as given.
func (db *DB) CreateTask(ctx context.Context, nt domain.NewTask) (int64, error) {
	nt.Title = strings.TrimSpace(nt.Title)
	if nt.Status == "" {
		nt.Status = domain.StatusInbox
	}
	priority := domain.DefaultPriority
	if nt.Priority != nil {
		priority = *nt.Priority
	}
	if err := domain.Validate(nt); err != nil {
		return 0, err
	}

	ts := db.timestamp()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO tasks (title, status, priority, due_date, notes, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nt.Title,
		string(nt.Status),
		priority,
		nullString(nt.DueDate),
		nullString(nt.Notes),
		nullString(nt.Source),
		ts,
		ts,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert task %q: %w", nt.Title, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for task %q: %w", nt.Title, err)
	}
	return id, nil
}

// UpdateTask merges patch over the stored task and writes the whole row back.
// It returns false without touching anything when the id is unknown.
//
// The read and the write are separate statements, so two concurrent patches to
// the same row race and the later write wins in full.
func (db *DB) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (bool, error) {
	existing, err := db.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	merged := patch.Apply(*existing)
	merged.Title = strings.TrimSpace(merged.Title)
	if merged.Title == "" {
		return false, &domain.ValidationError{Fields: []string{"title"}}
	}
	merged.UpdatedAt = db.timestamp()

	_, err = db.conn.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, status = ?, priority = ?, due_date = ?, notes = ?, source = ?, updated_at = ?
		WHERE id = ?
	`,
		merged.Title,
		string(merged.Status),
		merged.Priority,
		nullString(merged.DueDate),
		nullString(merged.Notes),
		nullString(merged.Source),
		merged.UpdatedAt,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update task %d: %w", id, err)
	}
	return true, nil
}

// DeleteTask removes a task. Deleting a missing id is a no-op.
func (db *DB) DeleteTask(ctx context.Context, id int64) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	return nil
}

// TaskExistsByTitle reports whether any task, in any status, has exactly this title.
func (db *DB) TaskExistsByTitle(ctx context.Context, title string) (bool, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM tasks WHERE title = ? LIMIT 1", title).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up task title %q: %w", title, err)
	}
	return true, nil
}

// CountTasksByStatus returns the number of tasks in each status.
func (db *DB) CountTasksByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count row: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}
