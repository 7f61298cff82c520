package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/conorfennell/homebase/internal/domain"
	"github.com/conorfennell/homebase/internal/tags"
)

const (
	// DefaultNoteLimit is used when a listing is requested with no limit.
	DefaultNoteLimit = 50

	// MaxNoteLimit caps every note listing.
	MaxNoteLimit = 500

	// minPrefixLen is the shortest search token that becomes a prefix term.
	minPrefixLen = 3
)

// ErrBadQuery is returned when the full-text engine rejects a search expression.
var ErrBadQuery = errors.New("invalid search query")

const noteColumns = `id, title, body, tags, created_at, updated_at`

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultNoteLimit
	}
	if limit > MaxNoteLimit {
		return MaxNoteLimit
	}
	return limit
}

func scanNote(row rowScanner) (domain.Note, error) {
	var n domain.Note
	err := row.Scan(&n.ID, &n.Title, &n.Body, &n.Tags, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func (db *DB) queryNotes(ctx context.Context, query string, args ...any) ([]domain.Note, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []domain.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate note rows: %w", err)
	}
	return notes, nil
}

// CreateNote stores a new note with canonical tags and returns its id.
func (db *DB) CreateNote(ctx context.Context, nn domain.NewNote) (int64, error) {
	nn.Title = strings.TrimSpace(nn.Title)
	nn.Body = strings.TrimSpace(nn.Body)
	nn.Tags = tags.Normalize(nn.Tags)
	if err := domain.Validate(nn); err != nil {
		return 0, err
	}

	ts := db.timestamp()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO notes (title, body, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, nn.Title, nn.Body, nn.Tags, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to insert note %q: %w", nn.Title, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for note %q: %w", nn.Title, err)
	}
	return id, nil
}

// GetNote retrieves a note by id. It returns (nil, nil) when the note does not exist.
func (db *DB) GetNote(ctx context.Context, id int64) (*domain.Note, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+noteColumns+" FROM notes WHERE id = ?", id)
	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Note not found
		}
		return nil, fmt.Errorf("failed to find note %d: %w", id, err)
	}
	return &n, nil
}

// ListRecentNotes returns the most recently updated notes first.
func (db *DB) ListRecentNotes(ctx context.Context, limit int) ([]domain.Note, error) {
	notes, err := db.queryNotes(ctx,
		"SELECT "+noteColumns+" FROM notes ORDER BY updated_at DESC, id DESC LIMIT ?",
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent notes: %w", err)
	}
	return notes, nil
}

// ListNotesByTag matches tag as a case-insensitive substring of the canonical
// tag string, so "doc" also finds "docket". A blank tag matches nothing.
func (db *DB) ListNotesByTag(ctx context.Context, tag string, limit int) ([]domain.Note, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return []domain.Note{}, nil
	}
	notes, err := db.queryNotes(ctx,
		"SELECT "+noteColumns+" FROM notes WHERE lower(tags) LIKE ? ORDER BY updated_at DESC, id DESC LIMIT ?",
		"%"+tag+"%", clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes by tag %q: %w", tag, err)
	}
	return notes, nil
}

// BuildMatchQuery turns free text into an FTS5 MATCH expression. Double quotes
// are stripped, tokens of three or more characters become prefix terms, and the
// terms are joined with spaces so FTS5 ANDs them.
func BuildMatchQuery(input string) string {
	input = strings.ReplaceAll(input, `"`, "")
	fields := strings.Fields(input)
	terms := make([]string, 0, len(fields))
	for _, tok := range fields {
		if len([]rune(tok)) >= minPrefixLen {
			tok += "*"
		}
		terms = append(terms, tok)
	}
	return strings.Join(terms, " ")
}

// SearchNotes ranks notes by bm25 relevance, best first. A blank query returns
// no notes rather than all of them.
func (db *DB) SearchNotes(ctx context.Context, query string, limit int) ([]domain.Note, error) {
	match := BuildMatchQuery(query)
	if match == "" {
		return []domain.Note{}, nil
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.id, n.title, n.body, n.tags, n.created_at, n.updated_at, bm25(notes_fts) AS rank
		FROM notes_fts
		JOIN notes n ON n.id = notes_fts.rowid
		WHERE notes_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, clampLimit(limit))
	if err != nil {
		if isFTSSyntaxError(err) {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadQuery, match, err)
		}
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	defer rows.Close()

	notes := []domain.Note{}
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Tags, &n.CreatedAt, &n.UpdatedAt, &n.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		if isFTSSyntaxError(err) {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadQuery, match, err)
		}
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return notes, nil
}

// CountNotes returns the number of stored notes.
func (db *DB) CountNotes(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM notes").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return n, nil
}

// isFTSSyntaxError matches the FTS5 query errors as modernc.org/sqlite words
// them; the driver exposes no distinct code for these. TestSearchNotesBadQuery
// pins the inputs that must keep mapping to ErrBadQuery.
func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "fts5: parse error") ||
		strings.Contains(msg, "unterminated string") ||
		strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "unknown special query")
}
