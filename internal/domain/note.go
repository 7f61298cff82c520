package domain

import "strings"

// Note is a free-text memory with canonical tags.
type Note struct {
	ID        int64
	Title     string
	Body      string
	Tags      string
	CreatedAt string
	UpdatedAt string
	Rank      float64 // bm25 score, only set by search
}

// TagList splits the canonical tag string back into its parts.
func (n Note) TagList() []string {
	if n.Tags == "" {
		return nil
	}
	return strings.Split(n.Tags, ", ")
}

// NewNote holds the fields accepted when creating a note.
type NewNote struct {
	Title string `validate:"required"`
	Body  string `validate:"required"`
	Tags  string
}
