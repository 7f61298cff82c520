package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/homebase/internal/domain"
)

func noteIDs(notes []domain.Note) []int64 {
	ids := make([]int64, 0, len(notes))
	for _, n := range notes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestBuildMatchQuery(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "blank", input: "   ", expected: ""},
		{name: "long token becomes prefix", input: "chose", expected: "chose*"},
		{name: "short tokens stay exact", input: "go ai", expected: "go ai"},
		{name: "three characters is a prefix", input: "sql", expected: "sql*"},
		{name: "quotes stripped", input: `"roadmap" q1`, expected: "roadmap* q1"},
		{name: "only quotes", input: `""`, expected: ""},
		{name: "whitespace collapsed", input: " budget \t\n plan ", expected: "budget* plan*"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, BuildMatchQuery(tc.input))
		})
	}
}

func TestNotes(t *testing.T) {
	ctx := context.Background()

	t.Run("create normalizes tags and search finds it", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.CreateNote(ctx, domain.NewNote{Title: "Decision A", Body: "We chose X", Tags: "roadmap, roadmap"})
		require.NoError(t, err)

		got, err := db.GetNote(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "roadmap", got.Tags)
		assert.Equal(t, []string{"roadmap"}, got.TagList())

		found, err := db.SearchNotes(ctx, "chose", 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{id}, noteIDs(found))

		empty, err := db.SearchNotes(ctx, "", 10)
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})

	t.Run("create rejects blank title or body", func(t *testing.T) {
		db := openTestDB(t)

		_, err := db.CreateNote(ctx, domain.NewNote{Title: " ", Body: "body"})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = db.CreateNote(ctx, domain.NewNote{Title: "title", Body: "\n\t"})
		assert.ErrorIs(t, err, domain.ErrValidation)

		n, err := db.CountNotes(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("get unknown note", func(t *testing.T) {
		db := openTestDB(t)

		got, err := db.GetNote(ctx, 42)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("recent notes newest first and capped", func(t *testing.T) {
		db := openTestDB(t)

		var ids []int64
		for i := 0; i < 5; i++ {
			id, err := db.CreateNote(ctx, domain.NewNote{Title: fmt.Sprintf("note %d", i), Body: "body"})
			require.NoError(t, err)
			ids = append(ids, id)
		}

		recent, err := db.ListRecentNotes(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{ids[4], ids[3], ids[2]}, noteIDs(recent))

		all, err := db.ListRecentNotes(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("tag listing is a case-insensitive substring match", func(t *testing.T) {
		db := openTestDB(t)

		docket, err := db.CreateNote(ctx, domain.NewNote{Title: "Court", Body: "b", Tags: "Docket, legal"})
		require.NoError(t, err)
		docs, err := db.CreateNote(ctx, domain.NewNote{Title: "Docs", Body: "b", Tags: "doc"})
		require.NoError(t, err)
		_, err = db.CreateNote(ctx, domain.NewNote{Title: "Other", Body: "document in body only", Tags: "misc"})
		require.NoError(t, err)

		got, err := db.ListNotesByTag(ctx, " DOC ", 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{docs, docket}, noteIDs(got))

		got, err = db.ListNotesByTag(ctx, "", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("search tokens are ANDed and prefix matched", func(t *testing.T) {
		db := openTestDB(t)

		both, err := db.CreateNote(ctx, domain.NewNote{Title: "Budget planning", Body: "quarterly numbers"})
		require.NoError(t, err)
		_, err = db.CreateNote(ctx, domain.NewNote{Title: "Budget", Body: "annual"})
		require.NoError(t, err)

		got, err := db.SearchNotes(ctx, "budg quarter", 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{both}, noteIDs(got))
	})

	t.Run("search covers tags", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.CreateNote(ctx, domain.NewNote{Title: "Untitled", Body: "plain", Tags: "finance"})
		require.NoError(t, err)

		got, err := db.SearchNotes(ctx, "financ", 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{id}, noteIDs(got))
	})

	t.Run("search ranks more relevant notes first", func(t *testing.T) {
		db := openTestDB(t)

		weak, err := db.CreateNote(ctx, domain.NewNote{Title: "Misc", Body: "one mention of kiwi among many other unrelated words here"})
		require.NoError(t, err)
		strong, err := db.CreateNote(ctx, domain.NewNote{Title: "Kiwi", Body: "kiwi kiwi kiwi"})
		require.NoError(t, err)

		got, err := db.SearchNotes(ctx, "kiwi", 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, []int64{strong, weak}, noteIDs(got))
		assert.LessOrEqual(t, got[0].Rank, got[1].Rank)
	})

	t.Run("index follows updates and deletes", func(t *testing.T) {
		db := openTestDB(t)

		id, err := db.CreateNote(ctx, domain.NewNote{Title: "Vendor", Body: "original wording"})
		require.NoError(t, err)

		_, err = db.conn.Exec("UPDATE notes SET body = 'revised wording' WHERE id = ?", id)
		require.NoError(t, err)

		got, err := db.SearchNotes(ctx, "original", 10)
		require.NoError(t, err)
		assert.Empty(t, got)
		got, err = db.SearchNotes(ctx, "revised", 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{id}, noteIDs(got))

		_, err = db.conn.Exec("DELETE FROM notes WHERE id = ?", id)
		require.NoError(t, err)

		got, err = db.SearchNotes(ctx, "revised", 10)
		require.NoError(t, err)
		assert.Empty(t, got)

		_, err = db.conn.Exec("INSERT INTO notes_fts(notes_fts) VALUES('integrity-check')")
		assert.NoError(t, err)
	})
}

func TestSearchNotesBadQuery(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.CreateNote(ctx, domain.NewNote{Title: "mail setup", Body: "smtp relay notes"})
	require.NoError(t, err)

	testCases := []struct {
		name  string
		input string
	}{
		{name: "hyphenated word", input: "e-mail"},
		{name: "column filter", input: "a:b"},
		{name: "bare operator", input: "AND"},
		{name: "open paren", input: "("},
		{name: "lone star", input: "*"},
		{name: "single quoted", input: "'quoted'"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := db.SearchNotes(ctx, tc.input, 10)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadQuery)
			assert.Nil(t, got)
		})
	}

	t.Run("plain words still search", func(t *testing.T) {
		got, err := db.SearchNotes(ctx, "smtp relay", 10)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})
}
