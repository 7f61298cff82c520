package importer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conorfennell/homebase/internal/domain"
	"github.com/conorfennell/homebase/internal/parser"
)

// Repository is the slice of the task store the importer needs.
type Repository interface {
	TaskExistsByTitle(ctx context.Context, title string) (bool, error)
	CreateTask(ctx context.Context, nt domain.NewTask) (int64, error)
}

// ImportFile parses the inbox document at path and reconciles its bullets
// against the task store. A document that cannot be read is an error; a
// candidate that cannot be stored is recorded as failed and the run continues.
func ImportFile(ctx context.Context, repo Repository, p *parser.InboxParser, path string) (*domain.ImportResult, error) {
	slog.Info("Starting inbox import", "path", path)

	candidates, err := p.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inbox %s: %w", path, err)
	}

	result := Import(ctx, repo, candidates)

	slog.Info("inbox import complete",
		"path", path,
		"candidates", len(candidates),
		"imported", result.Imported,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

// Import creates a task for every candidate whose title is not already in the
// store, in any status. Running it twice over the same candidates imports
// nothing the second time.
func Import(ctx context.Context, repo Repository, candidates []domain.Candidate) *domain.ImportResult {
	result := &domain.ImportResult{Details: make([]domain.ImportDetail, 0, len(candidates))}

	for _, c := range candidates {
		detail := domain.ImportDetail{Title: c.Title, Status: c.Status}

		if err := ctx.Err(); err != nil {
			detail.Action = domain.ActionFailed
			detail.Error = err.Error()
			result.Failed++
			result.Details = append(result.Details, detail)
			continue
		}

		exists, err := repo.TaskExistsByTitle(ctx, c.Title)
		switch {
		case err != nil:
			slog.Warn("Failed to check for existing task", "title", c.Title, "error", err)
			detail.Action = domain.ActionFailed
			detail.Error = err.Error()
			result.Failed++
		case exists:
			detail.Action = domain.ActionSkipped
			result.Skipped++
		default:
			id, err := repo.CreateTask(ctx, domain.NewTask{
				Title:  c.Title,
				Status: c.Status,
				Source: c.Source,
			})
			if err != nil {
				slog.Warn("Failed to import task", "title", c.Title, "error", err)
				detail.Action = domain.ActionFailed
				detail.Error = err.Error()
				result.Failed++
				break
			}
			slog.Debug("Imported task", "id", id, "title", c.Title, "status", c.Status)
			detail.Action = domain.ActionImported
			result.Imported++
		}

		result.Details = append(result.Details, detail)
	}

	return result
}
