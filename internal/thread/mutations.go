package thread

import (
	"context"
	"log/slog"

	"colloquy/internal/identity"
	"colloquy/internal/models"
	"colloquy/internal/observability"
)

// Mutations creates comments and replies. Neither operation returns the
// created comment: it becomes visible on the next successful thread load.
//
// Content is passed through as-is; rejecting empty content is the caller's job.
type Mutations struct {
	scope models.Scope
	repo  Repository
	log   *slog.Logger
}

// NewMutations creates a Mutations pipeline for one scope.
func NewMutations(scope models.Scope, repo Repository, opts ...Option) *Mutations {
	o := buildOptions(opts)
	return &Mutations{scope: scope, repo: repo, log: o.logger}
}

// AddComment inserts a top-level comment.
func (m *Mutations) AddComment(ctx context.Context, threadID uint, viewer *identity.Viewer, content string) error {
	if viewer == nil {
		m.record("add_comment", "auth_required")
		return models.NewAuthRequiredError("comment")
	}
	return m.insert(ctx, "add_comment", threadID, viewer.ID, content, nil)
}

// AddReply inserts a reply under parentID. Whether parentID names a top-level
// comment of the same thread is left to the repository.
func (m *Mutations) AddReply(
	ctx context.Context, threadID, parentID uint, viewer *identity.Viewer, content string,
) error {
	if viewer == nil {
		m.record("add_reply", "auth_required")
		return models.NewAuthRequiredError("reply")
	}
	return m.insert(ctx, "add_reply", threadID, viewer.ID, content, &parentID)
}

func (m *Mutations) insert(
	ctx context.Context, op string, threadID, viewerID uint, content string, parentID *uint,
) error {
	if err := m.repo.InsertComment(ctx, threadID, viewerID, content, parentID); err != nil {
		m.record(op, "error")
		m.log.ErrorContext(ctx, "comment insert failed",
			slog.String("kind", m.scope.String()),
			slog.String("operation", op),
			slog.Uint64("thread_id", uint64(threadID)),
			slog.String("error", err.Error()),
		)
		if models.ErrorCode(err) != "" {
			return err
		}
		return models.NewRepositoryError(err)
	}
	m.record(op, "ok")
	return nil
}

func (m *Mutations) record(op, outcome string) {
	observability.Mutations.WithLabelValues(m.scope.String(), op, outcome).Inc()
}
