// Package repository provides the gorm-backed storage of comment threads.
package repository

import (
	"context"
	"log/slog"
	"time"

	"colloquy/internal/models"
	"colloquy/internal/observability"
	"colloquy/internal/thread"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventPublisher broadcasts change events after successful writes. It is used
// when the change feed is not driven by database triggers.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

type commentRepository struct {
	db        *gorm.DB
	scope     models.Scope
	publisher EventPublisher
}

// NewCommentRepository creates the repository of one scope. publisher may be nil.
func NewCommentRepository(db *gorm.DB, scope models.Scope, publisher EventPublisher) thread.Repository {
	return &commentRepository{db: db, scope: scope, publisher: publisher}
}

func (r *commentRepository) comments(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.scope.CommentsTable())
}

func (r *commentRepository) reactions(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.scope.ReactionsTable())
}

func (r *commentRepository) FetchTopLevelComments(
	ctx context.Context, threadID uint, page models.Page,
) ([]models.Comment, error) {
	defer observability.TrackQuery("select_top_level", r.scope.CommentsTable())()

	q := r.comments(ctx).Where("thread_id = ? AND parent_comment_id IS NULL", threadID)
	// The cursor keys on a live counter, so rows whose likes change between
	// pages may be skipped or repeated.
	if page.After != nil {
		q = q.Where("(likes_count < ? OR (likes_count = ? AND id > ?))",
			page.After.Likes, page.After.Likes, page.After.ID)
	}
	q = q.Order("likes_count DESC, id ASC")
	if page.Limit > 0 {
		q = q.Limit(page.Limit)
	}

	var out []models.Comment
	err := q.Find(&out).Error
	return out, err
}

func (r *commentRepository) FetchReplies(ctx context.Context, threadID, parentID uint) ([]models.Comment, error) {
	defer observability.TrackQuery("select_replies", r.scope.CommentsTable())()

	var out []models.Comment
	err := r.comments(ctx).
		Where("thread_id = ? AND parent_comment_id = ?", threadID, parentID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *commentRepository) FetchRepliesFor(ctx context.Context, parentIDs []uint) ([]models.Comment, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	defer observability.TrackQuery("select_replies_batch", r.scope.CommentsTable())()

	var out []models.Comment
	err := r.comments(ctx).
		Where("parent_comment_id IN ?", parentIDs).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *commentRepository) FetchViewerReaction(
	ctx context.Context, commentID, viewerID uint,
) (*models.Reaction, error) {
	defer observability.TrackQuery("select_reaction", r.scope.ReactionsTable())()

	var rows []models.Reaction
	err := r.reactions(ctx).
		Where("comment_id = ? AND viewer_id = ?", commentID, viewerID).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (r *commentRepository) FetchViewerReactions(
	ctx context.Context, commentIDs []uint, viewerID uint,
) ([]models.Reaction, error) {
	if len(commentIDs) == 0 {
		return nil, nil
	}
	defer observability.TrackQuery("select_reactions_batch", r.scope.ReactionsTable())()

	var out []models.Reaction
	err := r.reactions(ctx).
		Where("viewer_id = ? AND comment_id IN ?", viewerID, commentIDs).
		Find(&out).Error
	return out, err
}

// InsertComment stores a comment. Replies must point at a top-level comment
// of the same thread.
func (r *commentRepository) InsertComment(
	ctx context.Context, threadID, viewerID uint, content string, parentID *uint,
) error {
	if parentID != nil {
		if err := r.checkParent(ctx, threadID, *parentID); err != nil {
			return err
		}
	}

	defer observability.TrackQuery("insert_comment", r.scope.CommentsTable())()

	c := models.Comment{
		ThreadID:        threadID,
		ParentCommentID: parentID,
		Content:         content,
		AuthorID:        viewerID,
	}
	q := r.comments(ctx)
	if r.scope.HasDislikes {
		zero := 0
		c.DislikesCount = &zero
	} else {
		q = q.Omit("DislikesCount")
	}
	if err := q.Create(&c).Error; err != nil {
		return err
	}

	r.publish(ctx, models.ChangeEvent{
		Table:     models.TableComments,
		Op:        models.OpInsert,
		ThreadID:  threadID,
		CommentID: c.ID,
	})
	return nil
}

func (r *commentRepository) checkParent(ctx context.Context, threadID, parentID uint) error {
	var parent []models.Comment
	err := r.comments(ctx).
		Select("id", "thread_id", "parent_comment_id").
		Where("id = ?", parentID).
		Limit(1).
		Find(&parent).Error
	if err != nil {
		return err
	}
	if len(parent) == 0 || parent[0].ThreadID != threadID {
		return models.NewNotFoundError("Comment", parentID)
	}
	if !parent[0].IsTopLevel() {
		return models.NewValidationError("replies can only be added to top-level comments")
	}
	return nil
}

// UpsertReaction creates the viewer's reaction or flips an existing one in a
// single statement.
func (r *commentRepository) UpsertReaction(ctx context.Context, commentID, viewerID uint, isLike bool) error {
	var n int64
	if err := r.comments(ctx).Where("id = ?", commentID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return models.NewNotFoundError("Comment", commentID)
	}

	defer observability.TrackQuery("upsert_reaction", r.scope.ReactionsTable())()

	now := time.Now()
	rx := models.Reaction{
		CommentID: commentID,
		ViewerID:  viewerID,
		IsLike:    isLike,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.reactions(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "comment_id"}, {Name: "viewer_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_like", "updated_at"}),
	}).Create(&rx).Error
	if err != nil {
		return err
	}

	r.publish(ctx, models.ChangeEvent{
		Table:     models.TableReactions,
		Op:        models.OpUpdate,
		CommentID: commentID,
	})
	return nil
}

func (r *commentRepository) DeleteReaction(ctx context.Context, commentID, viewerID uint) error {
	defer observability.TrackQuery("delete_reaction", r.scope.ReactionsTable())()

	res := r.reactions(ctx).
		Where("comment_id = ? AND viewer_id = ?", commentID, viewerID).
		Delete(&models.Reaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	r.publish(ctx, models.ChangeEvent{
		Table:     models.TableReactions,
		Op:        models.OpDelete,
		CommentID: commentID,
	})
	return nil
}

// publish is best effort: the write already succeeded, so a failed broadcast
// only costs subscribers a reload.
func (r *commentRepository) publish(ctx context.Context, ev models.ChangeEvent) {
	if r.publisher == nil {
		return
	}
	ev.Kind = r.scope.Kind
	ev.At = time.Now().UTC()
	if err := r.publisher.Publish(ctx, ev); err != nil {
		observability.ChangeFeedErrors.WithLabelValues("publisher", "publish").Inc()
		observability.Logger.WarnContext(ctx, "failed to publish change event",
			slog.String("kind", r.scope.String()),
			slog.String("table", string(ev.Table)),
			slog.String("error", err.Error()),
		)
	}
}
