// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// Comment is a single row of a thread. ParentCommentID is nil for top-level
// comments; when set it must point at a top-level comment of the same thread.
//
// LikesCount and DislikesCount are aggregate counters maintained by the store
// (database triggers), never by the application.
type Comment struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ThreadID        uint      `gorm:"not null;index" json:"thread_id"`
	ParentCommentID *uint     `gorm:"index" json:"parent_comment_id"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	AuthorID        uint      `gorm:"not null;index" json:"author_id"`
	LikesCount      int       `gorm:"not null;default:0" json:"likes_count"`
	DislikesCount   *int      `gorm:"default:0" json:"dislikes_count,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsTopLevel reports whether the comment has no parent.
func (c *Comment) IsTopLevel() bool {
	return c.ParentCommentID == nil
}

// Reaction is a viewer's like or dislike on one comment.
// The combination of CommentID and ViewerID must be unique.
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CommentID uint      `gorm:"not null;index" json:"comment_id"`
	ViewerID  uint      `gorm:"not null;index" json:"viewer_id"`
	IsLike    bool      `gorm:"not null" json:"is_like"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
