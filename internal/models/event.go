package models

import "time"

// ChangeNotifyChannel is the Postgres NOTIFY channel row triggers publish
// change events on.
const ChangeNotifyChannel = "colloquy_changes"

// ChangeTable names the row family a ChangeEvent refers to.
type ChangeTable string

const (
	TableComments  ChangeTable = "comments"
	TableReactions ChangeTable = "reactions"
)

// ChangeOp is the row-level operation that produced a ChangeEvent.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is a row-level change notification delivered by a change feed.
// ThreadID is only meaningful for comment events; reaction events are not
// tied to a thread.
type ChangeEvent struct {
	ID        string      `json:"id"`
	Kind      ThreadKind  `json:"kind"`
	Table     ChangeTable `json:"table"`
	Op        ChangeOp    `json:"op"`
	ThreadID  uint        `json:"thread_id,omitempty"`
	CommentID uint        `json:"comment_id,omitempty"`
	At        time.Time   `json:"at"`
}
