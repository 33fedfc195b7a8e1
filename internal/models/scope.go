package models

import (
	"fmt"
	"strings"
)

// ThreadKind identifies what a thread hangs off.
type ThreadKind string

const (
	KindLesson ThreadKind = "lesson"
	KindNews   ThreadKind = "news"
)

// Scope describes the storage layout of one thread kind. A single engine is
// instantiated per scope instead of duplicating the comment logic per kind.
type Scope struct {
	Kind ThreadKind
	// HasDislikes is false for news threads, which only expose a likes counter.
	HasDislikes bool
}

// LessonScope and NewsScope are the two supported comment scopes.
var (
	LessonScope = Scope{Kind: KindLesson, HasDislikes: true}
	NewsScope   = Scope{Kind: KindNews, HasDislikes: false}
)

// Scopes lists every known scope.
func Scopes() []Scope {
	return []Scope{LessonScope, NewsScope}
}

// CommentsTable returns the table holding comment rows for this scope.
func (s Scope) CommentsTable() string {
	return string(s.Kind) + "_comments"
}

// ReactionsTable returns the table holding reaction rows for this scope.
func (s Scope) ReactionsTable() string {
	return string(s.Kind) + "_comment_reactions"
}

func (s Scope) String() string {
	return string(s.Kind)
}

// ParseScope resolves a kind name ("lesson", "news") to its scope.
func ParseScope(raw string) (Scope, error) {
	switch ThreadKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindLesson:
		return LessonScope, nil
	case KindNews:
		return NewsScope, nil
	}
	return Scope{}, fmt.Errorf("unknown thread kind %q", raw)
}
