package database

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"colloquy/internal/models"
	"colloquy/internal/observability"

	"gorm.io/gorm"
)

// Each scope gets its own pair of tables. The row types below only exist to
// give AutoMigrate the right table and index names.

type lessonComment struct {
	models.Comment
}

func (lessonComment) TableName() string { return models.LessonScope.CommentsTable() }

// newsComment has no dislikes column.
type newsComment struct {
	ID              uint      `gorm:"primaryKey"`
	ThreadID        uint      `gorm:"not null;index"`
	ParentCommentID *uint     `gorm:"index"`
	Content         string    `gorm:"type:text;not null"`
	AuthorID        uint      `gorm:"not null;index"`
	LikesCount      int       `gorm:"not null;default:0"`
	CreatedAt       time.Time
}

func (newsComment) TableName() string { return models.NewsScope.CommentsTable() }

type lessonReaction struct {
	models.Reaction
}

func (lessonReaction) TableName() string { return models.LessonScope.ReactionsTable() }

type newsReaction struct {
	models.Reaction
}

func (newsReaction) TableName() string { return models.NewsScope.ReactionsTable() }

func scopeModels(scope models.Scope) []interface{} {
	if scope.HasDislikes {
		return []interface{}{&lessonComment{}, &lessonReaction{}}
	}
	return []interface{}{&newsComment{}, &newsReaction{}}
}

// Migrate creates the comment and reaction tables of every scope. On
// PostgreSQL it also installs the triggers that maintain the aggregate
// counters and publish change notifications.
func Migrate(db *gorm.DB) error {
	for _, scope := range models.Scopes() {
		if err := db.AutoMigrate(scopeModels(scope)...); err != nil {
			return fmt.Errorf("migrate %s: %w", scope, err)
		}

		// At most one reaction per (comment, viewer); upserts conflict on it.
		idx := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_comment_viewer ON %[1]s (comment_id, viewer_id)",
			scope.ReactionsTable(),
		)
		if err := db.Exec(idx).Error; err != nil {
			return fmt.Errorf("create reaction index for %s: %w", scope, err)
		}

		if db.Dialector.Name() != "postgres" {
			continue
		}
		for _, stmt := range triggerSQL(scope) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("install triggers for %s: %w", scope, err)
			}
		}
		observability.Logger.Debug("comment triggers installed", slog.String("kind", scope.String()))
	}
	return nil
}

// triggerSQL returns the statements installing the counter and notify
// triggers of one scope.
func triggerSQL(scope models.Scope) []string {
	comments, reactions, kind := scope.CommentsTable(), scope.ReactionsTable(), scope.String()

	delta := func(row, sign string) string {
		set := fmt.Sprintf("likes_count = likes_count %[2]s (CASE WHEN %[1]s.is_like THEN 1 ELSE 0 END)", row, sign)
		if scope.HasDislikes {
			set += fmt.Sprintf(", dislikes_count = dislikes_count %[2]s (CASE WHEN %[1]s.is_like THEN 0 ELSE 1 END)", row, sign)
		}
		return fmt.Sprintf("UPDATE %s SET %s WHERE id = %s.comment_id;", comments, set, row)
	}

	counter := fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s_count() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'INSERT' THEN
		%[2]s
	ELSIF TG_OP = 'DELETE' THEN
		%[3]s
	ELSIF NEW.is_like IS DISTINCT FROM OLD.is_like THEN
		%[3]s
		%[2]s
	END IF;
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`, reactions, delta("NEW", "+"), delta("OLD", "-"))

	notify := func(table string, changeTable models.ChangeTable, fields string) string {
		return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s_notify() RETURNS trigger AS $$
DECLARE
	r RECORD;
BEGIN
	IF TG_OP = 'DELETE' THEN r := OLD; ELSE r := NEW; END IF;
	PERFORM pg_notify('%[2]s', json_build_object(
		'kind', '%[3]s',
		'table', '%[4]s',
		'op', lower(TG_OP),
		%[5]s,
		'at', now()
	)::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`, table, models.ChangeNotifyChannel, kind, changeTable, fields)
	}

	trigger := func(name, table, fn string) []string {
		return []string{
			fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", name, table),
			fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s()", name, table, fn),
		}
	}

	stmts := []string{
		counter,
		notify(comments, models.TableComments, "'thread_id', r.thread_id, 'comment_id', r.id"),
		notify(reactions, models.TableReactions, "'comment_id', r.comment_id"),
	}
	stmts = append(stmts, trigger(reactions+"_count_trg", reactions, reactions+"_count")...)
	stmts = append(stmts, trigger(comments+"_notify_trg", comments, comments+"_notify")...)
	stmts = append(stmts, trigger(reactions+"_notify_trg", reactions, reactions+"_notify")...)
	return stmts
}

// TruncateAll empties every comment table. Used by seeding and tests.
func TruncateAll(db *gorm.DB) error {
	var tables []string
	for _, scope := range models.Scopes() {
		tables = append(tables, scope.ReactionsTable(), scope.CommentsTable())
	}
	if db.Dialector.Name() == "postgres" {
		return db.Exec("TRUNCATE TABLE " + strings.Join(tables, ", ") + " RESTART IDENTITY").Error
	}
	for _, t := range tables {
		if err := db.Exec("DELETE FROM " + t).Error; err != nil {
			return err
		}
	}
	return nil
}
