package database

import (
	"strings"
	"testing"

	"colloquy/internal/config"
	"colloquy/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestConfigurePool(t *testing.T) {
	db := openSQLite(t)

	cfg := &config.Config{
		DBMaxOpenConns:    10,
		DBMaxIdleConns:    5,
		DBConnMaxLifetime: 15,
	}

	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestMigrate(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, Migrate(db))
	// Idempotent.
	require.NoError(t, Migrate(db))

	m := db.Migrator()
	for _, scope := range models.Scopes() {
		assert.True(t, m.HasTable(scope.CommentsTable()), scope.CommentsTable())
		assert.True(t, m.HasTable(scope.ReactionsTable()), scope.ReactionsTable())
		assert.True(t, m.HasIndex(scope.ReactionsTable(), "idx_"+scope.ReactionsTable()+"_comment_viewer"))
	}
	assert.True(t, m.HasColumn(&lessonComment{}, "dislikes_count"))
	assert.False(t, m.HasColumn(&newsComment{}, "dislikes_count"))
}

func TestMigrate_UniqueReactionPerViewer(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, Migrate(db))

	table := models.LessonScope.ReactionsTable()
	require.NoError(t, db.Table(table).Create(&models.Reaction{CommentID: 1, ViewerID: 2, IsLike: true}).Error)
	err := db.Table(table).Create(&models.Reaction{CommentID: 1, ViewerID: 2, IsLike: false}).Error
	assert.Error(t, err)
}

func TestTriggerSQL(t *testing.T) {
	lesson := strings.Join(triggerSQL(models.LessonScope), "\n")
	assert.Contains(t, lesson, "dislikes_count = dislikes_count")
	assert.Contains(t, lesson, "pg_notify('"+models.ChangeNotifyChannel+"'")
	assert.Contains(t, lesson, "'thread_id', r.thread_id")
	assert.Contains(t, lesson, "ON lesson_comment_reactions FOR EACH ROW")

	news := strings.Join(triggerSQL(models.NewsScope), "\n")
	assert.NotContains(t, news, "dislikes_count")
	assert.Contains(t, news, "UPDATE news_comments SET likes_count")
}

func TestTruncateAll(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, Migrate(db))

	table := models.NewsScope.CommentsTable()
	require.NoError(t, db.Table(table).Omit("DislikesCount").Create(&models.Comment{ThreadID: 1, AuthorID: 1, Content: "x"}).Error)
	require.NoError(t, TruncateAll(db))

	var n int64
	require.NoError(t, db.Table(table).Count(&n).Error)
	assert.Zero(t, n)
}
