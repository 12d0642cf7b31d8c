package progress

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/kurabooks/kura/internal/testgen"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/migrations"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.RegisterModel((*models.GalleryTag)(nil))

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func createGallery(t *testing.T, db *bun.DB, pageCount int) *models.Gallery {
	t.Helper()

	now := time.Now()
	gallery := &models.Gallery{
		Title:            "Vol 1",
		Artist:           "Artist A",
		ReadingDirection: models.ReadingDirectionLTR,
		LibraryPath:      "Artist A/Vol 1.zip",
		OriginalFilename: "vol1.zip",
		PageCount:        pageCount,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	_, err := db.NewInsert().Model(gallery).Returning("*").Exec(context.Background())
	require.NoError(t, err)
	return gallery
}

func TestRetrieveDefaultsToPageZero(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	gallery := createGallery(t, db, 3)

	progress, err := svc.Retrieve(ctx, gallery.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, progress.LastPage)
}

func TestRetrieveUnknownGallery(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())

	_, err := svc.Retrieve(context.Background(), 999)
	assert.ErrorIs(t, err, errcodes.NotFound("Gallery"))
}

func TestRecordPage(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	gallery := createGallery(t, db, 3)

	progress, err := svc.RecordPage(ctx, gallery.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.LastPage)

	// Recording again overwrites.
	progress, err = svc.RecordPage(ctx, gallery.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.LastPage)

	reloaded, err := svc.Retrieve(ctx, gallery.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.LastPage)
}

func TestRecordPageOutOfRange(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	gallery := createGallery(t, db, 3)

	_, err := svc.RecordPage(ctx, gallery.ID, 3)
	assert.ErrorIs(t, err, errcodes.OutOfRange("Page index is out of range."))

	_, err = svc.RecordPage(ctx, gallery.ID, -1)
	assert.ErrorIs(t, err, errcodes.OutOfRange("Page index is out of range."))
}

func TestRecordPageRefreshesStalePageCount(t *testing.T) {
	db := newTestDB(t)
	libraryDir := t.TempDir()
	svc := NewService(db, libraryDir)
	ctx := context.Background()

	gallery := createGallery(t, db, 0)
	testgen.GenerateArchive(t, libraryDir, "archive.zip", 4)
	gallery.LibraryPath = "archive.zip"
	_, err := db.NewUpdate().Model(gallery).Column("library_path").WherePK().Exec(ctx)
	require.NoError(t, err)

	progress, err := svc.RecordPage(ctx, gallery.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, progress.LastPage)

	// The refreshed count was persisted.
	reloaded := &models.Gallery{}
	err = db.NewSelect().Model(reloaded).Where("g.id = ?", gallery.ID).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, reloaded.PageCount)
}
