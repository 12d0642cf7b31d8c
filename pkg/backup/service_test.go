package backup

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

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

// seedCatalog inserts a small catalog: one category, one tag, one series with
// two member galleries, and progress on the first gallery. The archive files
// are created under libraryDir so nothing gets flagged orphaned.
func seedCatalog(t *testing.T, db *bun.DB, libraryDir string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	category := &models.Category{Name: "Manga", CreatedAt: now, UpdatedAt: now}
	_, err := db.NewInsert().Model(category).Returning("*").Exec(ctx)
	require.NoError(t, err)

	tag := &models.Tag{Name: "fantasy", CreatedAt: now, UpdatedAt: now}
	_, err = db.NewInsert().Model(tag).Returning("*").Exec(ctx)
	require.NoError(t, err)

	series := &models.Series{Name: "Series S", CreatedAt: now, UpdatedAt: now}
	_, err = db.NewInsert().Model(series).Returning("*").Exec(ctx)
	require.NoError(t, err)

	galleries := []*models.Gallery{}
	for i, title := range []string{"Vol 1", "Vol 2"} {
		gallery := &models.Gallery{
			Title:            title,
			Artist:           "Artist A",
			ReadingDirection: models.ReadingDirectionLTR,
			CategoryID:       &category.ID,
			SeriesID:         &series.ID,
			LibraryPath:      filepath.Join("Artist A", "Series S", title+".zip"),
			OriginalFilename: title + ".zip",
			PageCount:        3,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		_, err = db.NewInsert().Model(gallery).Returning("*").Exec(ctx)
		require.NoError(t, err)
		galleries = append(galleries, gallery)

		path := filepath.Join(libraryDir, gallery.LibraryPath)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("zip"), 0o644))

		membership := &models.SeriesGallery{SeriesID: series.ID, GalleryID: gallery.ID, Position: i + 1}
		_, err = db.NewInsert().Model(membership).Exec(ctx)
		require.NoError(t, err)
	}

	galleryTag := &models.GalleryTag{GalleryID: galleries[0].ID, TagID: tag.ID}
	_, err = db.NewInsert().Model(galleryTag).Exec(ctx)
	require.NoError(t, err)

	progress := &models.ReadingProgress{GalleryID: galleries[0].ID, LastPage: 2, UpdatedAt: now}
	_, err = db.NewInsert().Model(progress).Exec(ctx)
	require.NoError(t, err)
}

func TestExportRestoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	libraryDir := t.TempDir()
	svc := NewService(db, libraryDir)
	ctx := context.Background()

	seedCatalog(t, db, libraryDir)

	snapshot, err := svc.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshotVersion, snapshot.Version)
	require.Len(t, snapshot.Galleries, 2)
	originalIDs := []int{snapshot.Galleries[0].ID, snapshot.Galleries[1].ID}

	// Mangle the live catalog so the restore has something to undo.
	_, err = db.NewDelete().Model((*models.ReadingProgress)(nil)).Where("1 = 1").Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewUpdate().Model((*models.Gallery)(nil)).Set("title = ?", "Clobbered").Where("1 = 1").Exec(ctx)
	require.NoError(t, err)

	result, err := svc.Restore(ctx, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Galleries)
	assert.Equal(t, 1, result.Series)
	assert.Equal(t, 0, result.Orphaned)

	galleries := []*models.Gallery{}
	err = db.NewSelect().Model(&galleries).Order("g.id ASC").Scan(ctx)
	require.NoError(t, err)
	require.Len(t, galleries, 2)
	assert.Equal(t, originalIDs[0], galleries[0].ID)
	assert.Equal(t, originalIDs[1], galleries[1].ID)
	assert.Equal(t, "Vol 1", galleries[0].Title)
	assert.False(t, galleries[0].Orphaned)

	memberships := []*models.SeriesGallery{}
	err = db.NewSelect().Model(&memberships).Order("sg.position ASC").Scan(ctx)
	require.NoError(t, err)
	require.Len(t, memberships, 2)
	assert.Equal(t, originalIDs[0], memberships[0].GalleryID)

	progress := []*models.ReadingProgress{}
	err = db.NewSelect().Model(&progress).Scan(ctx)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	assert.Equal(t, 2, progress[0].LastPage)
}

func TestRestoreFlagsMissingFiles(t *testing.T) {
	db := newTestDB(t)
	libraryDir := t.TempDir()
	svc := NewService(db, libraryDir)
	ctx := context.Background()

	seedCatalog(t, db, libraryDir)

	snapshot, err := svc.Export(ctx)
	require.NoError(t, err)

	removed := snapshot.Galleries[1]
	require.NoError(t, os.Remove(filepath.Join(libraryDir, removed.LibraryPath)))

	result, err := svc.Restore(ctx, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Orphaned)

	reloaded := &models.Gallery{}
	err = db.NewSelect().Model(reloaded).Where("g.id = ?", removed.ID).Scan(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded.Orphaned)

	intact := &models.Gallery{}
	err = db.NewSelect().Model(intact).Where("g.id = ?", snapshot.Galleries[0].ID).Scan(ctx)
	require.NoError(t, err)
	assert.False(t, intact.Orphaned)
}

func TestRestoreRejectsDuplicateLibraryPaths(t *testing.T) {
	db := newTestDB(t)
	libraryDir := t.TempDir()
	svc := NewService(db, libraryDir)
	ctx := context.Background()

	seedCatalog(t, db, libraryDir)

	snapshot, err := svc.Export(ctx)
	require.NoError(t, err)
	snapshot.Galleries[1].LibraryPath = snapshot.Galleries[0].LibraryPath

	_, err = svc.Restore(ctx, snapshot)
	assert.ErrorIs(t, err, errcodes.ConsistencyError("The backup contains duplicate library paths."))

	// The existing catalog is untouched after the aborted restore.
	count, err := db.NewSelect().Model((*models.Gallery)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	titles := []string{}
	err = db.NewSelect().Model((*models.Gallery)(nil)).Column("title").Order("id ASC").Scan(ctx, &titles)
	require.NoError(t, err)
	assert.Equal(t, []string{"Vol 1", "Vol 2"}, titles)
}

func TestRestoreRejectsDanglingReferences(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	now := time.Now()
	snapshot := &Snapshot{
		Version: snapshotVersion,
		Progress: []*models.ReadingProgress{
			{GalleryID: 42, LastPage: 1, UpdatedAt: now},
		},
	}

	_, err := svc.Restore(ctx, snapshot)
	assert.ErrorIs(t, err, errcodes.ConsistencyError("The backup references reading progress for a gallery that isn't part of the snapshot."))
}

func TestRestoreRejectsUnsupportedVersion(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())

	_, err := svc.Restore(context.Background(), &Snapshot{Version: 99})
	assert.ErrorIs(t, err, errcodes.InvalidState("The backup payload is not a supported version."))
}

func TestRestoreIntoEmptyStore(t *testing.T) {
	sourceDB := newTestDB(t)
	libraryDir := t.TempDir()
	sourceSvc := NewService(sourceDB, libraryDir)
	ctx := context.Background()

	seedCatalog(t, sourceDB, libraryDir)

	snapshot, err := sourceSvc.Export(ctx)
	require.NoError(t, err)

	targetDB := newTestDB(t)
	targetSvc := NewService(targetDB, libraryDir)

	result, err := targetSvc.Restore(ctx, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Galleries)
	assert.Equal(t, 1, result.Tags)
	assert.Equal(t, 1, result.Categories)

	count, err := targetDB.NewSelect().Model((*models.GalleryTag)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
