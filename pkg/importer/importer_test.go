package importer

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kurabooks/kura/internal/testgen"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/migrations"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/kurabooks/kura/pkg/series"
	"github.com/kurabooks/kura/pkg/staging"
	"github.com/kurabooks/kura/pkg/taxonomy"
	"github.com/kurabooks/kura/pkg/thumbnails"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type testEnv struct {
	db         *bun.DB
	stagingDir string
	libraryDir string

	stagingService *staging.Service
	seriesService  *series.Service
	importService  *Service
}

func newTestEnv(t *testing.T) *testEnv {
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

	stagingDir := t.TempDir()
	libraryDir := t.TempDir()
	thumbnailDir := t.TempDir()

	stagingService := staging.NewService(db, stagingDir)
	seriesService := series.NewService(db)
	taxonomyService := taxonomy.NewService(db)
	thumbnailService := thumbnails.NewService(thumbnailDir, 400)

	importService := NewService(db, stagingService, seriesService, taxonomyService, thumbnailService, Config{
		LibraryDir:       libraryDir,
		ThumbnailTimeout: 5 * time.Second,
	})

	return &testEnv{
		db:             db,
		stagingDir:     stagingDir,
		libraryDir:     libraryDir,
		stagingService: stagingService,
		seriesService:  seriesService,
		importService:  importService,
	}
}

func (env *testEnv) stageReadyEntry(t *testing.T, filename string, pages int, metadata *models.ProposedMetadata) *models.StagingEntry {
	t.Helper()
	ctx := context.Background()

	testgen.GenerateArchive(t, env.stagingDir, filename, pages)
	entry, err := env.stagingService.IngestFile(ctx, filename)
	require.NoError(t, err)

	entry, err = env.stagingService.ApplyMetadata(ctx, entry.ID, metadata)
	require.NoError(t, err)
	return entry
}

func TestImport(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.stageReadyEntry(t, "foo.zip", 3, &models.ProposedMetadata{
		Title:    "Vol 1",
		Artist:   "Artist A",
		Series:   pointerutil.String("Series S"),
		Category: pointerutil.String("Manga"),
		Tags:     []string{"one", "two"},
	})

	gallery, err := env.importService.Import(ctx, entry.ID)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("Artist A", "Series S", "Vol 1.zip"), gallery.LibraryPath)
	assert.Equal(t, 3, gallery.PageCount)
	assert.Equal(t, "foo.zip", gallery.OriginalFilename)
	assert.Equal(t, models.ReadingDirectionLTR, gallery.ReadingDirection)

	// The file now lives in the library tree, not staging.
	_, err = os.Stat(filepath.Join(env.libraryDir, gallery.LibraryPath))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.stagingDir, "foo.zip"))
	assert.True(t, os.IsNotExist(err))

	// The staging entry is gone.
	_, err = env.stagingService.RetrieveStagingEntry(ctx, staging.RetrieveStagingEntryOptions{ID: &entry.ID})
	assert.ErrorIs(t, err, errcodes.NotFound("Staging entry"))

	// The gallery sits at position 1 of its new series.
	require.NotNil(t, gallery.SeriesID)
	membership := &models.SeriesGallery{}
	err = env.db.NewSelect().Model(membership).Where("sg.gallery_id = ?", gallery.ID).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, *gallery.SeriesID, membership.SeriesID)
	assert.Equal(t, 1, membership.Position)

	// Category and tags were created and linked.
	require.NotNil(t, gallery.CategoryID)
	tagCount, err := env.db.NewSelect().Model((*models.GalleryTag)(nil)).Where("gallery_id = ?", gallery.ID).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tagCount)

	// A thumbnail was recorded.
	reloaded := &models.Gallery{}
	err = env.db.NewSelect().Model(reloaded).Where("g.id = ?", gallery.ID).Scan(ctx)
	require.NoError(t, err)
	assert.NotNil(t, reloaded.ThumbnailPath)
}

func TestImportWithCaseVariantTags(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// "Action" and "action" resolve to the same tag; the gallery is linked
	// to it once and the import still goes through.
	entry := env.stageReadyEntry(t, "foo.zip", 3, &models.ProposedMetadata{
		Title:  "Vol 1",
		Artist: "Artist A",
		Tags:   []string{"Action", "action", "Drama"},
	})

	gallery, err := env.importService.Import(ctx, entry.ID)
	require.NoError(t, err)

	tags := []*models.Tag{}
	err = env.db.NewSelect().Model(&tags).Order("t.name ASC").Scan(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "Action", tags[0].Name)
	assert.Equal(t, "Drama", tags[1].Name)

	linked, err := env.db.NewSelect().Model((*models.GalleryTag)(nil)).Where("gallery_id = ?", gallery.ID).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, linked)
}

func TestImportWithoutSeries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.stageReadyEntry(t, "bar.zip", 2, &models.ProposedMetadata{
		Title:  "Standalone",
		Artist: "Artist B",
	})

	gallery, err := env.importService.Import(ctx, entry.ID)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("Artist B", "Standalone.zip"), gallery.LibraryPath)
	assert.Nil(t, gallery.SeriesID)
}

func TestImportDisambiguatesCollisions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	metadata := &models.ProposedMetadata{
		Title:  "Vol 1",
		Artist: "Artist A",
		Series: pointerutil.String("Series S"),
	}

	first := env.stageReadyEntry(t, "foo.zip", 3, metadata)
	g1, err := env.importService.Import(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("Artist A", "Series S", "Vol 1.zip"), g1.LibraryPath)

	second := env.stageReadyEntry(t, "foo-again.zip", 3, metadata)
	g2, err := env.importService.Import(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("Artist A", "Series S", "Vol 1-2.zip"), g2.LibraryPath)

	// Both files exist in the library.
	_, err = os.Stat(filepath.Join(env.libraryDir, g1.LibraryPath))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.libraryDir, g2.LibraryPath))
	require.NoError(t, err)

	// The second volume was appended after the first.
	membership := &models.SeriesGallery{}
	err = env.db.NewSelect().Model(membership).Where("sg.gallery_id = ?", g2.ID).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, membership.Position)
}

func TestImportRequiresReadyEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	testgen.GenerateArchive(t, env.stagingDir, "foo.zip", 2)
	entry, err := env.stagingService.IngestFile(ctx, "foo.zip")
	require.NoError(t, err)

	_, err = env.importService.Import(ctx, entry.ID)
	assert.ErrorIs(t, err, errcodes.InvalidState("Staging entry has no confirmed metadata."))
}

func TestImportOnlyOneClaimWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.stageReadyEntry(t, "foo.zip", 2, &models.ProposedMetadata{
		Title:  "Vol 1",
		Artist: "Artist A",
	})

	_, err := env.importService.Import(ctx, entry.ID)
	require.NoError(t, err)

	_, err = env.importService.Import(ctx, entry.ID)
	assert.ErrorIs(t, err, errcodes.NotFound("Staging entry"))
}

func TestImportFailureMarksEntryFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.stageReadyEntry(t, "foo.zip", 2, &models.ProposedMetadata{
		Title:  "Vol 1",
		Artist: "Artist A",
	})

	// The staged file disappears before the import runs.
	require.NoError(t, os.Remove(filepath.Join(env.stagingDir, "foo.zip")))

	_, err := env.importService.Import(ctx, entry.ID)
	require.Error(t, err)

	reloaded, err := env.stagingService.RetrieveStagingEntry(ctx, staging.RetrieveStagingEntryOptions{ID: &entry.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusFailed, reloaded.Status)
	assert.NotNil(t, reloaded.LastError)

	// Nothing leaked into the library tree.
	entries, err := os.ReadDir(env.libraryDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRenameMovesFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.stageReadyEntry(t, "foo.zip", 2, &models.ProposedMetadata{
		Title:  "Old Title",
		Artist: "Artist A",
	})
	gallery, err := env.importService.Import(ctx, entry.ID)
	require.NoError(t, err)

	oldPath := gallery.LibraryPath
	gallery.Title = "New Title"
	require.NoError(t, env.importService.Rename(ctx, gallery, []string{"title"}))

	assert.Equal(t, filepath.Join("Artist A", "New Title.zip"), gallery.LibraryPath)
	_, err = os.Stat(filepath.Join(env.libraryDir, gallery.LibraryPath))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.libraryDir, oldPath))
	assert.True(t, os.IsNotExist(err))

	reloaded := &models.Gallery{}
	err = env.db.NewSelect().Model(reloaded).Where("g.id = ?", gallery.ID).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "New Title", reloaded.Title)
	assert.Equal(t, gallery.LibraryPath, reloaded.LibraryPath)
}

func TestRenameMissingFileLeavesRecordUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.stageReadyEntry(t, "foo.zip", 2, &models.ProposedMetadata{
		Title:  "Old Title",
		Artist: "Artist A",
	})
	gallery, err := env.importService.Import(ctx, entry.ID)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(env.libraryDir, gallery.LibraryPath)))

	gallery.Title = "New Title"
	err = env.importService.Rename(ctx, gallery, []string{"title"})
	assert.ErrorIs(t, err, errcodes.IOFailure("The gallery file could not be moved."))

	reloaded := &models.Gallery{}
	err = env.db.NewSelect().Model(reloaded).Where("g.id = ?", gallery.ID).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Old Title", reloaded.Title)
	assert.Equal(t, filepath.Join("Artist A", "Old Title.zip"), reloaded.LibraryPath)
}

func TestResolveInFlightReturnsFileToStaging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.stageReadyEntry(t, "foo.zip", 2, &models.ProposedMetadata{
		Title:  "Vol 1",
		Artist: "Artist A",
	})

	// Simulate a crash after the move but before the transaction: the file
	// is in the library and the entry is stuck importing.
	require.NoError(t, env.stagingService.ClaimForImport(ctx, entry.ID))
	require.NoError(t, os.MkdirAll(filepath.Join(env.libraryDir, "Artist A"), 0755))
	require.NoError(t, os.Rename(
		filepath.Join(env.stagingDir, "foo.zip"),
		filepath.Join(env.libraryDir, "Artist A", "Vol 1.zip"),
	))

	require.NoError(t, env.importService.ResolveInFlight(ctx))

	// The file is back in staging and the entry is retryable.
	_, err := os.Stat(filepath.Join(env.stagingDir, "foo.zip"))
	require.NoError(t, err)

	reloaded, err := env.stagingService.RetrieveStagingEntry(ctx, staging.RetrieveStagingEntryOptions{ID: &entry.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusFailed, reloaded.Status)

	_, err = env.stagingService.Retry(ctx, entry.ID)
	require.NoError(t, err)

	gallery, err := env.importService.Import(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("Artist A", "Vol 1.zip"), gallery.LibraryPath)
}

func TestResolveInFlightInterruptedBeforeMove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entry := env.stageReadyEntry(t, "foo.zip", 2, &models.ProposedMetadata{
		Title:  "Vol 1",
		Artist: "Artist A",
	})
	require.NoError(t, env.stagingService.ClaimForImport(ctx, entry.ID))

	require.NoError(t, env.importService.ResolveInFlight(ctx))

	reloaded, err := env.stagingService.RetrieveStagingEntry(ctx, staging.RetrieveStagingEntryOptions{ID: &entry.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusFailed, reloaded.Status)

	// The staged file never moved.
	_, err = os.Stat(filepath.Join(env.stagingDir, "foo.zip"))
	require.NoError(t, err)
}
