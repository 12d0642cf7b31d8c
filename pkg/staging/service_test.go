package staging

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/kurabooks/kura/internal/testgen"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/migrations"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/robinjoseph08/golib/pointerutil"
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

func TestScanCreatesEntries(t *testing.T) {
	db := newTestDB(t)
	stagingDir := t.TempDir()
	svc := NewService(db, stagingDir)
	ctx := context.Background()

	testgen.GenerateArchive(t, stagingDir, "[Artist A] Vol 1.zip", 3)
	testgen.GenerateCorruptArchive(t, stagingDir, "broken.zip")

	result, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)

	entry, err := svc.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{
		Filepath: pointerutil.String("[Artist A] Vol 1.zip"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusMetadataPending, entry.Status)
	require.NotNil(t, entry.SuggestedTitle)
	assert.Equal(t, "Vol 1", *entry.SuggestedTitle)
	require.NotNil(t, entry.SuggestedArtist)
	assert.Equal(t, "Artist A", *entry.SuggestedArtist)
	require.NotNil(t, entry.PageCount)
	assert.Equal(t, 3, *entry.PageCount)
	assert.False(t, entry.NeedsReview)

	broken, err := svc.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{
		Filepath: pointerutil.String("broken.zip"),
	})
	require.NoError(t, err)
	assert.True(t, broken.NeedsReview)
	assert.Nil(t, broken.PageCount)
}

func TestScanIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	stagingDir := t.TempDir()
	svc := NewService(db, stagingDir)
	ctx := context.Background()

	testgen.GenerateArchive(t, stagingDir, "[A] T.zip", 2)

	_, err := svc.Scan(ctx)
	require.NoError(t, err)

	result, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Removed)
}

func TestScanPrunesRemovedFiles(t *testing.T) {
	db := newTestDB(t)
	stagingDir := t.TempDir()
	svc := NewService(db, stagingDir)
	ctx := context.Background()

	path := testgen.GenerateArchive(t, stagingDir, "[A] T.zip", 2)

	_, err := svc.Scan(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	result, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)

	entries, err := svc.ListStagingEntries(ctx, ListStagingEntriesOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScanKeepsImportingEntries(t *testing.T) {
	db := newTestDB(t)
	stagingDir := t.TempDir()
	svc := NewService(db, stagingDir)
	ctx := context.Background()

	// An entry mid-import whose file has already been moved out of staging.
	entry := &models.StagingEntry{
		Filepath: "moving.zip",
		Status:   models.StagingStatusImporting,
	}
	require.NoError(t, svc.CreateStagingEntry(ctx, entry))

	result, err := svc.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)

	_, err = svc.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{ID: &entry.ID})
	require.NoError(t, err)
}

func TestPruneRechecksStatusAtDelete(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	// Simulates an entry claimed for import after a scan listed it: the
	// guarded delete sees the current status and leaves the row alone.
	claimed := &models.StagingEntry{
		Filepath: "claimed.zip",
		Status:   models.StagingStatusImporting,
	}
	require.NoError(t, svc.CreateStagingEntry(ctx, claimed))

	removed, err := svc.pruneStagingEntry(ctx, claimed.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = svc.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{ID: &claimed.ID})
	require.NoError(t, err)

	stale := &models.StagingEntry{
		Filepath: "stale.zip",
		Status:   models.StagingStatusDiscovered,
	}
	require.NoError(t, svc.CreateStagingEntry(ctx, stale))

	removed, err = svc.pruneStagingEntry(ctx, stale.ID)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestApplyMetadata(t *testing.T) {
	db := newTestDB(t)
	stagingDir := t.TempDir()
	svc := NewService(db, stagingDir)
	ctx := context.Background()

	testgen.GenerateArchive(t, stagingDir, "[A] T.zip", 2)
	entry, err := svc.IngestFile(ctx, "[A] T.zip")
	require.NoError(t, err)

	updated, err := svc.ApplyMetadata(ctx, entry.ID, &models.ProposedMetadata{
		Title:  "Vol 1",
		Artist: "Artist A",
		Series: pointerutil.String("Series S"),
		Tags:   []string{"one", "two"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusReadyToImport, updated.Status)

	reloaded, err := svc.RetrieveStagingEntry(ctx, RetrieveStagingEntryOptions{ID: &entry.ID})
	require.NoError(t, err)
	require.NotNil(t, reloaded.MetadataParsed)
	assert.Equal(t, "Vol 1", reloaded.MetadataParsed.Title)
	assert.Equal(t, models.ReadingDirectionLTR, reloaded.MetadataParsed.ReadingDirection)
	assert.Equal(t, []string{"one", "two"}, reloaded.MetadataParsed.Tags)
}

func TestApplyMetadataDedupesTags(t *testing.T) {
	db := newTestDB(t)
	stagingDir := t.TempDir()
	svc := NewService(db, stagingDir)
	ctx := context.Background()

	testgen.GenerateArchive(t, stagingDir, "[A] T.zip", 2)
	entry, err := svc.IngestFile(ctx, "[A] T.zip")
	require.NoError(t, err)

	// Case variants and stray whitespace collapse to one tag.
	updated, err := svc.ApplyMetadata(ctx, entry.ID, &models.ProposedMetadata{
		Title:  "Vol 1",
		Artist: "Artist A",
		Tags:   []string{"Action", "action", " Action ", ""},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.MetadataParsed)
	assert.Equal(t, []string{"Action"}, updated.MetadataParsed.Tags)
}

func TestApplyMetadataWhileImporting(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	entry := &models.StagingEntry{
		Filepath: "busy.zip",
		Status:   models.StagingStatusImporting,
	}
	require.NoError(t, svc.CreateStagingEntry(ctx, entry))

	_, err := svc.ApplyMetadata(ctx, entry.ID, &models.ProposedMetadata{Title: "T", Artist: "A"})
	assert.ErrorIs(t, err, errcodes.InvalidState("Staging entry is currently being imported."))
}

func TestClaimForImport(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	entry := &models.StagingEntry{
		Filepath: "ready.zip",
		Status:   models.StagingStatusReadyToImport,
	}
	require.NoError(t, svc.CreateStagingEntry(ctx, entry))

	require.NoError(t, svc.ClaimForImport(ctx, entry.ID))

	// A second claim loses the race.
	err := svc.ClaimForImport(ctx, entry.ID)
	assert.ErrorIs(t, err, errcodes.InvalidState("Staging entry is not ready to import."))
}

func TestRetry(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	entry := &models.StagingEntry{
		Filepath:  "failed.zip",
		Status:    models.StagingStatusFailed,
		LastError: pointerutil.String("destination move failed"),
		MetadataParsed: &models.ProposedMetadata{
			Title:  "Vol 1",
			Artist: "Artist A",
		},
	}
	require.NoError(t, svc.CreateStagingEntry(ctx, entry))

	updated, err := svc.Retry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StagingStatusReadyToImport, updated.Status)
	assert.Nil(t, updated.LastError)
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, t.TempDir())
	ctx := context.Background()

	entry := &models.StagingEntry{
		Filepath: "fresh.zip",
		Status:   models.StagingStatusDiscovered,
	}
	require.NoError(t, svc.CreateStagingEntry(ctx, entry))

	_, err := svc.Retry(ctx, entry.ID)
	assert.ErrorIs(t, err, errcodes.InvalidState("Only failed staging entries can be retried."))
}
