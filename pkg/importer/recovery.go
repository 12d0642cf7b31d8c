package importer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/kurabooks/kura/pkg/fileutils"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/kurabooks/kura/pkg/staging"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
)

// ResolveInFlight handles staging entries stuck in importing after a crash.
// An importing entry always means the catalog transaction never committed
// (a committed import deletes the entry in the same transaction), so the
// file is returned to staging when we can find it, and the entry is marked
// failed either way so it can be retried or reviewed.
func (svc *Service) ResolveInFlight(ctx context.Context) error {
	log := logger.FromContext(ctx)

	entries, err := svc.stagingService.ListStagingEntries(ctx, staging.ListStagingEntriesOptions{
		Statuses: []string{models.StagingStatusImporting},
	})
	if err != nil {
		return errors.WithStack(err)
	}

	for _, entry := range entries {
		log.Info("resolving interrupted import", logger.Data{"staging_entry_id": entry.ID, "filepath": entry.Filepath})

		srcPath := svc.stagingService.StagedFilePath(entry)
		if _, err := os.Stat(srcPath); err == nil {
			// Crash happened before the file left staging.
			svc.markFailed(ctx, entry, errors.New("import interrupted by restart"), nil)
			continue
		}

		relPath := svc.recomputeLibraryPath(entry)
		if relPath == "" {
			svc.markFailed(ctx, entry, errors.New("import interrupted by restart; staged file not found"), nil)
			continue
		}

		// If an existing gallery already owns the recomputed path, the file
		// there is not ours to move.
		owned, err := svc.db.NewSelect().
			Model((*models.Gallery)(nil)).
			Where("library_path = ?", relPath).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if owned {
			svc.markFailed(ctx, entry, errors.New("import interrupted by restart; file location unknown"), nil)
			continue
		}

		dstPath := filepath.Join(svc.libraryDir, relPath)
		if _, err := os.Stat(dstPath); err != nil {
			// The file is in neither place we'd expect. Flag it for manual
			// reconciliation rather than guessing further.
			svc.markFailed(ctx, entry, errors.New("import interrupted by restart; file location unknown"), pointerutil.String(relPath))
			continue
		}

		if err := fileutils.MoveFile(dstPath, srcPath); err != nil {
			log.Err(err).Error("failed to return interrupted import to staging", logger.Data{"staging_entry_id": entry.ID})
			svc.markFailed(ctx, entry, errors.New("import interrupted by restart; file could not be returned to staging"), pointerutil.String(relPath))
			continue
		}
		fileutils.PruneEmptyParents(svc.libraryDir, filepath.Dir(relPath))

		svc.markFailed(ctx, entry, errors.New("import interrupted by restart"), nil)
	}

	return nil
}

// recomputeLibraryPath rebuilds the destination an interrupted import would
// have used. Collision suffixes can't be reconstructed, so this finds the
// base canonical path only.
func (svc *Service) recomputeLibraryPath(entry *models.StagingEntry) string {
	if entry.MetadataParsed == nil {
		return ""
	}

	seriesName := ""
	if entry.MetadataParsed.Series != nil {
		seriesName = *entry.MetadataParsed.Series
	}

	relPath, err := fileutils.LibraryPath(fileutils.LibraryPathOptions{
		Artist:    entry.MetadataParsed.Artist,
		Series:    seriesName,
		Title:     entry.MetadataParsed.Title,
		Extension: filepath.Ext(entry.Filepath),
	})
	if err != nil {
		return ""
	}
	return relPath
}
