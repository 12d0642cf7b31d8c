// Package importer moves staged archives into the canonical library tree and
// creates their catalog records, with rollback when either side fails.
package importer

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/kurabooks/kura/pkg/archive"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/fileutils"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/kurabooks/kura/pkg/series"
	"github.com/kurabooks/kura/pkg/staging"
	"github.com/kurabooks/kura/pkg/syncutil"
	"github.com/kurabooks/kura/pkg/taxonomy"
	"github.com/kurabooks/kura/pkg/thumbnails"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/uptrace/bun"
)

type Config struct {
	LibraryDir       string
	ThumbnailTimeout time.Duration
}

type Service struct {
	db               *bun.DB
	stagingService   *staging.Service
	seriesService    *series.Service
	taxonomyService  *taxonomy.Service
	thumbnailService *thumbnails.Service
	libraryDir       string
	thumbnailTimeout time.Duration
	locks            *syncutil.KeyedMutex
}

func NewService(db *bun.DB, stagingService *staging.Service, seriesService *series.Service, taxonomyService *taxonomy.Service, thumbnailService *thumbnails.Service, cfg Config) *Service {
	return &Service{
		db:               db,
		stagingService:   stagingService,
		seriesService:    seriesService,
		taxonomyService:  taxonomyService,
		thumbnailService: thumbnailService,
		libraryDir:       cfg.LibraryDir,
		thumbnailTimeout: cfg.ThumbnailTimeout,
		locks:            syncutil.NewKeyedMutex(),
	}
}

// LibraryFilePath returns the absolute path of a gallery's archive.
func (svc *Service) LibraryFilePath(gallery *models.Gallery) string {
	return filepath.Join(svc.libraryDir, gallery.LibraryPath)
}

// Import moves the staged archive into the library and creates its gallery
// record. The staging entry must be ready_to_import; only one import can win
// a claim on it. On failure the file is moved back to staging and the entry
// is marked failed so it can be retried.
func (svc *Service) Import(ctx context.Context, entryID int) (*models.Gallery, error) {
	log := logger.FromContext(ctx)

	entry, err := svc.stagingService.RetrieveStagingEntry(ctx, staging.RetrieveStagingEntryOptions{
		ID: &entryID,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if entry.MetadataParsed == nil {
		return nil, errcodes.InvalidState("Staging entry has no confirmed metadata.")
	}

	if err := svc.stagingService.ClaimForImport(ctx, entryID); err != nil {
		return nil, errors.WithStack(err)
	}

	metadata := entry.MetadataParsed
	srcPath := svc.stagingService.StagedFilePath(entry)

	seriesName := ""
	if metadata.Series != nil {
		seriesName = *metadata.Series
	}
	relPath, err := fileutils.LibraryPath(fileutils.LibraryPathOptions{
		Artist:    metadata.Artist,
		Series:    seriesName,
		Title:     metadata.Title,
		Extension: filepath.Ext(entry.Filepath),
	})
	if err != nil {
		svc.markFailed(ctx, entry, err, nil)
		return nil, errors.WithStack(err)
	}

	relPath, err = fileutils.EnsureUniquePath(svc.libraryDir, relPath)
	if err != nil {
		svc.markFailed(ctx, entry, err, nil)
		return nil, errors.WithStack(err)
	}
	dstPath := filepath.Join(svc.libraryDir, relPath)

	pageCount := 0
	if entry.PageCount != nil {
		pageCount = *entry.PageCount
	} else if count, err := archive.PageCount(srcPath); err == nil {
		pageCount = count
	}

	fileSize, err := archive.FileSize(srcPath)
	if err != nil {
		svc.markFailed(ctx, entry, err, nil)
		return nil, errcodes.IOFailure("The staged file could not be read.")
	}

	if err := fileutils.MoveFile(srcPath, dstPath); err != nil {
		log.Err(err).Error("failed to move staged file into library", logger.Data{"filepath": entry.Filepath})
		svc.markFailed(ctx, entry, err, nil)
		return nil, errcodes.IOFailure("The staged file could not be moved into the library.")
	}

	now := time.Now()
	gallery := &models.Gallery{
		Title:            metadata.Title,
		Artist:           metadata.Artist,
		Circle:           metadata.Circle,
		Parody:           metadata.Parody,
		Description:      metadata.Description,
		ReadingDirection: metadata.ReadingDirection,
		LibraryPath:      relPath,
		PageCount:        pageCount,
		FileSize:         fileSize,
		OriginalFilename: filepath.Base(entry.Filepath),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	txErr := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if metadata.Category != nil {
			category, err := svc.taxonomyService.FindOrCreateCategory(ctx, tx, *metadata.Category)
			if err != nil {
				return errors.WithStack(err)
			}
			gallery.CategoryID = &category.ID
		}

		if _, err := tx.NewInsert().Model(gallery).Returning("*").Exec(ctx); err != nil {
			return errors.WithStack(err)
		}

		if seriesName != "" {
			s, err := svc.seriesService.FindOrCreate(ctx, tx, seriesName)
			if err != nil {
				return errors.WithStack(err)
			}
			if err := svc.seriesService.Append(ctx, tx, s.ID, gallery.ID); err != nil {
				return errors.WithStack(err)
			}
			gallery.SeriesID = &s.ID
		}

		if len(metadata.Tags) > 0 {
			if err := svc.taxonomyService.ReplaceGalleryTags(ctx, tx, gallery.ID, metadata.Tags); err != nil {
				return errors.WithStack(err)
			}
		}

		_, err := tx.NewDelete().
			Model((*models.StagingEntry)(nil)).
			Where("id = ?", entry.ID).
			Exec(ctx)
		return errors.WithStack(err)
	})
	if txErr != nil {
		log.Err(txErr).Error("import transaction failed, rolling back file move", logger.Data{"filepath": entry.Filepath})

		if moveBackErr := fileutils.MoveFile(dstPath, srcPath); moveBackErr != nil {
			// The library file could not be returned to staging. Record
			// where it ended up so an operator can reconcile it.
			log.Err(moveBackErr).Error("failed to move file back to staging", logger.Data{"library_path": relPath})
			svc.markFailed(ctx, entry, txErr, pointerutil.String(relPath))
			return nil, errcodes.IOFailure("The import failed and the file could not be returned to staging.")
		}
		fileutils.PruneEmptyParents(svc.libraryDir, filepath.Dir(relPath))

		svc.markFailed(ctx, entry, txErr, nil)
		return nil, errors.WithStack(txErr)
	}

	svc.generateThumbnail(ctx, gallery)

	return gallery, nil
}

// generateThumbnail is best effort: a gallery without a thumbnail is still
// fully imported.
func (svc *Service) generateThumbnail(ctx context.Context, gallery *models.Gallery) {
	log := logger.FromContext(ctx)

	thumbCtx, cancel := context.WithTimeout(ctx, svc.thumbnailTimeout)
	defer cancel()

	relPath, err := svc.thumbnailService.Generate(thumbCtx, gallery.ID, svc.LibraryFilePath(gallery))
	if err != nil {
		log.Err(err).Warn("failed to generate thumbnail", logger.Data{"gallery_id": gallery.ID})
		return
	}

	gallery.ThumbnailPath = &relPath
	_, err = svc.db.NewUpdate().
		Model(gallery).
		Column("thumbnail_path", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		log.Err(err).Warn("failed to record thumbnail path", logger.Data{"gallery_id": gallery.ID})
	}
}

func (svc *Service) markFailed(ctx context.Context, entry *models.StagingEntry, cause error, orphanedPath *string) {
	log := logger.FromContext(ctx)

	entry.Status = models.StagingStatusFailed
	entry.LastError = pointerutil.String(cause.Error())
	columns := []string{"status", "last_error"}
	if orphanedPath != nil {
		entry.OrphanedPath = orphanedPath
		columns = append(columns, "orphaned_path")
	}

	err := svc.stagingService.UpdateStagingEntry(ctx, entry, staging.UpdateStagingEntryOptions{
		Columns: columns,
	})
	if err != nil {
		log.Err(err).Error("failed to mark staging entry as failed", logger.Data{"staging_entry_id": entry.ID})
	}
}

// Rename moves a gallery's archive to the canonical path implied by the
// updated model and persists the given columns plus library_path in one
// transaction. When the file move fails the record is left unchanged; when
// the database update fails the move is reverted.
func (svc *Service) Rename(ctx context.Context, gallery *models.Gallery, columns []string) error {
	log := logger.FromContext(ctx)

	unlock := svc.locks.LockID("gallery", gallery.ID)
	defer unlock()

	seriesName := ""
	if gallery.SeriesID != nil {
		s, err := svc.seriesService.RetrieveSeries(ctx, series.RetrieveSeriesOptions{ID: gallery.SeriesID})
		if err != nil {
			return errors.WithStack(err)
		}
		seriesName = s.Name
	}

	wantPath, err := fileutils.LibraryPath(fileutils.LibraryPathOptions{
		Artist:    gallery.Artist,
		Series:    seriesName,
		Title:     gallery.Title,
		Extension: filepath.Ext(gallery.LibraryPath),
	})
	if err != nil {
		return errors.WithStack(err)
	}

	oldPath := gallery.LibraryPath
	moved := false

	if wantPath != oldPath {
		wantPath, err = fileutils.EnsureUniquePath(svc.libraryDir, wantPath)
		if err != nil {
			return errors.WithStack(err)
		}

		err = fileutils.MoveFile(filepath.Join(svc.libraryDir, oldPath), filepath.Join(svc.libraryDir, wantPath))
		if err != nil {
			log.Err(err).Error("failed to move gallery file", logger.Data{"gallery_id": gallery.ID})
			return errcodes.IOFailure("The gallery file could not be moved.")
		}
		moved = true
		gallery.LibraryPath = wantPath
		columns = append(columns, "library_path")
	}

	gallery.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")

	_, txErr := svc.db.NewUpdate().
		Model(gallery).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if txErr != nil {
		if moved {
			if moveBackErr := fileutils.MoveFile(filepath.Join(svc.libraryDir, wantPath), filepath.Join(svc.libraryDir, oldPath)); moveBackErr != nil {
				log.Err(moveBackErr).Error("failed to revert gallery file move", logger.Data{"gallery_id": gallery.ID})
				svc.markOrphaned(ctx, gallery.ID)
				return errcodes.IOFailure("The rename failed and the file move could not be reverted.")
			}
			fileutils.PruneEmptyParents(svc.libraryDir, filepath.Dir(wantPath))
			gallery.LibraryPath = oldPath
		}
		return errors.WithStack(txErr)
	}

	if moved {
		fileutils.PruneEmptyParents(svc.libraryDir, filepath.Dir(oldPath))
	}

	return nil
}

func (svc *Service) markOrphaned(ctx context.Context, galleryID int) {
	log := logger.FromContext(ctx)

	_, err := svc.db.NewUpdate().
		Model((*models.Gallery)(nil)).
		Set("orphaned = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", galleryID).
		Exec(ctx)
	if err != nil {
		log.Err(err).Error("failed to mark gallery as orphaned", logger.Data{"gallery_id": galleryID})
	}
}
