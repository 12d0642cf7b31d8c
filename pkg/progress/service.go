// Package progress tracks the last viewed page per gallery.
package progress

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/kurabooks/kura/pkg/archive"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

type Service struct {
	db         *bun.DB
	libraryDir string
}

func NewService(db *bun.DB, libraryDir string) *Service {
	return &Service{db: db, libraryDir: libraryDir}
}

// Retrieve returns the gallery's reading progress. A gallery that has never
// been opened reports page 0.
func (svc *Service) Retrieve(ctx context.Context, galleryID int) (*models.ReadingProgress, error) {
	if _, err := svc.retrieveGallery(ctx, galleryID); err != nil {
		return nil, errors.WithStack(err)
	}

	progress := &models.ReadingProgress{}
	err := svc.db.NewSelect().
		Model(progress).
		Where("rp.gallery_id = ?", galleryID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ReadingProgress{GalleryID: galleryID, LastPage: 0}, nil
		}
		return nil, errors.WithStack(err)
	}

	return progress, nil
}

// RecordPage stores the last viewed page. The page must fall inside the
// gallery's page range; a stale page count of zero is refreshed from the
// archive before rejecting.
func (svc *Service) RecordPage(ctx context.Context, galleryID, page int) (*models.ReadingProgress, error) {
	gallery, err := svc.retrieveGallery(ctx, galleryID)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	pageCount := gallery.PageCount
	if pageCount == 0 {
		pageCount = svc.refreshPageCount(ctx, gallery)
	}

	if page < 0 || page >= pageCount {
		return nil, errcodes.OutOfRange("Page index is out of range.")
	}

	progress := &models.ReadingProgress{
		GalleryID: galleryID,
		LastPage:  page,
		UpdatedAt: time.Now(),
	}
	_, err = svc.db.NewInsert().
		Model(progress).
		On("CONFLICT (gallery_id) DO UPDATE").
		Set("last_page = EXCLUDED.last_page").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return progress, nil
}

func (svc *Service) retrieveGallery(ctx context.Context, galleryID int) (*models.Gallery, error) {
	gallery := &models.Gallery{}
	err := svc.db.NewSelect().
		Model(gallery).
		Where("g.id = ?", galleryID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Gallery")
		}
		return nil, errors.WithStack(err)
	}
	return gallery, nil
}

// refreshPageCount recounts pages from the archive and persists the result.
// Returns the stored count unchanged when the archive can't be read.
func (svc *Service) refreshPageCount(ctx context.Context, gallery *models.Gallery) int {
	log := logger.FromContext(ctx)

	count, err := archive.PageCount(filepath.Join(svc.libraryDir, gallery.LibraryPath))
	if err != nil {
		log.Err(err).Warn("failed to recount gallery pages", logger.Data{"gallery_id": gallery.ID})
		return gallery.PageCount
	}

	gallery.PageCount = count
	gallery.UpdatedAt = time.Now()
	_, err = svc.db.NewUpdate().
		Model(gallery).
		Column("page_count", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		log.Err(err).Warn("failed to persist refreshed page count", logger.Data{"gallery_id": gallery.ID})
	}

	return count
}
