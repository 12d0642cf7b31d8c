package galleries

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/fileutils"
	"github.com/kurabooks/kura/pkg/importer"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/kurabooks/kura/pkg/series"
	"github.com/kurabooks/kura/pkg/taxonomy"
	"github.com/kurabooks/kura/pkg/thumbnails"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

type RetrieveGalleryOptions struct {
	ID *int
}

type ListGalleriesOptions struct {
	Limit      *int
	Offset     *int
	Search     *string
	SeriesID   *int
	CategoryID *int
	Tag        *string
	Orphaned   *bool

	includeTotal bool
}

type UpdateGalleryOptions struct {
	Columns []string

	// Tags replaces the gallery's tag set when non-nil.
	Tags *[]string
}

type Service struct {
	db               *bun.DB
	importService    *importer.Service
	seriesService    *series.Service
	taxonomyService  *taxonomy.Service
	thumbnailService *thumbnails.Service
	libraryDir       string
}

func NewService(db *bun.DB, importService *importer.Service, seriesService *series.Service, taxonomyService *taxonomy.Service, thumbnailService *thumbnails.Service, libraryDir string) *Service {
	return &Service{
		db:               db,
		importService:    importService,
		seriesService:    seriesService,
		taxonomyService:  taxonomyService,
		thumbnailService: thumbnailService,
		libraryDir:       libraryDir,
	}
}

func (svc *Service) RetrieveGallery(ctx context.Context, opts RetrieveGalleryOptions) (*models.Gallery, error) {
	gallery := &models.Gallery{}

	q := svc.db.
		NewSelect().
		Model(gallery).
		Relation("Category").
		Relation("Series").
		Relation("Tags").
		Relation("Progress")

	if opts.ID != nil {
		q = q.Where("g.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Gallery")
		}
		return nil, errors.WithStack(err)
	}

	return gallery, nil
}

func (svc *Service) ListGalleries(ctx context.Context, opts ListGalleriesOptions) ([]*models.Gallery, error) {
	g, _, err := svc.listGalleriesWithTotal(ctx, opts)
	return g, errors.WithStack(err)
}

func (svc *Service) ListGalleriesWithTotal(ctx context.Context, opts ListGalleriesOptions) ([]*models.Gallery, int, error) {
	opts.includeTotal = true
	return svc.listGalleriesWithTotal(ctx, opts)
}

func (svc *Service) listGalleriesWithTotal(ctx context.Context, opts ListGalleriesOptions) ([]*models.Gallery, int, error) {
	galleries := []*models.Gallery{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&galleries).
		Relation("Category").
		Relation("Series").
		Relation("Tags").
		Order("g.title ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Search != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("g.title LIKE ?", "%"+*opts.Search+"%").
				WhereOr("g.artist LIKE ?", "%"+*opts.Search+"%")
		})
	}
	if opts.SeriesID != nil {
		q = q.Where("g.series_id = ?", *opts.SeriesID)
	}
	if opts.CategoryID != nil {
		q = q.Where("g.category_id = ?", *opts.CategoryID)
	}
	if opts.Tag != nil {
		q = q.Where("EXISTS (SELECT 1 FROM gallery_tags gt JOIN tags t ON t.id = gt.tag_id WHERE gt.gallery_id = g.id AND t.name = ? COLLATE NOCASE)", *opts.Tag)
	}
	if opts.Orphaned != nil {
		q = q.Where("g.orphaned = ?", *opts.Orphaned)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return galleries, total, nil
}

// UpdateGallery persists the given columns. Changes to title or artist move
// the archive to its new canonical path, so those go through the importer's
// rename; everything else is a plain update.
func (svc *Service) UpdateGallery(ctx context.Context, gallery *models.Gallery, opts UpdateGalleryOptions) error {
	if opts.Tags != nil {
		err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
			return svc.taxonomyService.ReplaceGalleryTags(ctx, tx, gallery.ID, *opts.Tags)
		})
		if err != nil {
			return errors.WithStack(err)
		}
	}

	if len(opts.Columns) == 0 {
		return nil
	}

	pathAffecting := false
	for _, column := range opts.Columns {
		if column == "title" || column == "artist" {
			pathAffecting = true
			break
		}
	}

	if pathAffecting {
		return errors.WithStack(svc.importService.Rename(ctx, gallery, opts.Columns))
	}

	gallery.UpdatedAt = time.Now()
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(gallery).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Gallery")
		}
		return errors.WithStack(err)
	}

	return nil
}

// DeleteGallery removes the catalog record and then the archive and thumbnail
// from disk. Series membership is closed up, and reading progress goes with
// the record.
func (svc *Service) DeleteGallery(ctx context.Context, id int) error {
	log := logger.FromContext(ctx)

	gallery, err := svc.RetrieveGallery(ctx, RetrieveGalleryOptions{ID: &id})
	if err != nil {
		return errors.WithStack(err)
	}

	err = svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := svc.seriesService.UnassignGalleryTx(ctx, tx, id); err != nil {
			return errors.WithStack(err)
		}

		_, err := tx.NewDelete().
			Model((*models.Gallery)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		return errors.WithStack(err)
	})
	if err != nil {
		return errors.WithStack(err)
	}

	// File cleanup is best effort once the record is gone.
	if err := fileutils.RemoveFileAndEmptyParents(svc.libraryDir, gallery.LibraryPath); err != nil {
		log.Err(err).Warn("failed to remove gallery file", logger.Data{"gallery_id": id, "library_path": gallery.LibraryPath})
	}
	if gallery.ThumbnailPath != nil {
		if err := svc.thumbnailService.Remove(*gallery.ThumbnailPath); err != nil {
			log.Err(err).Warn("failed to remove gallery thumbnail", logger.Data{"gallery_id": id})
		}
	}

	return nil
}

// RegenerateThumbnail re-renders the gallery's thumbnail from its archive.
func (svc *Service) RegenerateThumbnail(ctx context.Context, id int, timeout time.Duration) (*models.Gallery, error) {
	gallery, err := svc.RetrieveGallery(ctx, RetrieveGalleryOptions{ID: &id})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	thumbCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	relPath, err := svc.thumbnailService.Generate(thumbCtx, gallery.ID, filepath.Join(svc.libraryDir, gallery.LibraryPath))
	if err != nil {
		return nil, errcodes.IOFailure("The thumbnail could not be generated.")
	}

	gallery.ThumbnailPath = &relPath
	err = svc.UpdateGallery(ctx, gallery, UpdateGalleryOptions{Columns: []string{"thumbnail_path"}})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return gallery, nil
}
