package backup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

// snapshotVersion is bumped whenever the snapshot layout changes in a way
// older restores can't read.
const snapshotVersion = 1

// Snapshot is a full export of the catalog. It carries rows with their
// original primary keys so a restore reproduces ids exactly. Archive files
// and thumbnails are not included; galleries whose file is missing after a
// restore are flagged orphaned instead.
type Snapshot struct {
	Version    int       `json:"version"`
	ID         string    `json:"snapshot_id"`
	ExportedAt time.Time `json:"exported_at"`

	Categories      []*models.Category        `json:"categories"`
	Tags            []*models.Tag             `json:"tags"`
	Series          []*models.Series          `json:"series"`
	Galleries       []*models.Gallery         `json:"galleries"`
	GalleryTags     []*models.GalleryTag      `json:"gallery_tags"`
	SeriesGalleries []*models.SeriesGallery   `json:"series_galleries"`
	Progress        []*models.ReadingProgress `json:"reading_progress"`
}

// RestoreResult summarizes what a restore wrote.
type RestoreResult struct {
	Categories int `json:"categories"`
	Tags       int `json:"tags"`
	Series     int `json:"series"`
	Galleries  int `json:"galleries"`
	Orphaned   int `json:"orphaned"`
}

type Service struct {
	db         *bun.DB
	libraryDir string

	// Serializes restores so two concurrent uploads can't interleave their
	// wipe-and-reload windows.
	restoreMu sync.Mutex
}

func NewService(db *bun.DB, libraryDir string) *Service {
	return &Service{
		db:         db,
		libraryDir: libraryDir,
	}
}

// Export reads the whole catalog into a Snapshot. Staging entries are
// transient local state and are deliberately left out.
func (svc *Service) Export(ctx context.Context) (*Snapshot, error) {
	snapshot := &Snapshot{
		Version:         snapshotVersion,
		ID:              uuid.NewString(),
		ExportedAt:      time.Now().UTC(),
		Categories:      []*models.Category{},
		Tags:            []*models.Tag{},
		Series:          []*models.Series{},
		Galleries:       []*models.Gallery{},
		GalleryTags:     []*models.GalleryTag{},
		SeriesGalleries: []*models.SeriesGallery{},
		Progress:        []*models.ReadingProgress{},
	}

	err := svc.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model(&snapshot.Categories).Order("c.id ASC").Scan(ctx); err != nil {
			return errors.WithStack(err)
		}
		if err := tx.NewSelect().Model(&snapshot.Tags).Order("t.id ASC").Scan(ctx); err != nil {
			return errors.WithStack(err)
		}
		if err := tx.NewSelect().Model(&snapshot.Series).Order("s.id ASC").Scan(ctx); err != nil {
			return errors.WithStack(err)
		}
		if err := tx.NewSelect().Model(&snapshot.Galleries).Order("g.id ASC").Scan(ctx); err != nil {
			return errors.WithStack(err)
		}
		if err := tx.NewSelect().Model(&snapshot.GalleryTags).Order("gt.gallery_id ASC", "gt.tag_id ASC").Scan(ctx); err != nil {
			return errors.WithStack(err)
		}
		if err := tx.NewSelect().Model(&snapshot.SeriesGalleries).Order("sg.series_id ASC", "sg.position ASC").Scan(ctx); err != nil {
			return errors.WithStack(err)
		}
		if err := tx.NewSelect().Model(&snapshot.Progress).Order("rp.gallery_id ASC").Scan(ctx); err != nil {
			return errors.WithStack(err)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return snapshot, nil
}

// Restore replaces the entire catalog with the snapshot's contents. It is
// all or nothing: any consistency problem aborts before a single row is
// changed, and any write failure rolls the whole transaction back. Galleries
// whose archive file is missing from the library tree are flagged orphaned
// rather than dropped.
func (svc *Service) Restore(ctx context.Context, snapshot *Snapshot) (*RestoreResult, error) {
	svc.restoreMu.Lock()
	defer svc.restoreMu.Unlock()

	if snapshot.Version != snapshotVersion {
		return nil, errcodes.InvalidState("The backup payload is not a supported version.")
	}
	if err := validateSnapshot(snapshot); err != nil {
		return nil, err
	}

	orphanedIDs := []int{}
	for _, gallery := range snapshot.Galleries {
		if _, err := os.Stat(filepath.Join(svc.libraryDir, gallery.LibraryPath)); err != nil {
			orphanedIDs = append(orphanedIDs, gallery.ID)
		}
	}

	err := svc.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Children first so foreign keys never dangle mid-wipe.
		wipeOrder := []interface{}{
			(*models.ReadingProgress)(nil),
			(*models.SeriesGallery)(nil),
			(*models.GalleryTag)(nil),
			(*models.Gallery)(nil),
			(*models.Series)(nil),
			(*models.Tag)(nil),
			(*models.Category)(nil),
		}
		for _, model := range wipeOrder {
			if _, err := tx.NewDelete().Model(model).Where("1 = 1").Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}

		if len(snapshot.Categories) > 0 {
			if _, err := tx.NewInsert().Model(&snapshot.Categories).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		if len(snapshot.Tags) > 0 {
			if _, err := tx.NewInsert().Model(&snapshot.Tags).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		if len(snapshot.Series) > 0 {
			if _, err := tx.NewInsert().Model(&snapshot.Series).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		if len(snapshot.Galleries) > 0 {
			if _, err := tx.NewInsert().Model(&snapshot.Galleries).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		if len(snapshot.GalleryTags) > 0 {
			if _, err := tx.NewInsert().Model(&snapshot.GalleryTags).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		if len(snapshot.SeriesGalleries) > 0 {
			if _, err := tx.NewInsert().Model(&snapshot.SeriesGalleries).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}
		if len(snapshot.Progress) > 0 {
			if _, err := tx.NewInsert().Model(&snapshot.Progress).Exec(ctx); err != nil {
				return errors.WithStack(err)
			}
		}

		if len(orphanedIDs) > 0 {
			_, err := tx.NewUpdate().
				Model((*models.Gallery)(nil)).
				Set("orphaned = ?", true).
				Set("updated_at = ?", time.Now()).
				Where("id IN (?)", bun.In(orphanedIDs)).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if len(orphanedIDs) > 0 {
		log := logger.FromContext(ctx)
		log.Warn("restore flagged galleries with missing files", logger.Data{
			"orphaned": len(orphanedIDs),
		})
	}

	return &RestoreResult{
		Categories: len(snapshot.Categories),
		Tags:       len(snapshot.Tags),
		Series:     len(snapshot.Series),
		Galleries:  len(snapshot.Galleries),
		Orphaned:   len(orphanedIDs),
	}, nil
}

// validateSnapshot rejects snapshots that would violate catalog invariants
// before any row is touched.
func validateSnapshot(snapshot *Snapshot) error {
	categoryIDs := map[int]bool{}
	for _, category := range snapshot.Categories {
		categoryIDs[category.ID] = true
	}
	tagIDs := map[int]bool{}
	for _, tag := range snapshot.Tags {
		tagIDs[tag.ID] = true
	}
	seriesIDs := map[int]bool{}
	for _, series := range snapshot.Series {
		seriesIDs[series.ID] = true
	}

	galleryIDs := map[int]bool{}
	libraryPaths := map[string]bool{}
	for _, gallery := range snapshot.Galleries {
		if galleryIDs[gallery.ID] {
			return errcodes.ConsistencyError("The backup contains duplicate gallery ids.")
		}
		galleryIDs[gallery.ID] = true

		if libraryPaths[gallery.LibraryPath] {
			return errcodes.ConsistencyError("The backup contains duplicate library paths.")
		}
		libraryPaths[gallery.LibraryPath] = true

		if gallery.CategoryID != nil && !categoryIDs[*gallery.CategoryID] {
			return errcodes.ConsistencyError("The backup references a category that isn't part of the snapshot.")
		}
		if gallery.SeriesID != nil && !seriesIDs[*gallery.SeriesID] {
			return errcodes.ConsistencyError("The backup references a series that isn't part of the snapshot.")
		}
	}

	for _, series := range snapshot.Series {
		if series.CoverGalleryID != nil && !galleryIDs[*series.CoverGalleryID] {
			return errcodes.ConsistencyError("The backup references a cover gallery that isn't part of the snapshot.")
		}
	}
	for _, galleryTag := range snapshot.GalleryTags {
		if !galleryIDs[galleryTag.GalleryID] || !tagIDs[galleryTag.TagID] {
			return errcodes.ConsistencyError("The backup references a gallery tag that isn't part of the snapshot.")
		}
	}
	for _, membership := range snapshot.SeriesGalleries {
		if !seriesIDs[membership.SeriesID] || !galleryIDs[membership.GalleryID] {
			return errcodes.ConsistencyError("The backup references a series membership that isn't part of the snapshot.")
		}
	}
	for _, progress := range snapshot.Progress {
		if !galleryIDs[progress.GalleryID] {
			return errcodes.ConsistencyError("The backup references reading progress for a gallery that isn't part of the snapshot.")
		}
	}

	return nil
}
