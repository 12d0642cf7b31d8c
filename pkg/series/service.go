package series

import (
	"context"
	"database/sql"
	"time"

	"github.com/kurabooks/kura/pkg/errcodes"
	"github.com/kurabooks/kura/pkg/models"
	"github.com/kurabooks/kura/pkg/syncutil"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveSeriesOptions struct {
	ID   *int
	Name *string
}

type ListSeriesOptions struct {
	Limit  *int
	Offset *int
	Search *string

	includeTotal bool
}

type UpdateSeriesOptions struct {
	Columns []string
}

// GalleryRelocator moves a gallery's archive to the canonical path implied by
// its current record. The importer's rename satisfies this.
type GalleryRelocator interface {
	Rename(ctx context.Context, gallery *models.Gallery, columns []string) error
}

type Service struct {
	db        *bun.DB
	locks     *syncutil.KeyedMutex
	relocator GalleryRelocator
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db, locks: syncutil.NewKeyedMutex()}
}

// SetRelocator wires in the file mover used after membership or name changes.
// Without one, series operations only touch the catalog.
func (svc *Service) SetRelocator(relocator GalleryRelocator) {
	svc.relocator = relocator
}

// relocate re-reads the gallery and moves its archive to match the series it
// now belongs to. The membership change is already committed, so a failed
// move surfaces as an error without undoing it; the record keeps pointing at
// the file's real location either way.
func (svc *Service) relocate(ctx context.Context, galleryID int) error {
	if svc.relocator == nil {
		return nil
	}

	gallery := &models.Gallery{}
	err := svc.db.NewSelect().
		Model(gallery).
		Where("g.id = ?", galleryID).
		Scan(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(svc.relocator.Rename(ctx, gallery, nil))
}

func (svc *Service) relocateAll(ctx context.Context, galleryIDs []int) error {
	for _, id := range galleryIDs {
		if err := svc.relocate(ctx, id); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (svc *Service) memberGalleryIDs(ctx context.Context, idb bun.IDB, seriesID int) ([]int, error) {
	var ids []int
	err := idb.NewSelect().
		Model((*models.SeriesGallery)(nil)).
		Column("sg.gallery_id").
		Where("sg.series_id = ?", seriesID).
		Order("sg.position ASC").
		Scan(ctx, &ids)
	return ids, errors.WithStack(err)
}

func (svc *Service) CreateSeries(ctx context.Context, series *models.Series) error {
	now := time.Now()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = series.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(series).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveSeries(ctx context.Context, opts RetrieveSeriesOptions) (*models.Series, error) {
	series := &models.Series{}

	q := svc.db.
		NewSelect().
		Model(series).
		ColumnExpr("s.*").
		ColumnExpr("(SELECT COUNT(*) FROM series_galleries sg WHERE sg.series_id = s.id) AS gallery_count").
		ColumnExpr("COALESCE(s.cover_gallery_id, (SELECT sg2.gallery_id FROM series_galleries sg2 WHERE sg2.series_id = s.id ORDER BY sg2.position ASC LIMIT 1)) AS effective_cover_gallery_id")

	if opts.ID != nil {
		q = q.Where("s.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		q = q.Where("s.name = ? COLLATE NOCASE", *opts.Name)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Series")
		}
		return nil, errors.WithStack(err)
	}

	return series, nil
}

func (svc *Service) ListSeries(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, error) {
	s, _, err := svc.listSeriesWithTotal(ctx, opts)
	return s, errors.WithStack(err)
}

func (svc *Service) ListSeriesWithTotal(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, int, error) {
	opts.includeTotal = true
	return svc.listSeriesWithTotal(ctx, opts)
}

func (svc *Service) listSeriesWithTotal(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, int, error) {
	seriesList := []*models.Series{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&seriesList).
		ColumnExpr("s.*").
		ColumnExpr("(SELECT COUNT(*) FROM series_galleries sg WHERE sg.series_id = s.id) AS gallery_count").
		ColumnExpr("COALESCE(s.cover_gallery_id, (SELECT sg2.gallery_id FROM series_galleries sg2 WHERE sg2.series_id = s.id ORDER BY sg2.position ASC LIMIT 1)) AS effective_cover_gallery_id").
		Order("s.name ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if opts.Search != nil {
		q = q.Where("s.name LIKE ?", "%"+*opts.Search+"%")
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return seriesList, total, nil
}

func (svc *Service) UpdateSeries(ctx context.Context, series *models.Series, opts UpdateSeriesOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	renamed := false
	for _, column := range opts.Columns {
		if column == "name" {
			renamed = true
			break
		}
	}

	now := time.Now()
	series.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(series).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Series")
		}
		return errors.WithStack(err)
	}

	// A new name changes every member's canonical path.
	if renamed {
		ids, err := svc.memberGalleryIDs(ctx, svc.db, series.ID)
		if err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(svc.relocateAll(ctx, ids))
	}

	return nil
}

// DeleteSeries removes the series and unassigns its member galleries. The
// galleries themselves are untouched.
func (svc *Service) DeleteSeries(ctx context.Context, id int) error {
	unlock := svc.locks.LockID("series", id)
	defer unlock()

	var memberIDs []int

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		memberIDs, err = svc.memberGalleryIDs(ctx, tx, id)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.NewUpdate().
			Model((*models.Gallery)(nil)).
			Set("series_id = NULL").
			Set("updated_at = ?", time.Now()).
			Where("series_id = ?", id).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = tx.NewDelete().
			Model((*models.SeriesGallery)(nil)).
			Where("series_id = ?", id).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		res, err := tx.NewDelete().
			Model((*models.Series)(nil)).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return errors.WithStack(err)
		}
		if affected == 0 {
			return errcodes.NotFound("Series")
		}

		return nil
	})
	if err != nil {
		return errors.WithStack(err)
	}

	// The former members drop out of the series directory.
	return errors.WithStack(svc.relocateAll(ctx, memberIDs))
}

// FindOrCreate returns the series with the given name, creating it when it
// doesn't exist. Name matching is case-insensitive. Safe to call inside a
// transaction by passing the tx as idb.
func (svc *Service) FindOrCreate(ctx context.Context, idb bun.IDB, name string) (*models.Series, error) {
	series := &models.Series{}

	err := idb.NewSelect().
		Model(series).
		Where("s.name = ? COLLATE NOCASE", name).
		Scan(ctx)
	if err == nil {
		return series, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithStack(err)
	}

	now := time.Now()
	series = &models.Series{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = idb.NewInsert().
		Model(series).
		On("CONFLICT (name) DO NOTHING").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if series.ID == 0 {
		// Lost a create race; the row exists now.
		err = idb.NewSelect().
			Model(series).
			Where("s.name = ? COLLATE NOCASE", name).
			Scan(ctx)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return series, nil
}

// Append adds the gallery to the end of the series order. Safe to call inside
// a transaction by passing the tx as idb.
func (svc *Service) Append(ctx context.Context, idb bun.IDB, seriesID, galleryID int) error {
	var maxPosition int
	err := idb.NewSelect().
		Model((*models.SeriesGallery)(nil)).
		ColumnExpr("COALESCE(MAX(sg.position), 0)").
		Where("sg.series_id = ?", seriesID).
		Scan(ctx, &maxPosition)
	if err != nil {
		return errors.WithStack(err)
	}

	membership := &models.SeriesGallery{
		SeriesID:  seriesID,
		GalleryID: galleryID,
		Position:  maxPosition + 1,
	}
	_, err = idb.NewInsert().
		Model(membership).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = idb.NewUpdate().
		Model((*models.Gallery)(nil)).
		Set("series_id = ?", seriesID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", galleryID).
		Exec(ctx)
	return errors.WithStack(err)
}

// AssignGallery adds a gallery to a series at the end of its order. A gallery
// belongs to at most one series, so an existing membership is moved.
func (svc *Service) AssignGallery(ctx context.Context, seriesID, galleryID int) error {
	unlock := svc.locks.LockID("series", seriesID)
	defer unlock()

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Series)(nil)).
			Where("id = ?", seriesID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Series")
		}

		exists, err = tx.NewSelect().
			Model((*models.Gallery)(nil)).
			Where("id = ?", galleryID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Gallery")
		}

		if err := svc.unassignInTx(ctx, tx, galleryID); err != nil {
			return errors.WithStack(err)
		}

		return errors.WithStack(svc.Append(ctx, tx, seriesID, galleryID))
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(svc.relocate(ctx, galleryID))
}

// UnassignGallery removes a gallery from its series, closing the position gap
// it leaves behind. A series with no remaining members is deleted.
func (svc *Service) UnassignGallery(ctx context.Context, galleryID int) error {
	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return svc.unassignInTx(ctx, tx, galleryID)
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(svc.relocate(ctx, galleryID))
}

// UnassignGalleryTx is UnassignGallery for callers that already hold a
// transaction.
func (svc *Service) UnassignGalleryTx(ctx context.Context, idb bun.IDB, galleryID int) error {
	return svc.unassignInTx(ctx, idb, galleryID)
}

// UnassignFromSeries removes a gallery from the given series specifically,
// failing when the gallery isn't a member of it.
func (svc *Service) UnassignFromSeries(ctx context.Context, seriesID, galleryID int) error {
	unlock := svc.locks.LockID("series", seriesID)
	defer unlock()

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		member, err := tx.NewSelect().
			Model((*models.SeriesGallery)(nil)).
			Where("series_id = ? AND gallery_id = ?", seriesID, galleryID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !member {
			return errcodes.NotFound("Series gallery")
		}

		return svc.unassignInTx(ctx, tx, galleryID)
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(svc.relocate(ctx, galleryID))
}

func (svc *Service) unassignInTx(ctx context.Context, tx bun.IDB, galleryID int) error {
	membership := &models.SeriesGallery{}
	err := tx.NewSelect().
		Model(membership).
		Where("sg.gallery_id = ?", galleryID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.WithStack(err)
	}

	_, err = tx.NewDelete().
		Model((*models.SeriesGallery)(nil)).
		Where("series_id = ? AND gallery_id = ?", membership.SeriesID, galleryID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	// Close the gap so positions stay contiguous.
	_, err = tx.NewUpdate().
		Model((*models.SeriesGallery)(nil)).
		Set("position = position - 1").
		Where("series_id = ?", membership.SeriesID).
		Where("position > ?", membership.Position).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	_, err = tx.NewUpdate().
		Model((*models.Gallery)(nil)).
		Set("series_id = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", galleryID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	// Clear the cover reference if it pointed at the removed gallery.
	_, err = tx.NewUpdate().
		Model((*models.Series)(nil)).
		Set("cover_gallery_id = NULL").
		Where("id = ?", membership.SeriesID).
		Where("cover_gallery_id = ?", galleryID).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	remaining, err := tx.NewSelect().
		Model((*models.SeriesGallery)(nil)).
		Where("series_id = ?", membership.SeriesID).
		Count(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if remaining == 0 {
		_, err = tx.NewDelete().
			Model((*models.Series)(nil)).
			Where("id = ?", membership.SeriesID).
			Exec(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// SetOrder replaces the series' manual order. The given gallery ids must be
// exactly the current members, each appearing once; otherwise the current
// order is kept and an error describing the mismatch is returned.
func (svc *Service) SetOrder(ctx context.Context, seriesID int, galleryIDs []int) error {
	unlock := svc.locks.LockID("series", seriesID)
	defer unlock()

	err := svc.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		memberships := []*models.SeriesGallery{}
		err := tx.NewSelect().
			Model(&memberships).
			Where("sg.series_id = ?", seriesID).
			Scan(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if len(memberships) == 0 {
			return errcodes.NotFound("Series")
		}

		current := map[int]bool{}
		for _, m := range memberships {
			current[m.GalleryID] = true
		}

		if len(galleryIDs) != len(memberships) {
			return errcodes.OrderMismatch("The ordered gallery ids don't match the series members.")
		}
		seen := map[int]bool{}
		for _, id := range galleryIDs {
			if !current[id] {
				return errcodes.OrderMismatch("The ordered gallery ids don't match the series members.")
			}
			if seen[id] {
				return errcodes.OrderMismatch("A gallery id appears more than once in the order.")
			}
			seen[id] = true
		}

		for position, galleryID := range galleryIDs {
			_, err := tx.NewUpdate().
				Model((*models.SeriesGallery)(nil)).
				Set("position = ?", position+1).
				Where("series_id = ? AND gallery_id = ?", seriesID, galleryID).
				Exec(ctx)
			if err != nil {
				return errors.WithStack(err)
			}
		}

		return nil
	})
	return errors.WithStack(err)
}

// SetCover designates a member gallery as the series cover.
func (svc *Service) SetCover(ctx context.Context, seriesID, galleryID int) error {
	member, err := svc.db.NewSelect().
		Model((*models.SeriesGallery)(nil)).
		Where("series_id = ? AND gallery_id = ?", seriesID, galleryID).
		Exists(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if !member {
		return errcodes.InvalidState("The cover gallery must be a member of the series.")
	}

	series := &models.Series{ID: seriesID, CoverGalleryID: &galleryID}
	return errors.WithStack(svc.UpdateSeries(ctx, series, UpdateSeriesOptions{
		Columns: []string{"cover_gallery_id"},
	}))
}

// ListSeriesGalleries returns the series' galleries in manual order.
func (svc *Service) ListSeriesGalleries(ctx context.Context, seriesID int) ([]*models.Gallery, error) {
	memberships := []*models.SeriesGallery{}
	err := svc.db.NewSelect().
		Model(&memberships).
		Relation("Gallery").
		Where("sg.series_id = ?", seriesID).
		Order("sg.position ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	galleries := make([]*models.Gallery, 0, len(memberships))
	for _, m := range memberships {
		if m.Gallery != nil {
			galleries = append(galleries, m.Gallery)
		}
	}
	return galleries, nil
}
