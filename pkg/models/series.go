package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Series struct {
	bun.BaseModel `bun:"table:series,alias:s"`

	ID             int        `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Name           string     `bun:",nullzero" json:"name"`
	CoverGalleryID *int       `json:"cover_gallery_id,omitempty"`
	Galleries      []*Gallery `bun:"rel:has-many,join:id=series_id" json:"galleries,omitempty"`
	GalleryCount   int        `bun:",scanonly" json:"gallery_count"`

	// EffectiveCoverGalleryID falls back to the first member in order when no
	// cover has been chosen explicitly.
	EffectiveCoverGalleryID *int `bun:",scanonly" json:"effective_cover_gallery_id,omitempty"`
}

// SeriesGallery holds the explicit manual ordering of galleries within a
// series. Positions are contiguous starting at 1, with no holes.
type SeriesGallery struct {
	bun.BaseModel `bun:"table:series_galleries,alias:sg"`

	SeriesID  int      `bun:",pk" json:"series_id"`
	GalleryID int      `bun:",pk" json:"gallery_id"`
	Gallery   *Gallery `bun:"rel:belongs-to,join:gallery_id=id" json:"-"`
	Position  int      `json:"position"`
}
