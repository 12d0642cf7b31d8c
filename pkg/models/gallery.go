package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	ReadingDirectionLTR = "ltr"
	ReadingDirectionRTL = "rtl"
)

// Gallery is the catalog record for a single archive in the library tree.
// LibraryPath is relative to the configured library root and is derived from
// artist/series/title by the importer; it is never set directly.
type Gallery struct {
	bun.BaseModel `bun:"table:galleries,alias:g"`

	ID               int              `bun:",pk,nullzero" json:"id"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Title            string           `bun:",nullzero" json:"title"`
	Artist           string           `bun:",nullzero" json:"artist"`
	Circle           *string          `json:"circle,omitempty"`
	Parody           *string          `json:"parody,omitempty"`
	Description      *string          `json:"description,omitempty"`
	ReadingDirection string           `bun:",nullzero" json:"reading_direction"`
	CategoryID       *int             `json:"category_id,omitempty"`
	Category         *Category        `bun:"rel:belongs-to,join:category_id=id" json:"category,omitempty"`
	SeriesID         *int             `json:"series_id,omitempty"`
	Series           *Series          `bun:"rel:belongs-to,join:series_id=id" json:"series,omitempty"`
	LibraryPath      string           `bun:",nullzero" json:"library_path"`
	ThumbnailPath    *string          `json:"thumbnail_path,omitempty"`
	PageCount        int              `json:"page_count"`
	FileSize         int64            `json:"file_size"`
	OriginalFilename string           `bun:",nullzero" json:"original_filename"`
	Orphaned         bool             `json:"orphaned"`
	Tags             []*Tag           `bun:"m2m:gallery_tags,join:Gallery=Tag" json:"tags,omitempty"`
	Progress         *ReadingProgress `bun:"rel:has-one,join:id=gallery_id" json:"progress,omitempty"`
}

// TagNames returns the gallery's tag names, for snapshot serialization.
func (g *Gallery) TagNames() []string {
	names := make([]string, 0, len(g.Tags))
	for _, t := range g.Tags {
		names = append(names, t.Name)
	}
	return names
}
