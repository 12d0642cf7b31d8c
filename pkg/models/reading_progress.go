package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ReadingProgress records the last viewed page per gallery. A row is created
// lazily on the first page view and cascades with gallery deletion.
type ReadingProgress struct {
	bun.BaseModel `bun:"table:reading_progress,alias:rp"`

	GalleryID int       `bun:",pk" json:"gallery_id"`
	LastPage  int       `json:"last_page"`
	UpdatedAt time.Time `json:"updated_at"`
}
