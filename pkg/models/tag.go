package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:t"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `bun:",nullzero" json:"name"`
}

// GalleryTag is the join table between galleries and tags.
type GalleryTag struct {
	bun.BaseModel `bun:"table:gallery_tags,alias:gt"`

	GalleryID int      `bun:",pk" json:"gallery_id"`
	Gallery   *Gallery `bun:"rel:belongs-to,join:gallery_id=id" json:"-"`
	TagID     int      `bun:",pk" json:"tag_id"`
	Tag       *Tag     `bun:"rel:belongs-to,join:tag_id=id" json:"-"`
}
