package galleries

type ListGalleriesQuery struct {
	Limit      int     `query:"limit" json:"limit,omitempty" default:"24" validate:"min=1,max=100"`
	Offset     int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Search     *string `query:"search" json:"search,omitempty" validate:"omitempty,max=100"`
	SeriesID   *int    `query:"series_id" json:"series_id,omitempty" validate:"omitempty,min=1"`
	CategoryID *int    `query:"category_id" json:"category_id,omitempty" validate:"omitempty,min=1"`
	Tag        *string `query:"tag" json:"tag,omitempty" validate:"omitempty,max=100"`
	Orphaned   *bool   `query:"orphaned" json:"orphaned,omitempty"`
}

type UpdateGalleryPayload struct {
	Title            *string   `json:"title,omitempty" mod:"trim" validate:"omitempty,min=1,max=300"`
	Artist           *string   `json:"artist,omitempty" mod:"trim" validate:"omitempty,min=1,max=300"`
	Circle           *string   `json:"circle,omitempty" mod:"trim" validate:"omitempty,max=300"`
	Parody           *string   `json:"parody,omitempty" mod:"trim" validate:"omitempty,max=300"`
	Description      *string   `json:"description,omitempty" validate:"omitempty,max=2000"`
	ReadingDirection *string   `json:"reading_direction,omitempty" validate:"omitempty,reading_direction"`
	Category         *string   `json:"category,omitempty" mod:"trim" validate:"omitempty,max=100"`
	Tags             *[]string `json:"tags,omitempty" validate:"omitempty,max=100,dive,max=100"`
}
