package series

type ListSeriesQuery struct {
	Limit  int     `query:"limit" json:"limit,omitempty" default:"24" validate:"min=1,max=100"`
	Offset int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Search *string `query:"search" json:"search,omitempty" validate:"omitempty,max=100"`
}

type UpdateSeriesPayload struct {
	Name *string `json:"name,omitempty" mod:"trim" validate:"omitempty,min=1,max=300"`
}

type SetOrderPayload struct {
	GalleryIDs []int `json:"gallery_ids" validate:"required,min=1,dive,min=1"`
}

type SetCoverPayload struct {
	GalleryID int `json:"gallery_id" validate:"required,min=1"`
}

type AssignGalleryPayload struct {
	GalleryID int `json:"gallery_id" validate:"required,min=1"`
}
