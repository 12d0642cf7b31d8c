package staging

import "mime/multipart"

type ListStagingEntriesQuery struct {
	Limit  int     `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=200"`
	Offset int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status *string `query:"status" json:"status,omitempty" validate:"omitempty,oneof=discovered metadata_pending ready_to_import importing failed"`
}

type UploadPayload struct {
	FormFiles map[string]*multipart.FileHeader `json:"-"`
}

type ApplyMetadataPayload struct {
	Title            string   `json:"title" mod:"trim" validate:"required,max=300"`
	Artist           string   `json:"artist" mod:"trim" validate:"required,max=300"`
	Circle           *string  `json:"circle,omitempty" mod:"trim" validate:"omitempty,max=300"`
	Parody           *string  `json:"parody,omitempty" mod:"trim" validate:"omitempty,max=300"`
	Description      *string  `json:"description,omitempty" validate:"omitempty,max=2000"`
	ReadingDirection string   `json:"reading_direction,omitempty" default:"ltr" validate:"reading_direction"`
	Series           *string  `json:"series,omitempty" mod:"trim" validate:"omitempty,max=300"`
	Category         *string  `json:"category,omitempty" mod:"trim" validate:"omitempty,max=100"`
	Tags             []string `json:"tags,omitempty" validate:"omitempty,max=100,dive,max=100"`
}
