package dto

// ToolRequest holds the multipart form fields of a tool call. Fields that do
// not apply to the operation are ignored.
type ToolRequest struct {
	Operation string  `validate:"required,oneof=resize crop compress convert rotate flip upscale"`
	Width     int     `validate:"gte=0,lte=20000"`
	Height    int     `validate:"gte=0,lte=20000"`
	X         int     `validate:"gte=0"`
	Y         int     `validate:"gte=0"`
	Quality   int     `validate:"gte=0,lte=100"`
	Format    string  `validate:"omitempty,oneof=jpeg jpg png gif tiff bmp"`
	Angle     int     `validate:"oneof=0 90 180 270 -90 -180 -270"`
	Direction string  `validate:"omitempty,oneof=horizontal vertical"`
	Scale     float64 `validate:"gte=0,lte=4"`
	Save      bool
}

// SavedFileResponse is returned instead of the file body when the result was saved.
type SavedFileResponse struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int    `json:"size_bytes"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	URL         string `json:"url"`
	ObjectKey   string `json:"object_key"`
}
