package models

// MediaKind is the type of a media asset attached to a segment
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// Valid reports whether k is one of the known kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaAudio:
		return true
	}
	return false
}

// MediaAsset is an illustration or recording owned by exactly one segment
type MediaAsset struct {
	ID          string    `json:"id"`
	Kind        MediaKind `json:"kind"`
	Source      string    `json:"src"`
	Description string    `json:"alt,omitempty"`
}
