// Package analysis defines the canonical analysis document and its persisted
// record form. Both the vision API path and the multimodal model path emit
// the same Result shape.
package analysis

import "time"

// Mode selects which provider path produced an analysis.
type Mode string

const (
	// ModeClassic calls the vision analysis API.
	ModeClassic Mode = "classic"
	// ModeEnhanced routes the image through the multimodal chat model.
	ModeEnhanced Mode = "enhanced"
)

// Valid reports whether the mode is one of the recognised values.
func (m Mode) Valid() bool {
	return m == ModeClassic || m == ModeEnhanced
}

// Feature names accepted in analysis requests. An empty feature list asks
// for description, tags and objects; "text" additionally requests OCR.
const (
	FeatureDescription = "description"
	FeatureTags        = "tags"
	FeatureObjects     = "objects"
	FeatureText        = "text"
)

// KnownFeature reports whether name is an accepted feature selector.
func KnownFeature(name string) bool {
	switch name {
	case FeatureDescription, FeatureTags, FeatureObjects, FeatureText:
		return true
	}
	return false
}

// Tag is a detected concept with the provider's confidence.
type Tag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Rect is a pixel-space bounding box.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Object is a localised detection.
type Object struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Metadata carries the source image dimensions as reported by the provider.
type Metadata struct {
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
}

// Result is the canonical analysis document returned to clients.
type Result struct {
	Caption    string   `json:"caption"`
	Confidence float64  `json:"confidence"`
	Tags       []Tag    `json:"tags,omitempty"`
	Objects    []Object `json:"objects,omitempty"`
	Text       []string `json:"text,omitempty"`
	Metadata   Metadata `json:"metadata"`
}

// Empty reports whether the result carries no extracted content at all.
func (r Result) Empty() bool {
	return r.Caption == "" && len(r.Tags) == 0 && len(r.Objects) == 0 && len(r.Text) == 0
}

// Record is a persisted analysis.
type Record struct {
	ID        string    `json:"id" db:"id"`
	ImageID   string    `json:"image_id,omitempty" db:"image_id"`
	SourceURL string    `json:"source_url,omitempty" db:"source_url"`
	Mode      Mode      `json:"mode" db:"mode"`
	Language  string    `json:"language" db:"language"`
	Provider  string    `json:"provider" db:"provider"`
	Result    Result    `json:"result"`
	LatencyMS int64     `json:"latency_ms" db:"latency_ms"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
