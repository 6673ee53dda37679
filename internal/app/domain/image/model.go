// Package image defines the stored-image domain model.
package image

import "time"

// Image describes a stored source image. The raw bytes live in the blob
// store under BlobName; this record carries only metadata.
type Image struct {
	ID          string    `json:"id" db:"id"`
	BlobName    string    `json:"blob_name" db:"blob_name"`
	ContentType string    `json:"content_type" db:"content_type"`
	ByteSize    int64     `json:"byte_size" db:"byte_size"`
	SHA256      string    `json:"sha256" db:"sha256"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
