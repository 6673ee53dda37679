// Package images handles intake and retrieval of uploaded image bytes.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lenslab/vision-gateway/internal/app/domain/image"
	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/azure/blob"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

var (
	// ErrEmptyImage is returned for uploads with no bytes.
	ErrEmptyImage = errors.New("image data is empty")
	// ErrTooLarge is returned when an upload exceeds the configured cap.
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrUnsupportedType is returned when the sniffed content type is not an
	// accepted image format, or contradicts the declared type.
	ErrUnsupportedType = errors.New("unsupported image type")
)

// DefaultMaxBytes caps uploads at 4 MiB, the limit the vision API accepts
// for synchronous analysis.
const DefaultMaxBytes = 4 << 20

// allowedTypes maps accepted sniffed content types to blob name extensions.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/webp": ".webp",
}

// Service stores image bytes in the blob store and their metadata in the
// image store.
type Service struct {
	store    storage.ImageStore
	blobs    blob.Store
	maxBytes int64
	log      *logger.Logger
}

// Option customises the service.
type Option func(*Service)

// WithMaxBytes overrides the upload size cap.
func WithMaxBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// New constructs an image service.
func New(store storage.ImageStore, blobs blob.Store, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("images")
	}
	s := &Service{
		store:    store,
		blobs:    blobs,
		maxBytes: DefaultMaxBytes,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxBytes reports the configured upload cap.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Upload validates, stores and records one image. The content type is sniffed
// from the bytes; a declared type is only checked for contradiction, never
// trusted.
func (s *Service) Upload(ctx context.Context, data []byte, declaredType string) (image.Image, error) {
	if len(data) == 0 {
		return image.Image{}, ErrEmptyImage
	}
	if int64(len(data)) > s.maxBytes {
		return image.Image{}, fmt.Errorf("%w: %d bytes over %d limit", ErrTooLarge, len(data), s.maxBytes)
	}

	sniffed := http.DetectContentType(data)
	ext, ok := allowedTypes[sniffed]
	if !ok {
		return image.Image{}, fmt.Errorf("%w: %s", ErrUnsupportedType, sniffed)
	}
	if declared := normalizeType(declaredType); declared != "" && declared != sniffed {
		return image.Image{}, fmt.Errorf("%w: declared %s, content is %s", ErrUnsupportedType, declared, sniffed)
	}

	digest := sha256.Sum256(data)
	img := image.Image{
		ID:          uuid.NewString(),
		ContentType: sniffed,
		ByteSize:    int64(len(data)),
		SHA256:      hex.EncodeToString(digest[:]),
		CreatedAt:   time.Now().UTC(),
	}
	img.BlobName = img.ID + ext

	if err := s.blobs.Upload(ctx, img.BlobName, sniffed, data); err != nil {
		return image.Image{}, fmt.Errorf("store image bytes: %w", err)
	}

	stored, err := s.store.CreateImage(ctx, img)
	if err != nil {
		if delErr := s.blobs.Delete(ctx, img.BlobName); delErr != nil {
			s.log.WithError(delErr).WithField("blob", img.BlobName).Warn("orphaned blob after failed image record")
		}
		return image.Image{}, err
	}

	s.log.WithField("image_id", stored.ID).
		WithField("content_type", stored.ContentType).
		WithField("bytes", stored.ByteSize).
		Info("image stored")
	return stored, nil
}

// Get returns stored image metadata.
func (s *Service) Get(ctx context.Context, id string) (image.Image, error) {
	return s.store.GetImage(ctx, id)
}

// Content returns the metadata and the original bytes.
func (s *Service) Content(ctx context.Context, id string) (image.Image, []byte, error) {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return image.Image{}, nil, err
	}

	data, err := s.blobs.Download(ctx, img.BlobName)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return image.Image{}, nil, fmt.Errorf("image %s content: %w", id, storage.ErrNotFound)
		}
		return image.Image{}, nil, fmt.Errorf("load image %s content: %w", id, err)
	}
	return img, data, nil
}

// Delete removes the record and its blob. A missing blob is logged, not
// surfaced; the record is the source of truth.
func (s *Service) Delete(ctx context.Context, id string) error {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteImage(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, img.BlobName); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.log.WithError(err).WithField("blob", img.BlobName).Warn("delete image blob")
	}
	s.log.WithField("image_id", id).Info("image deleted")
	return nil
}

func normalizeType(contentType string) string {
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if contentType == "image/jpg" {
		return "image/jpeg"
	}
	return contentType
}
