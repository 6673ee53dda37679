package images

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/lenslab/vision-gateway/internal/app/storage"
	"github.com/lenslab/vision-gateway/internal/app/storage/memory"
	"github.com/lenslab/vision-gateway/internal/azure/blob"
)

var (
	pngBytes  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}
)

func newService(t *testing.T, opts ...Option) (*Service, *blob.Memory) {
	t.Helper()
	blobs := blob.NewMemory()
	return New(memory.New(), blobs, nil, opts...), blobs
}

func TestUploadStoresBytesAndMetadata(t *testing.T) {
	svc, blobs := newService(t)
	ctx := context.Background()

	img, err := svc.Upload(ctx, pngBytes, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if img.ID == "" || img.ContentType != "image/png" || img.ByteSize != int64(len(pngBytes)) {
		t.Fatalf("unexpected metadata: %+v", img)
	}
	if len(img.SHA256) != 64 {
		t.Fatalf("digest not recorded: %q", img.SHA256)
	}
	if blobs.Len() != 1 {
		t.Fatalf("blob not stored")
	}

	stored, data, err := svc.Content(ctx, img.ID)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if stored.ID != img.ID || !bytes.Equal(data, pngBytes) {
		t.Fatalf("content round trip failed")
	}
}

func TestUploadValidation(t *testing.T) {
	svc, _ := newService(t, WithMaxBytes(10))
	ctx := context.Background()

	if _, err := svc.Upload(ctx, nil, ""); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}

	big := make([]byte, 11)
	copy(big, jpegBytes)
	if _, err := svc.Upload(ctx, big, ""); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	if _, err := svc.Upload(ctx, []byte("plain text"), ""); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType for text, got %v", err)
	}
}

func TestUploadDeclaredTypeMismatch(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Upload(ctx, jpegBytes, "image/png"); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected mismatch rejection, got %v", err)
	}

	// image/jpg is a common alias and must be accepted for jpeg bytes.
	if _, err := svc.Upload(ctx, jpegBytes, "image/jpg"); err != nil {
		t.Fatalf("alias declared type rejected: %v", err)
	}
	// Parameters on the declared type are ignored.
	if _, err := svc.Upload(ctx, jpegBytes, "image/jpeg; some=param"); err != nil {
		t.Fatalf("parameterised declared type rejected: %v", err)
	}
}

func TestDeleteRemovesRecordAndBlob(t *testing.T) {
	svc, blobs := newService(t)
	ctx := context.Background()

	img, err := svc.Upload(ctx, jpegBytes, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := svc.Delete(ctx, img.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if blobs.Len() != 0 {
		t.Fatalf("blob not removed")
	}
	if err := svc.Delete(ctx, img.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, _, err := svc.Content(ctx, img.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for content, got %v", err)
	}
}

func TestContentMissingBlobMapsToNotFound(t *testing.T) {
	svc, blobs := newService(t)
	ctx := context.Background()

	img, err := svc.Upload(ctx, pngBytes, "")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := blobs.Delete(ctx, img.BlobName); err != nil {
		t.Fatalf("delete blob: %v", err)
	}

	if _, _, err := svc.Content(ctx, img.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing blob, got %v", err)
	}
}
