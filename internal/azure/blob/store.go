// Package blob stores image bytes. The Azure-backed store is used in
// production; the in-memory store keeps local development and tests free of
// cloud credentials.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	blobsdk "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/lenslab/vision-gateway/internal/httputil"
	"github.com/lenslab/vision-gateway/pkg/logger"
)

// ErrNotFound is returned when the named blob does not exist.
var ErrNotFound = errors.New("blob not found")

// maxDownloadBytes bounds a single blob read. Uploads are capped well below
// this by the image service.
const maxDownloadBytes = 64 << 20

// Store is the persistence surface for raw image bytes.
type Store interface {
	Upload(ctx context.Context, name, contentType string, data []byte) error
	Download(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

// AzureConfig locates one storage account container. An empty AccountKey
// selects credential discovery through the environment (managed identity,
// workload identity, CLI login).
type AzureConfig struct {
	AccountName string
	AccountKey  string
	Container   string
	// Endpoint overrides the default https://<account>.blob.core.windows.net,
	// mainly for the Azurite emulator.
	Endpoint string
}

// AzureStore stores blobs in one Azure Storage container.
type AzureStore struct {
	client    *azblob.Client
	container string
	log       *logger.Logger
}

var _ Store = (*AzureStore)(nil)

// NewAzureStore builds the client and makes sure the container exists.
func NewAzureStore(ctx context.Context, cfg AzureConfig, log *logger.Logger) (*AzureStore, error) {
	if strings.TrimSpace(cfg.AccountName) == "" {
		return nil, fmt.Errorf("storage account name required")
	}
	if strings.TrimSpace(cfg.Container) == "" {
		return nil, fmt.Errorf("storage container required")
	}
	if log == nil {
		log = logger.NewDefault("blob-store")
	}

	serviceURL := strings.TrimSpace(cfg.Endpoint)
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	var client *azblob.Client
	if cfg.AccountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("shared key credential: %w", err)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("blob client: %w", err)
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("default azure credential: %w", err)
		}
		client, err = azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("blob client: %w", err)
		}
	}

	store := &AzureStore{client: client, container: cfg.Container, log: log}
	if err := store.ensureContainer(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *AzureStore) ensureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", s.container, err)
	}
	if err == nil {
		s.log.WithField("container", s.container).Info("storage container created")
	}
	return nil
}

func (s *AzureStore) Upload(ctx context.Context, name, contentType string, data []byte) error {
	opts := &azblob.UploadBufferOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blobsdk.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, name, data, opts); err != nil {
		return fmt.Errorf("upload blob %s: %w", name, err)
	}
	return nil
}

func (s *AzureStore) Download(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("blob %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("download blob %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := httputil.ReadAllStrict(resp.Body, maxDownloadBytes)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", name, err)
	}
	return data, nil
}

func (s *AzureStore) Delete(ctx context.Context, name string) error {
	if _, err := s.client.DeleteBlob(ctx, s.container, name, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("blob %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("delete blob %s: %w", name, err)
	}
	return nil
}
