package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/config/dto"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// azureAPI is the subset of blob operations the backend uses.
type azureAPI interface {
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
	DownloadStream(ctx context.Context, containerName, blobName string, o *azblob.DownloadStreamOptions) (azblob.DownloadStreamResponse, error)
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
}

type azureClient struct {
	*azblob.Client
}

func (c azureClient) BlobExists(ctx context.Context, containerName, blobName string) (bool, error) {
	blobClient := c.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName)
	_, err := blobClient.GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return false, nil
	}
	return false, err
}

// AzureBackend reads and writes blobs in Azure Blob Storage.
type AzureBackend struct {
	client  azureAPI
	account string
	logger  *zap.Logger
	metrics MetricsCollector
}

// NewAzureBackend creates a new Azure Blob backend from an account key.
func NewAzureBackend(cfg dto.AzureConfig, logger *zap.Logger, metrics MetricsCollector) (*AzureBackend, error) {
	if cfg.AccountName == "" {
		return nil, &errors.ConfigError{Field: "storage.azure.account_name", Reason: "required for azblob:// locations"}
	}

	var connectionString string
	if cfg.Endpoint != "" {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			cfg.AccountName, cfg.AccountKey, cfg.Endpoint)
	} else {
		connectionString = fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
			cfg.AccountName, cfg.AccountKey)
	}

	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	logger.Info("Azure backend created", zap.String("account", cfg.AccountName))

	return newAzureBackend(azureClient{Client: client}, cfg.AccountName, logger, metrics), nil
}

func newAzureBackend(client azureAPI, account string, logger *zap.Logger, metrics MetricsCollector) *AzureBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzureBackend{client: client, account: account, logger: logger, metrics: metrics}
}

// Open starts downloading a blob.
func (b *AzureBackend) Open(ctx context.Context, loc Location) (stream.Source, error) {
	resp, err := b.client.DownloadStream(ctx, loc.Bucket, loc.Key, nil)
	if err != nil {
		b.incErrors("download")
		return nil, &errors.SourceError{Source: loc.String(), Err: err}
	}
	return NewSource(loc.String(), resp.Body), nil
}

// NewSink starts a streaming block blob upload to loc.
func (b *AzureBackend) NewSink(ctx context.Context, loc Location, clobber bool) (stream.Sink, error) {
	if !clobber {
		exists, err := b.client.BlobExists(ctx, loc.Bucket, loc.Key)
		if err != nil {
			b.incErrors("get_properties")
			return nil, &errors.WriteError{Sink: loc.String(), Op: "get_properties", Err: err}
		}
		if exists {
			return nil, &errors.WriteError{
				Sink: loc.String(),
				Op:   "open",
				Err:  fmt.Errorf("%w: %s (use --clobber to overwrite)", errors.ErrDestinationExists, loc),
			}
		}
	}

	upload := func(ctx context.Context, body io.Reader) error {
		if _, err := b.client.UploadStream(ctx, loc.Bucket, loc.Key, body, nil); err != nil {
			return fmt.Errorf("failed to upload to Azure Blob: %w", err)
		}
		b.logger.Info("wrote records to Azure Blob",
			zap.String("account", b.account),
			zap.String("container", loc.Bucket),
			zap.String("blob", loc.Key),
		)
		return nil
	}

	return startUpload(ctx, loc.String(), "azure", b.metrics, upload), nil
}

func (b *AzureBackend) incErrors(op string) {
	if b.metrics != nil {
		b.metrics.IncStorageErrors("azure", op)
	}
}
