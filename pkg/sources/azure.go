package sources

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
	v1 "github.com/djcass44/all-your-debs/pkg/api/v1"
	"github.com/djcass44/all-your-debs/pkg/airutil"
	"github.com/go-logr/logr"
)

// Azure serves the .deb blobs of an Azure storage container.
type Azure struct {
	base
	name      string
	prefix    string
	container azblob.ContainerURL
}

func NewAzure(_ context.Context, id string, spec v1.AzureSource, opts Options) (*Azure, error) {
	account := airutil.ExpandEnv(spec.AccountName)
	cred, err := azblob.NewSharedKeyCredential(account, airutil.ExpandEnv(spec.AccountKey))
	if err != nil {
		return nil, fmt.Errorf("creating azure credentials: %w", err)
	}
	endpoint := airutil.ExpandEnv(spec.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	}
	uri, err := url.Parse(strings.TrimSuffix(endpoint, "/") + "/" + spec.Container)
	if err != nil {
		return nil, fmt.Errorf("parsing azure endpoint: %w", err)
	}
	pipeline := azblob.NewPipeline(cred, azblob.PipelineOptions{
		Retry: azblob.RetryOptions{MaxTries: int32(opts.retries() + 1)},
	})
	return &Azure{
		base:      base{id: id, kind: KindAzure},
		name:      spec.Container,
		prefix:    spec.Prefix,
		container: azblob.NewContainerURL(*uri, pipeline),
	}, nil
}

func (s *Azure) List(ctx context.Context) ([]Candidate, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("source", s.id, "container", s.name, "prefix", s.prefix)

	var out []Candidate
	for marker := (azblob.Marker{}); marker.NotDone(); {
		listBlob, err := s.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix:     s.prefix,
			MaxResults: 1000,
		})
		if err != nil {
			return nil, fmt.Errorf("listing blobs under %s: %w", s.prefix, azureError(s.name, err))
		}
		marker = listBlob.NextMarker

		for _, blob := range listBlob.Segment.BlobItems {
			if !isDeb(blob.Name) {
				continue
			}
			out = append(out, Candidate{
				ID:       blob.Name,
				Revision: string(blob.Properties.Etag),
				Restore:  RestoreDescriptor{Kind: KindAzure, Bucket: s.name, Key: blob.Name},
			})
		}
		log.V(2).Info("read page of blobs", "count", len(listBlob.Segment.BlobItems))
	}
	return out, nil
}

func (s *Azure) Open(ctx context.Context, rd RestoreDescriptor) (io.ReadCloser, error) {
	if err := checkKind(rd, s.kind); err != nil {
		return nil, err
	}
	if rd.Bucket != s.name {
		return nil, fmt.Errorf("%w: container %s is not %s", ErrUnsupportedKind, rd.Bucket, s.name)
	}
	blob := s.container.NewBlockBlobURL(rd.Key)
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, azureError(rd.Bucket+"/"+rd.Key, err)
	}
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3}), nil
}

func azureError(target string, err error) error {
	storageError, ok := err.(azblob.StorageError)
	if !ok {
		return err
	}
	switch string(storageError.ServiceCode()) {
	case string(azblob.StorageErrorCodeBlobNotFound), string(azblob.StorageErrorCodeContainerNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, target, err)
	}
	if resp := storageError.Response(); resp != nil {
		return fmt.Errorf("%w: %w", &StatusError{URL: target, Code: resp.StatusCode}, err)
	}
	return err
}
