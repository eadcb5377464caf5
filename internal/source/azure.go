package source

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Azure reads artifacts below a blob prefix of an Azure storage container.
type Azure struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzure creates an Azure Blob source.
func NewAzure(container, prefix string, cfg AzureConfig) (*Azure, error) {
	client, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Azure{client: client, container: container, prefix: normalizePrefix(prefix)}, nil
}

func newAzureClient(cfg AzureConfig) (*azblob.Client, error) {
	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("create Azure blob client: %w", err)
		}
		return client, nil
	}

	serviceURL := cfg.Endpoint
	if serviceURL == "" {
		if cfg.AccountName == "" {
			return nil, fmt.Errorf("azure account_name or connection_string is required")
		}
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}

	if cfg.AccountKey == "" {
		client, err := azblob.NewClientWithNoCredential(serviceURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create Azure blob client: %w", err)
		}
		return client, nil
	}

	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return client, nil
}

func (a *Azure) String() string {
	return "az://" + a.container + "/" + a.prefix
}

// List pages through every blob below the prefix.
func (a *Azure) List(ctx context.Context) ([]string, error) {
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{
		Prefix: &a.prefix,
	})

	var names []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list az://%s/%s: %w", a.container, a.prefix, err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			if name, ok := relative(*item.Name, a.prefix); ok {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read downloads one blob.
func (a *Azure) Read(ctx context.Context, name string) ([]byte, error) {
	key := a.prefix + name
	resp, err := a.client.DownloadStream(ctx, a.container, key, nil)
	if err != nil {
		return nil, fmt.Errorf("get az://%s/%s: %w", a.container, key, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return io.ReadAll(resp.Body)
}
