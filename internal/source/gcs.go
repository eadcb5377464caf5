package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS reads artifacts below an object prefix of a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS source.
func NewGCS(ctx context.Context, bucket, prefix string, cfg GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	switch {
	case cfg.Anonymous:
		opts = append(opts, option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: normalizePrefix(prefix)}, nil
}

func (g *GCS) String() string {
	return "gs://" + g.bucket + "/" + g.prefix
}

// List iterates every object below the prefix.
func (g *GCS) List(ctx context.Context) ([]string, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: g.prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", g.bucket, g.prefix, err)
		}
		if name, ok := relative(attrs.Name, g.prefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read downloads one object.
func (g *GCS) Read(ctx context.Context, name string) ([]byte, error) {
	key := g.prefix + name
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("get gs://%s/%s: %w", g.bucket, key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}
