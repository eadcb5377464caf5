// Package source provides the places artifacts are read from: a local
// directory or a prefix in an S3, GCS or Azure Blob bucket.
//
// Every Source returns names relative to its root, using forward slashes,
// in lexical order. Read takes such a name.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Source lists and reads artifact files.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	// String returns the URI the source was opened from.
	String() string
}

// Config holds credentials for the remote sources.
type Config struct {
	S3    S3Config    `koanf:"s3"`
	GCS   GCSConfig   `koanf:"gcs"`
	Azure AzureConfig `koanf:"azure"`
}

// S3Config configures S3 and S3-compatible object storage.
type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	KeyID     string `koanf:"key_id"`
	Secret    string `koanf:"secret"`
	PathStyle bool   `koanf:"path_style"`
}

// GCSConfig configures Google Cloud Storage.
type GCSConfig struct {
	// CredentialsFile is a service account key file. Application default
	// credentials are used when empty.
	CredentialsFile string `koanf:"credentials_file"`
	Endpoint        string `koanf:"endpoint"`
	Anonymous       bool   `koanf:"anonymous"`
}

// AzureConfig configures Azure Blob Storage. A connection string takes
// precedence over an account key.
type AzureConfig struct {
	AccountName      string `koanf:"account_name"`
	AccountKey       string `koanf:"account_key"`
	ConnectionString string `koanf:"connection_string"`
	Endpoint         string `koanf:"endpoint"`
}

// ErrUnsupportedScheme is returned by Open for an unknown URI scheme.
var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// Open returns the Source for uri. A plain path or file:// URI is a local
// directory; s3://, gs:// and az:// URIs name a bucket (or container) and
// an optional key prefix.
func Open(ctx context.Context, uri string, cfg Config) (Source, error) {
	scheme, bucket, prefix, err := parseURI(uri)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "", "file":
		return NewLocal(bucket + prefix)
	case "s3":
		return NewS3(bucket, prefix, cfg.S3)
	case "gs", "gcs":
		return NewGCS(ctx, bucket, prefix, cfg.GCS)
	case "az", "azblob":
		return NewAzure(bucket, prefix, cfg.Azure)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}

// parseURI splits uri into scheme, bucket and key prefix. For local paths
// the whole path is returned as bucket with an empty prefix.
func parseURI(uri string) (scheme, bucket, prefix string, err error) {
	if !strings.Contains(uri, "://") {
		return "", uri, "", nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("parse source %q: %w", uri, err)
	}
	scheme = strings.ToLower(u.Scheme)
	if scheme == "file" {
		return scheme, u.Host + u.Path, "", nil
	}
	if u.Host == "" {
		return "", "", "", fmt.Errorf("source %q has no bucket", uri)
	}
	return scheme, u.Host, normalizePrefix(u.Path), nil
}

// normalizePrefix turns "/a/b" into "a/b/" so that keys can be made
// relative by trimming it.
func normalizePrefix(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// relative strips prefix from key. Keys naming a directory marker are
// reported as not ok.
func relative(key, prefix string) (string, bool) {
	name := strings.TrimPrefix(key, prefix)
	if name == "" || strings.HasSuffix(name, "/") {
		return "", false
	}
	return name, true
}
