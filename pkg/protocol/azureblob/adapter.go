// Package azureblob implements the Azure Blob Storage protocol adapter:
// blob enumeration under a container prefix, with Managed Identity,
// connection-string, and SAS-token authentication.
package azureblob

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/pattern"
	"github.com/ssw-platform/file-discovery-engine/pkg/secrets"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// Config carries the resolved connection parameters for one adapter
// instance.
type Config struct {
	AccountName      string
	Container        string
	BlobPrefix       string
	AuthType         types.AuthType
	ConnectionString string // resolved, AuthTypeConnectionString
	SASToken         string // resolved, AuthTypeSAS
}

// Adapter implements types.Adapter against one Azure Storage container.
type Adapter struct {
	config Config
	client *azblob.Client
	logger *logrus.Logger
}

// New creates an Adapter, selecting the credential type from
// cfg.AuthType. Managed Identity is the default.
func New(cfg Config, logger *logrus.Logger) (*Adapter, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Adapter{config: cfg, client: client, logger: logger}, nil
}

func newClient(cfg Config) (*azblob.Client, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)

	switch cfg.AuthType {
	case types.AuthTypeConnectionString:
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, errs.Classify("azureblob", "new_client", err)
		}
		return client, nil

	case types.AuthTypeSAS:
		url := serviceURL + "?" + strings.TrimPrefix(cfg.SASToken, "?")
		client, err := azblob.NewClientWithNoCredential(url, nil)
		if err != nil {
			return nil, errs.Classify("azureblob", "new_client", err)
		}
		return client, nil

	default: // Managed Identity
		cred, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, errs.Wrap(errs.CategoryAuthenticationFailure, "azureblob", "new_client", err)
		}
		client, err := azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, errs.Classify("azureblob", "new_client", err)
		}
		return client, nil
	}
}

// List enumerates blobs under combine(blobPrefix, resolvedPath),
// filtering by namePattern and extension against the blob's base name.
func (a *Adapter) List(ctx context.Context, resolvedPath, namePattern, extension string) ([]types.FileMetadata, error) {
	prefix := combine(a.config.BlobPrefix, resolvedPath)
	matcher := pattern.Compile(namePattern)

	var out []types.FileMetadata
	pager := a.client.NewListBlobsFlatPager(a.config.Container, &container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errs.Classify("azureblob", "list", err)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := baseName(*item.Name)
			if !matcher.Match(name) || !pattern.MatchExtension(name, extension) {
				continue
			}

			meta := types.FileMetadata{
				Name: name,
				URL:  fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s", a.config.AccountName, a.config.Container, *item.Name),
			}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					meta.SizeBytes = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					meta.LastModified = *item.Properties.LastModified
				}
				meta.ProtocolMetadata = map[string]string{}
				if item.Properties.ETag != nil {
					meta.ProtocolMetadata["etag"] = string(*item.Properties.ETag)
				}
				if item.Properties.ContentType != nil {
					meta.ProtocolMetadata["contentType"] = *item.Properties.ContentType
				}
				if item.Properties.ContentMD5 != nil {
					meta.ProtocolMetadata["contentHash"] = fmt.Sprintf("%x", item.Properties.ContentMD5)
				}
			}
			out = append(out, meta)
		}
	}
	return out, nil
}

// combine single-slash-joins prefix and path, trimming both sides.
func combine(prefix, path string) string {
	prefix = strings.Trim(prefix, "/")
	path = strings.Trim(path, "/")
	switch {
	case prefix == "":
		return path
	case path == "":
		return prefix
	default:
		return prefix + "/" + path
	}
}

func baseName(blobName string) string {
	idx := strings.LastIndex(blobName, "/")
	if idx < 0 {
		return blobName
	}
	return blobName[idx+1:]
}

// TestConnection checks the container exists and is reachable by
// fetching its properties.
func (a *Adapter) TestConnection(ctx context.Context) error {
	_, err := a.client.ServiceClient().NewContainerClient(a.config.Container).GetProperties(ctx, nil)
	if err != nil {
		return errs.Classify("azureblob", "test_connection", err)
	}
	return nil
}

// Close is a no-op: the SDK client holds no resources that require
// explicit release.
func (a *Adapter) Close() error { return nil }

// ResolveCredential resolves settings' secret reference (connection
// string or SAS token) according to its AuthType. Managed Identity
// needs no secret and returns an empty string.
func ResolveCredential(ctx context.Context, settings types.AzureSettings, resolver secrets.Resolver) (string, error) {
	var ref string
	switch settings.AuthType {
	case types.AuthTypeConnectionString:
		ref = settings.ConnectionStringRef
	case types.AuthTypeSAS:
		ref = settings.SASTokenRef
	default:
		return "", nil
	}

	value, err := resolver.Resolve(ctx, ref)
	if err != nil {
		return "", errs.Wrap(errs.CategoryAuthenticationFailure, "azureblob", "resolve_credential", err)
	}
	return value, nil
}
