// Package https implements the HTTPS protocol adapter: a GET against
// baseUrl+resolvedPath that either returns a JSON array of file
// descriptions or describes a single file at that URL.
package https

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/pattern"
	"github.com/ssw-platform/file-discovery-engine/pkg/secrets"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// Config carries the resolved connection parameters for one adapter
// instance.
type Config struct {
	BaseURL  string
	AuthType types.AuthType
	Username string
	Secret   string // resolved password, bearer token, or API key; empty for AuthTypeAnonymous (None)

	Headers map[string]string
	Timeout time.Duration
}

// listEntry is the shape of one element in a JSON array response.
type listEntry struct {
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType"`
	ETag         string    `json:"etag"`
}

// Adapter implements types.Adapter over a pooled *http.Client.
type Adapter struct {
	config Config
	client *http.Client
	logger *logrus.Logger
}

// New creates an Adapter using client, which callers obtain from a
// shared pkg/protocol.HttpClientPool so every configuration sharing a
// timeout reuses one underlying transport.
func New(cfg Config, client *http.Client, logger *logrus.Logger) *Adapter {
	return &Adapter{config: cfg, client: client, logger: logger}
}

func (a *Adapter) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}

	switch a.config.AuthType {
	case types.AuthTypeBasic:
		req.SetBasicAuth(a.config.Username, a.config.Secret)
	case types.AuthTypeBearer:
		req.Header.Set("Authorization", "Bearer "+a.config.Secret)
	case types.AuthTypeAPIKey:
		req.Header.Set("X-API-Key", a.config.Secret)
	}
	return req, nil
}

// List GETs baseUrl+resolvedPath and parses the response as either a
// JSON array of entries or a single described file, filtering by
// namePattern and extension.
func (a *Adapter) List(ctx context.Context, resolvedPath, namePattern, extension string) ([]types.FileMetadata, error) {
	url := joinURL(a.config.BaseURL, resolvedPath)

	req, err := a.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errs.Wrap(errs.CategoryUnknown, "https", "list", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errs.Classify("https", "list", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		category := errs.ClassifyHTTPStatus(resp.StatusCode)
		return nil, errs.New(category, "https", "list",
			fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, url))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.CategoryConnectionTimeout, "https", "list", err)
	}

	matcher := pattern.Compile(namePattern)

	var entries []listEntry
	if err := json.Unmarshal(body, &entries); err == nil {
		return filterEntries(entries, matcher, extension), nil
	}

	// Not a JSON array: treat the response as describing a single file
	// at the requested URL.
	name := lastSegment(url)
	if !matcher.Match(name) || !pattern.MatchExtension(name, extension) {
		return nil, nil
	}
	return []types.FileMetadata{{
		Name:      name,
		URL:       url,
		SizeBytes: int64(len(body)),
	}}, nil
}

func filterEntries(entries []listEntry, matcher *pattern.Matcher, extension string) []types.FileMetadata {
	var out []types.FileMetadata
	for _, e := range entries {
		if !matcher.Match(e.Name) || !pattern.MatchExtension(e.Name, extension) {
			continue
		}
		out = append(out, types.FileMetadata{
			Name:         e.Name,
			URL:          e.URL,
			SizeBytes:    e.Size,
			LastModified: e.LastModified,
			ProtocolMetadata: map[string]string{
				"contentType": e.ContentType,
				"etag":        e.ETag,
			},
		})
	}
	return out
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func lastSegment(url string) string {
	idx := strings.LastIndex(url, "/")
	if idx < 0 {
		return url
	}
	return url[idx+1:]
}

// TestConnection issues a HEAD against the base URL.
func (a *Adapter) TestConnection(ctx context.Context) error {
	req, err := a.newRequest(ctx, http.MethodHead, a.config.BaseURL)
	if err != nil {
		return errs.Wrap(errs.CategoryUnknown, "https", "test_connection", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return errs.Classify("https", "test_connection", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errs.New(errs.ClassifyHTTPStatus(resp.StatusCode), "https", "test_connection",
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// Close is a no-op: the client is owned and pooled by the caller.
func (a *Adapter) Close() error { return nil }

// ResolveSecret resolves settings' password or token secret reference
// according to its AuthType. None and ApiKey-without-a-ref auth need
// no secret and return an empty string.
func ResolveSecret(ctx context.Context, settings types.HTTPSSettings, resolver secrets.Resolver) (string, error) {
	var ref string
	switch settings.AuthType {
	case types.AuthTypeBasic:
		ref = settings.PasswordRef
	case types.AuthTypeBearer, types.AuthTypeAPIKey:
		ref = settings.TokenRef
	default:
		return "", nil
	}
	if ref == "" {
		return "", nil
	}

	value, err := resolver.Resolve(ctx, ref)
	if err != nil {
		return "", errs.Wrap(errs.CategoryAuthenticationFailure, "https", "resolve_secret", err)
	}
	return value, nil
}
