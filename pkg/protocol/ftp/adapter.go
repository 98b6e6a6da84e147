// Package ftp implements the FTP/FTPS protocol adapter: it lists a
// directory on a remote FTP server, filtering entries by filename glob
// and extension, using a secret-resolved password.
package ftp

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	goftp "github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/pattern"
	"github.com/ssw-platform/file-discovery-engine/pkg/secrets"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// Config carries the resolved connection parameters for one adapter
// instance. The factory builds this from types.FTPSettings plus the
// protocol's default timeouts. Only ConnectTimeout is applied (to the
// dial); OpTimeout is carried but not applied to listing or data
// transfers.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string // already resolved, never a secret reference

	ExplicitTLS bool
	PassiveMode bool

	ConnectTimeout time.Duration
	OpTimeout      time.Duration
}

// Adapter implements types.Adapter against a single FTP server. It is
// owned by exactly one in-flight execution; List/TestConnection/Close
// are not safe for concurrent use.
type Adapter struct {
	config Config
	logger *logrus.Logger
	conn   *goftp.ServerConn
}

// New creates an Adapter and dials the server, logging in with
// cfg.Password. The caller resolves the password secret before
// calling New — the adapter never talks to a SecretResolver itself.
func New(ctx context.Context, cfg Config, logger *logrus.Logger) (*Adapter, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	opts := []goftp.DialOption{
		goftp.DialWithTimeout(cfg.ConnectTimeout),
		goftp.DialWithContext(ctx),
	}
	if cfg.ExplicitTLS {
		opts = append(opts, goftp.DialWithExplicitTLS(&tls.Config{ServerName: cfg.Host}))
	}
	if !cfg.PassiveMode {
		// jlaffaye/ftp only speaks passive-mode data transfers; an
		// active-mode request falls back to PASV instead of EPSV, the
		// closest behavior the library exposes.
		opts = append(opts, goftp.DialWithDisabledEPSV(true))
	}

	conn, err := goftp.Dial(addr, opts...)
	if err != nil {
		return nil, errs.Classify("ftp", "dial", err)
	}

	if err := conn.Login(cfg.Username, cfg.Password); err != nil {
		conn.Quit()
		return nil, errs.Classify("ftp", "login", err)
	}

	return &Adapter{config: cfg, logger: logger, conn: conn}, nil
}

// List lists resolvedPath, skipping directory/link entries, and
// returns only entries matching namePattern and extension.
func (a *Adapter) List(ctx context.Context, resolvedPath, namePattern, extension string) ([]types.FileMetadata, error) {
	entries, err := a.conn.List(resolvedPath)
	if err != nil {
		return nil, errs.Classify("ftp", "list", err)
	}

	matcher := pattern.Compile(namePattern)

	var out []types.FileMetadata
	for _, e := range entries {
		if e.Type != goftp.EntryTypeFile {
			continue
		}
		if !matcher.Match(e.Name) || !pattern.MatchExtension(e.Name, extension) {
			continue
		}

		out = append(out, types.FileMetadata{
			Name:         e.Name,
			URL:          joinPath(resolvedPath, e.Name),
			SizeBytes:    int64(e.Size),
			LastModified: e.Time,
		})
	}
	return out, nil
}

func joinPath(dir, name string) string {
	dir = strings.TrimSuffix(dir, "/")
	return dir + "/" + name
}

// TestConnection verifies the control connection is still alive.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.conn.NoOp(); err != nil {
		return errs.Classify("ftp", "test_connection", err)
	}
	return nil
}

// Close logs out and closes the control connection.
func (a *Adapter) Close() error {
	return a.conn.Quit()
}

// ResolvePassword resolves cfg's password secret reference through
// resolver, returning the password to place in Config.Password
// ("anonymous" for anonymous login). Split from New so the
// factory can classify a secret-resolution failure as
// AuthenticationFailure rather than a dial error.
func ResolvePassword(ctx context.Context, settings types.FTPSettings, resolver secrets.Resolver) (string, error) {
	if settings.AuthType == types.AuthTypeAnonymous {
		return "anonymous", nil
	}
	password, err := resolver.Resolve(ctx, settings.PasswordRef)
	if err != nil {
		return "", errs.Wrap(errs.CategoryAuthenticationFailure, "ftp", "resolve_password", err)
	}
	return password, nil
}
