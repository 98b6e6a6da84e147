package protocol

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/circuit"
	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/protocol/azureblob"
	"github.com/ssw-platform/file-discovery-engine/pkg/protocol/ftp"
	"github.com/ssw-platform/file-discovery-engine/pkg/protocol/https"
	"github.com/ssw-platform/file-discovery-engine/pkg/retry"
	"github.com/ssw-platform/file-discovery-engine/pkg/secrets"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// protocolDefaults holds the connect timeout, op timeout, and retry
// policy assigned to each protocol.
type protocolDefaults struct {
	connectTimeout time.Duration
	opTimeout      time.Duration
	retryPolicy    retry.Policy
}

var defaultsByProtocol = map[types.Protocol]protocolDefaults{
	types.ProtocolFTP: {
		connectTimeout: 30 * time.Second,
		opTimeout:      120 * time.Second,
		retryPolicy:    retry.Policy{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2.0, JitterFrac: 0.2},
	},
	types.ProtocolHTTPS: {
		connectTimeout: 30 * time.Second,
		opTimeout:      90 * time.Second,
		retryPolicy:    retry.Policy{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0, JitterFrac: 0.2},
	},
	types.ProtocolAzure: {
		connectTimeout: 30 * time.Second,
		opTimeout:      60 * time.Second,
		retryPolicy:    retry.Policy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 20 * time.Second, Multiplier: 2.0, JitterFrac: 0.2},
	},
}

// Factory builds the protocol adapter for a configuration, injecting a
// SecretResolver, a shared HttpClientPool, and a per-(tenantId,
// configId) circuit breaker from a shared circuit.Registry.
type Factory struct {
	resolver   secrets.Resolver
	httpPool   *HttpClientPool
	breakers   *circuit.Registry
	logger     *logrus.Logger
}

// NewFactory creates a Factory. breakers is shared across the whole
// process so a configuration's breaker state survives across
// executions, per SPEC_FULL.md's per-configuration circuit breaker
// enrichment.
func NewFactory(resolver secrets.Resolver, breakers *circuit.Registry, logger *logrus.Logger) *Factory {
	return &Factory{
		resolver: resolver,
		httpPool: NewHttpClientPool(),
		breakers: breakers,
		logger:   logger,
	}
}

// Build constructs the adapter for config, resolving its credential
// secret and opening a fresh connection (FTP) or client (Azure Blob);
// HTTPS adapters share a pooled *http.Client from the factory's
// HttpClientPool. The returned adapter is owned by the caller for the lifetime
// of a single execution; Build never reuses a prior adapter instance.
func (f *Factory) Build(ctx context.Context, config types.RetrievalConfiguration) (types.Adapter, error) {
	defaults, ok := defaultsByProtocol[config.Protocol]
	if !ok {
		return nil, &ErrUnsupportedProtocol{Protocol: string(config.Protocol)}
	}

	switch config.Protocol {
	case types.ProtocolFTP:
		return f.buildFTP(ctx, config, defaults)
	case types.ProtocolHTTPS:
		return f.buildHTTPS(ctx, config, defaults)
	case types.ProtocolAzure:
		return f.buildAzure(ctx, config)
	default:
		return nil, &ErrUnsupportedProtocol{Protocol: string(config.Protocol)}
	}
}

func (f *Factory) buildFTP(ctx context.Context, config types.RetrievalConfiguration, defaults protocolDefaults) (types.Adapter, error) {
	settings := config.Settings.FTP
	if settings == nil {
		return nil, errs.New(errs.CategoryConfigurationError, "protocol", "build",
			"ftp protocol selected but no FTP settings present")
	}

	password, err := ftp.ResolvePassword(ctx, *settings, f.resolver)
	if err != nil {
		return nil, err
	}

	cfg := ftp.Config{
		Host:           settings.Host,
		Port:           settings.Port,
		Username:       settings.Username,
		Password:       password,
		ExplicitTLS:    settings.Explicit,
		PassiveMode:    settings.PassiveMode,
		ConnectTimeout: defaults.connectTimeout,
		OpTimeout:      defaults.opTimeout,
	}
	return ftp.New(ctx, cfg, f.logger)
}

func (f *Factory) buildHTTPS(ctx context.Context, config types.RetrievalConfiguration, defaults protocolDefaults) (types.Adapter, error) {
	settings := config.Settings.HTTPS
	if settings == nil {
		return nil, errs.New(errs.CategoryConfigurationError, "protocol", "build",
			"https protocol selected but no HTTPS settings present")
	}

	secret, err := https.ResolveSecret(ctx, *settings, f.resolver)
	if err != nil {
		return nil, err
	}

	cfg := https.Config{
		BaseURL:  settings.BaseURL,
		AuthType: settings.AuthType,
		Username: settings.Username,
		Secret:   secret,
		Headers:  settings.Headers,
		Timeout:  defaults.opTimeout,
	}

	client := f.httpPool.Get(defaults.connectTimeout, settings.InsecureTLS)
	return https.New(cfg, client, f.logger), nil
}

func (f *Factory) buildAzure(ctx context.Context, config types.RetrievalConfiguration) (types.Adapter, error) {
	settings := config.Settings.Azure
	if settings == nil {
		return nil, errs.New(errs.CategoryConfigurationError, "protocol", "build",
			"azure_blob protocol selected but no Azure settings present")
	}

	credential, err := azureblob.ResolveCredential(ctx, *settings, f.resolver)
	if err != nil {
		return nil, err
	}

	cfg := azureblob.Config{
		AccountName: settings.AccountName,
		Container:   settings.Container,
		BlobPrefix:  settings.BlobPrefix,
		AuthType:    settings.AuthType,
	}
	switch settings.AuthType {
	case types.AuthTypeConnectionString:
		cfg.ConnectionString = credential
	case types.AuthTypeSAS:
		cfg.SASToken = credential
	}

	return azureblob.New(cfg, f.logger)
}

// Breaker returns the circuit breaker guarding config's adapter
// construction and list path.
func (f *Factory) Breaker(tenantID, configID string) *circuit.Breaker {
	return f.breakers.Get(tenantID, configID)
}
