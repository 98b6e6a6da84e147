package protocol

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-platform/file-discovery-engine/pkg/circuit"
	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/secrets"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

func newTestFactory() *Factory {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	resolver := secrets.StaticResolver{Values: map[string]string{
		"env:FTP_PASS": "swordfish",
	}}
	registry := circuit.NewRegistry(circuit.Config{}, logger)
	return NewFactory(resolver, registry, logger)
}

func TestBuildRejectsUnsupportedProtocol(t *testing.T) {
	f := newTestFactory()
	_, err := f.Build(context.Background(), types.RetrievalConfiguration{
		Protocol: types.Protocol("sftp"),
	})
	require.Error(t, err)

	var unsupported *ErrUnsupportedProtocol
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "sftp", unsupported.Protocol)
}

func TestBuildFTPRejectsMissingSettings(t *testing.T) {
	f := newTestFactory()
	_, err := f.Build(context.Background(), types.RetrievalConfiguration{
		Protocol: types.ProtocolFTP,
	})
	require.Error(t, err)

	de, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CategoryConfigurationError, de.Category)
}

func TestBuildHTTPSRejectsMissingSettings(t *testing.T) {
	f := newTestFactory()
	_, err := f.Build(context.Background(), types.RetrievalConfiguration{
		Protocol: types.ProtocolHTTPS,
	})
	require.Error(t, err)

	de, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CategoryConfigurationError, de.Category)
}

func TestBuildHTTPSSucceedsWithNoneAuth(t *testing.T) {
	f := newTestFactory()
	adapter, err := f.Build(context.Background(), types.RetrievalConfiguration{
		Protocol: types.ProtocolHTTPS,
		Settings: types.ProtocolSettings{
			HTTPS: &types.HTTPSSettings{BaseURL: "https://example.test"},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, adapter)
	assert.NoError(t, adapter.Close())
}

func TestBuildAzureRejectsMissingSettings(t *testing.T) {
	f := newTestFactory()
	_, err := f.Build(context.Background(), types.RetrievalConfiguration{
		Protocol: types.ProtocolAzure,
	})
	require.Error(t, err)

	de, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CategoryConfigurationError, de.Category)
}

func TestBreakerIsStableAcrossCalls(t *testing.T) {
	f := newTestFactory()
	a := f.Breaker("tenant-a", "config-1")
	b := f.Breaker("tenant-a", "config-1")
	assert.Same(t, a, b)
}
