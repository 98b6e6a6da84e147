package azureblob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/secrets"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

func TestCombineJoinsSingleSlash(t *testing.T) {
	assert.Equal(t, "inbound/2025", combine("inbound/", "/2025"))
	assert.Equal(t, "2025", combine("", "/2025/"))
	assert.Equal(t, "inbound", combine("/inbound", ""))
}

func TestBaseNameStripsDirectories(t *testing.T) {
	assert.Equal(t, "file.csv", baseName("inbound/2025/file.csv"))
	assert.Equal(t, "file.csv", baseName("file.csv"))
}

func TestResolveCredentialManagedIdentitySkipsResolver(t *testing.T) {
	settings := types.AzureSettings{AuthType: types.AuthType("")}
	value, err := ResolveCredential(context.Background(), settings, secrets.StaticResolver{})
	require.NoError(t, err)
	assert.Empty(t, value)
}

func TestResolveCredentialSAS(t *testing.T) {
	settings := types.AzureSettings{AuthType: types.AuthTypeSAS, SASTokenRef: "env:SAS"}
	resolver := secrets.StaticResolver{Values: map[string]string{"env:SAS": "sv=2024&sig=abc"}}

	value, err := ResolveCredential(context.Background(), settings, resolver)
	require.NoError(t, err)
	assert.Equal(t, "sv=2024&sig=abc", value)
}

func TestResolveCredentialMissingReferenceIsAuthFailure(t *testing.T) {
	settings := types.AzureSettings{AuthType: types.AuthTypeConnectionString, ConnectionStringRef: "env:MISSING"}
	_, err := ResolveCredential(context.Background(), settings, secrets.StaticResolver{})
	require.Error(t, err)

	de, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CategoryAuthenticationFailure, de.Category)
}
