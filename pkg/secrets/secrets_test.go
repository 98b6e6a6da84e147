package secrets

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvResolverResolvesWithPrefix(t *testing.T) {
	os.Setenv("SECRETS_TEST_FOO", "bar")
	defer os.Unsetenv("SECRETS_TEST_FOO")

	r := NewEnvResolver(time.Minute, logrus.New())
	defer r.Close()

	v, err := r.Resolve(context.Background(), "env:SECRETS_TEST_FOO")
	require.NoError(t, err)
	assert.Equal(t, "bar", v)
}

func TestEnvResolverResolvesBareName(t *testing.T) {
	os.Setenv("SECRETS_TEST_BARE", "baz")
	defer os.Unsetenv("SECRETS_TEST_BARE")

	r := NewEnvResolver(time.Minute, logrus.New())
	defer r.Close()

	v, err := r.Resolve(context.Background(), "SECRETS_TEST_BARE")
	require.NoError(t, err)
	assert.Equal(t, "baz", v)
}

func TestEnvResolverMissingVariable(t *testing.T) {
	r := NewEnvResolver(time.Minute, logrus.New())
	defer r.Close()

	_, err := r.Resolve(context.Background(), "env:SECRETS_TEST_DOES_NOT_EXIST")
	require.Error(t, err)
}

func TestEnvResolverCachesAcrossUnset(t *testing.T) {
	os.Setenv("SECRETS_TEST_CACHED", "initial")
	r := NewEnvResolver(time.Minute, logrus.New())
	defer r.Close()

	v, err := r.Resolve(context.Background(), "env:SECRETS_TEST_CACHED")
	require.NoError(t, err)
	assert.Equal(t, "initial", v)

	os.Unsetenv("SECRETS_TEST_CACHED")

	v, err = r.Resolve(context.Background(), "env:SECRETS_TEST_CACHED")
	require.NoError(t, err)
	assert.Equal(t, "initial", v)
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{Values: map[string]string{"ref-a": "value-a"}}

	v, err := r.Resolve(context.Background(), "ref-a")
	require.NoError(t, err)
	assert.Equal(t, "value-a", v)

	_, err = r.Resolve(context.Background(), "missing")
	require.Error(t, err)
}
