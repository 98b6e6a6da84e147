package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	instant := time.Date(2025, time.January, 24, 8, 0, 0, 0, time.UTC)

	cases := map[string]string{
		"/reports/{yyyy}/{mm}-{dd}.csv": "/reports/2025/01-24.csv",
		"/reports/{YYYY}/{MM}-{DD}.csv": "/reports/2025/01-24.csv",
		"{yy}{mm}{dd}.csv":              "250124.csv",
		"no-tokens.csv":                 "no-tokens.csv",
	}
	for pattern, want := range cases {
		assert.Equal(t, want, Resolve(pattern, instant), pattern)
	}
}

func TestResolveIsIdempotentWhenNoLiteralBraces(t *testing.T) {
	instant := time.Date(2025, time.January, 24, 8, 0, 0, 0, time.UTC)
	pattern := "/reports/{yyyy}/{mm}-{dd}.csv"
	once := Resolve(pattern, instant)
	twice := Resolve(once, instant)
	assert.Equal(t, once, twice)
}

func TestValidateRejectsUnsupportedTokens(t *testing.T) {
	err := Validate("/data/{year}/{mm}/{dd}.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{year}")
}

func TestValidateAcceptsSupportedTokens(t *testing.T) {
	require.NoError(t, Validate("/data/{yyyy}/{mm}/{dd}.csv"))
	require.NoError(t, Validate("no tokens here"))
}

func TestValidateHostRejectsTokenInHost(t *testing.T) {
	err := ValidateHost("https://{yyyy}.example.com/")
	require.Error(t, err)
}

func TestValidateHostAllowsTokenInPath(t *testing.T) {
	require.NoError(t, ValidateHost("https://example.com/reports/{yyyy}/{mm}-{dd}.csv"))
}

func TestValidateHostBareFTPHost(t *testing.T) {
	require.NoError(t, ValidateHost("ftp.example.com"))
	require.Error(t, ValidateHost("{yyyy}.example.com"))
}
