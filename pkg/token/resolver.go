// Package token resolves the date tokens supported in a retrieval
// configuration's path/filename patterns, and validates that no token
// leaks into the host portion of an address.
package token

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
)

// supported tokens, case-insensitive, with their replacement functions.
var supported = map[string]func(time.Time) string{
	"{yyyy}": func(t time.Time) string { return fmt.Sprintf("%04d", t.Year()) },
	"{yy}":   func(t time.Time) string { return fmt.Sprintf("%02d", t.Year()%100) },
	"{mm}":   func(t time.Time) string { return fmt.Sprintf("%02d", int(t.Month())) },
	"{dd}":   func(t time.Time) string { return fmt.Sprintf("%02d", t.Day()) },
}

var tokenPattern = regexp.MustCompile(`\{[^{}]*\}`)

// Resolve replaces every supported token in pattern with its value
// derived from instant, which must already be in the configuration's
// timezone (the caller converts via instant.In(loc) before calling).
// Resolve is pure: it never validates — call Validate first.
func Resolve(pattern string, instant time.Time) string {
	return tokenPattern.ReplaceAllStringFunc(pattern, func(tok string) string {
		lower := strings.ToLower(tok)
		if fn, ok := supported[lower]; ok {
			return fn(instant)
		}
		return tok
	})
}

// Validate checks that every curly-brace token in pattern is one of
// the supported tokens. It returns a *errs.DiscoveryError with
// CategoryConfigurationError naming every unsupported token found.
func Validate(pattern string) error {
	var unsupported []string
	for _, tok := range tokenPattern.FindAllString(pattern, -1) {
		lower := strings.ToLower(tok)
		if _, ok := supported[lower]; !ok {
			unsupported = append(unsupported, tok)
		}
	}
	if len(unsupported) > 0 {
		return errs.New(errs.CategoryConfigurationError, "token", "validate",
			fmt.Sprintf("unsupported token(s): %s", strings.Join(unsupported, ", "))).
			WithMetadata("tokens", unsupported)
	}
	return nil
}

// ValidateHost checks that rawURL's host portion contains no date
// token. It is used to reject configurations whose FTP server or
// HTTPS/Azure base address would resolve differently every day.
func ValidateHost(rawURL string) error {
	host := hostPortion(rawURL)
	if tokenPattern.MatchString(host) {
		return errs.New(errs.CategoryConfigurationError, "token", "validate_host",
			"host cannot contain date tokens").WithMetadata("host", host)
	}
	return nil
}

// hostPortion extracts the host to check for tokens. rawURL may be a
// bare hostname (FTP server field) or a full URL (HTTPS baseUrl,
// Azure storage account).
func hostPortion(rawURL string) string {
	if i := strings.Index(rawURL, "://"); i >= 0 {
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			return u.Host
		}
		// url.Parse rejects a host containing '{', so drop the scheme by
		// hand and let the bare-host handling below find the host.
		rawURL = rawURL[i+len("://"):]
	}
	// Bare host[:port], possibly with a path already appended by mistake.
	if idx := strings.IndexAny(rawURL, "/\\"); idx >= 0 {
		return rawURL[:idx]
	}
	return rawURL
}
