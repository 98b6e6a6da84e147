// Package pattern implements the glob-style filename and extension
// matching used by every protocol adapter after a directory listing
// is retrieved.
package pattern

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher compiles a glob pattern once and matches filenames against it.
type Matcher struct {
	re *regexp.Regexp
}

var cacheMu sync.RWMutex
var cache = make(map[string]*regexp.Regexp)

// Compile converts pattern into a Matcher. Empty pattern or "*" match
// anything. '*' becomes ".*", '?' becomes ".", every other character
// is escaped literally. The resulting regex is anchored and
// case-insensitive.
func Compile(pattern string) *Matcher {
	cacheMu.RLock()
	re, ok := cache[pattern]
	cacheMu.RUnlock()
	if ok {
		return &Matcher{re: re}
	}

	re = compile(pattern)

	cacheMu.Lock()
	cache[pattern] = re
	cacheMu.Unlock()

	return &Matcher{re: re}
}

func compile(pattern string) *regexp.Regexp {
	if pattern == "" || pattern == "*" {
		return regexp.MustCompile(`(?i)^.*$`)
	}

	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// Match reports whether filename satisfies the pattern.
func (m *Matcher) Match(filename string) bool {
	return m.re.MatchString(filename)
}

// Match is a convenience one-shot form of Compile(pattern).Match(filename).
func Match(filename, pattern string) bool {
	return Compile(pattern).Match(filename)
}

// MatchExtension compares filename's extension against want,
// case-insensitively, after stripping a leading '.' from want. An
// empty want matches any filename.
func MatchExtension(filename, want string) bool {
	want = strings.TrimPrefix(want, ".")
	if want == "" {
		return true
	}
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	got := filename[idx+1:]
	return strings.EqualFold(got, want)
}
