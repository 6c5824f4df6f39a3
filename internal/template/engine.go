// Package template implements the single-placeholder pattern substitution
// used for deterministic backend instance naming and addressing.
//
// Patterns contain exactly one {instance} placeholder, e.g. "gather-{instance}"
// or "{instance}:8080". Patterns are compiled once at startup so malformed
// configuration is rejected before the gateway accepts traffic.
package template

import (
	"fmt"
	"strings"
)

// Placeholder is the substitution marker recognized in patterns.
const Placeholder = "{instance}"

// Template is a compiled single-placeholder pattern.
type Template struct {
	pattern string
	prefix  string
	suffix  string
}

// Compile validates and compiles a pattern. The pattern must be non-empty
// and contain the {instance} placeholder exactly once.
func Compile(pattern string) (*Template, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("template pattern is empty")
	}

	switch n := strings.Count(pattern, Placeholder); {
	case n == 0:
		return nil, fmt.Errorf("template pattern %q does not contain %s", pattern, Placeholder)
	case n > 1:
		return nil, fmt.Errorf("template pattern %q contains %s %d times, expected once", pattern, Placeholder, n)
	}

	idx := strings.Index(pattern, Placeholder)
	return &Template{
		pattern: pattern,
		prefix:  pattern[:idx],
		suffix:  pattern[idx+len(Placeholder):],
	}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level defaults that are known to be well-formed.
func MustCompile(pattern string) *Template {
	t, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return t
}

// Expand substitutes the instance name into the pattern.
func (t *Template) Expand(instance string) string {
	return t.prefix + instance + t.suffix
}

// Pattern returns the original pattern string.
func (t *Template) Pattern() string {
	return t.pattern
}
